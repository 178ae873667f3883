package utils

import (
	"crypto/rand"
	"math/big"
)

const Alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomString returns a string of length characters drawn uniformly from alphabet using crypto/rand.
func RandomString(length int, alphabet string) (string, error) {
	b := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphabet[n.Int64()]
	}
	return string(b), nil
}

// GenerateShortCode generates a random alphanumeric string of fixed length
func GenerateShortCode(length int) (string, error) {
	return RandomString(length, Alphanumeric)
}
