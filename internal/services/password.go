package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"shortsight/pkg/utils"

	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultPepperPlaceholder = "default_pepper_change_this_in_production"
	MinBcryptCost            = 12
	saltLength               = 32
)

// PasswordService hashes link-access passwords as bcrypt(password || salt || pepper).
type PasswordService struct {
	pepper string
	cost   int
}

func NewPasswordService(pepper string, cost int) (*PasswordService, error) {
	if pepper == "" || pepper == DefaultPepperPlaceholder {
		return nil, ErrWeakPepper
	}
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d exceeds maximum %d", cost, bcrypt.MaxCost)
	}
	return &PasswordService{pepper: pepper, cost: cost}, nil
}

// prehash folds the input to a fixed 44 bytes so long passwords and peppers stay under
// bcrypt's 72 byte limit.
func (p *PasswordService) prehash(password, salt string) []byte {
	sum := sha256.Sum256([]byte(password + salt + p.pepper))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

func (p *PasswordService) Hash(password string) (hash string, salt string, err error) {
	salt, err = utils.RandomString(saltLength, utils.Alphanumeric)
	if err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword(p.prehash(password, salt), p.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), salt, nil
}

func (p *PasswordService) Verify(password, hash, salt string) bool {
	if hash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), p.prehash(password, salt))
	return err == nil
}

// Grant fingerprints a stored hash with the pepper. A session holding the grant for a link's
// current hash has passed that link's password check; a new password, a recreated link or a
// rotated pepper all change the grant.
func (p *PasswordService) Grant(hash string) string {
	if hash == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(p.pepper))
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Granted reports whether grant was issued for hash.
func (p *PasswordService) Granted(grant, hash string) bool {
	if grant == "" || hash == "" {
		return false
	}
	return hmac.Equal([]byte(grant), []byte(p.Grant(hash)))
}

// NeedsRehash reports whether hash was produced with a lower work factor than configured.
func (p *PasswordService) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return false
	}
	return cost < p.cost
}
