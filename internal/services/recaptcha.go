package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const RecaptchaAction = "shorten_url"

// CaptchaVerifier checks a client token for a given action.
type CaptchaVerifier interface {
	Enabled() bool
	Verify(ctx context.Context, token, action string) error
}

// RecaptchaService validates reCAPTCHA v3 tokens against the siteverify endpoint.
type RecaptchaService struct {
	secret    string
	endpoint  string
	threshold float64
	client    *http.Client
	logger    *slog.Logger
}

func NewRecaptchaService(secret, endpoint string, threshold float64, logger *slog.Logger) *RecaptchaService {
	if threshold <= 0 {
		threshold = 0.5
	}
	return &RecaptchaService{
		secret:    secret,
		endpoint:  endpoint,
		threshold: threshold,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

func (s *RecaptchaService) Enabled() bool {
	return s.secret != ""
}

type siteverifyResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	ErrorCodes  []string `json:"error-codes"`
}

func captchaError(msg string) *ValidationError {
	return NewValidationError("recaptcha_token", msg)
}

// Verify returns a *ValidationError when the token is missing, invalid, for another action, or
// scored below the threshold.
func (s *RecaptchaService) Verify(ctx context.Context, token, action string) error {
	if token == "" {
		return captchaError("reCAPTCHA verification is required.")
	}

	form := url.Values{"secret": {s.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("reCAPTCHA API error", "action", action, "error", err)
		return captchaError("reCAPTCHA service unavailable.")
	}
	defer resp.Body.Close()

	var result siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		s.logger.Error("reCAPTCHA response undecodable", "status", resp.StatusCode, "error", err)
		return captchaError("reCAPTCHA service unavailable.")
	}

	switch {
	case !result.Success:
		s.logger.Warn("reCAPTCHA validation failed", "errors", result.ErrorCodes, "action", action)
		return captchaError("reCAPTCHA validation failed.")
	case result.Action != action:
		s.logger.Warn("reCAPTCHA action mismatch", "expected", action, "received", result.Action)
		return captchaError("reCAPTCHA action mismatch.")
	case result.Score < s.threshold:
		s.logger.Warn("reCAPTCHA score below threshold", "score", result.Score, "threshold", s.threshold, "action", action)
		return captchaError(fmt.Sprintf("reCAPTCHA score too low (%.1f).", result.Score))
	}
	return nil
}
