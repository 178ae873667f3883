package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"shortsight/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID  = "user_id"
	ctxPremium = "premium"
)

// Claims are the bearer token claims issued by the account service. The subject is the user id.
type Claims struct {
	Premium bool `json:"premium"`
	jwt.RegisteredClaims
}

func (h *Handler) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(h.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// OptionalAuth identifies the caller from a bearer token or the session without requiring either.
// A bearer token that is present but invalid is rejected.
func (h *Handler) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader("Authorization"); header != "" {
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || h.cfg.JWTSecret == "" {
				h.unauthenticated(c)
				return
			}
			claims, err := h.parseToken(strings.TrimSpace(raw))
			if err != nil {
				h.logger.Debug("Rejected bearer token", "error", err)
				h.unauthenticated(c)
				return
			}
			id, err := strconv.ParseUint(claims.Subject, 10, 64)
			if err != nil {
				h.unauthenticated(c)
				return
			}
			c.Set(ctxUserID, uint(id))
			c.Set(ctxPremium, claims.Premium)
			c.Next()
			return
		}

		session := sessions.Default(c)
		if uid, ok := session.Get(ctxUserID).(uint); ok {
			c.Set(ctxUserID, uid)
			premium, _ := session.Get(ctxPremium).(bool)
			c.Set(ctxPremium, premium)
		}
		c.Next()
	}
}

// AuthRequired rejects callers that OptionalAuth could not identify.
func (h *Handler) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c) == nil {
			h.unauthenticated(c)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *uint {
	if v, ok := c.Get(ctxUserID); ok {
		if id, ok := v.(uint); ok {
			return &id
		}
	}
	return nil
}

func isPremium(c *gin.Context) bool {
	return c.GetBool(ctxPremium)
}

func creationSignature(c *gin.Context) string {
	return services.Signature("link_creation", c.ClientIP())
}

func requestSignature(c *gin.Context) string {
	return services.Signature(c.Request.Method, c.ClientIP(), c.Request.URL.Path)
}

func setRateLimitHeaders(c *gin.Context, d services.Decision) {
	if d.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		c.Header("Retry-After", strconv.FormatInt(d.RetryAfterSeconds(), 10))
	}
}

// RateLimitMiddleware applies policy to requests keyed by signature.
func (h *Handler) RateLimitMiddleware(policy services.Policy, signature func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := h.limiter.Attempt(c.Request.Context(), policy, signature(c))
		setRateLimitHeaders(c, d)
		if d.Allowed {
			c.Next()
			return
		}

		h.logger.Warn("Rate limit exceeded", "action", policy.Action, "window", d.Window, "ip", c.ClientIP(), "path", c.Request.URL.Path)
		err := &services.RateLimitError{Decision: d}
		if !wantsJSON(c) {
			h.respondError(c, err)
			return
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":     false,
			"type":        typeRateLimited,
			"message":     err.Error(),
			"error":       d.ErrorCode,
			"retry_after": d.RetryAfterSeconds(),
			"limit":       d.LimitDescription,
		})
	}
}

func bindError(err error) error {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	return services.NewValidationError("body", "The request body could not be parsed.")
}
