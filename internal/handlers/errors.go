package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"shortsight/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Error type discriminators returned in JSON bodies.
const (
	typeValidation            = "validation_error"
	typeSlugTaken             = "slug_taken"
	typeSlugExhausted         = "slug_generation_exhausted"
	typeURLUnsafe             = "url_unsafe"
	typeRateLimited           = "rate_limited"
	typeNotFound              = "not_found"
	typeGone                  = "gone"
	typePremiumRequired       = "premium_required"
	typeForbidden             = "forbidden"
	typeUnauthenticated       = "unauthenticated"
	typeValidationUnavailable = "validation_service_unavailable"
	typeInvalidPassword       = "invalid_password"
	typeServerError           = "server_error"
)

type apiError struct {
	status   int
	typ      string
	message  string
	fields   map[string][]string
	warnings []string
}

func classify(err error) apiError {
	var verr *services.ValidationError
	var unsafe *services.UnsafeURLError
	var limited *services.RateLimitError

	switch {
	case errors.As(err, &verr):
		return apiError{status: http.StatusUnprocessableEntity, typ: typeValidation, message: "The given data was invalid.", fields: verr.Fields}
	case errors.Is(err, services.ErrSlugTaken):
		return apiError{status: http.StatusUnprocessableEntity, typ: typeSlugTaken, message: "This slug is already taken.",
			fields: map[string][]string{"customSlugInput": {"This slug is already taken."}}}
	case errors.Is(err, services.ErrSlugGenerationExhausted):
		return apiError{status: http.StatusServiceUnavailable, typ: typeSlugExhausted, message: "Could not generate a unique short link. Please try again."}
	case errors.As(err, &unsafe):
		return apiError{status: http.StatusUnprocessableEntity, typ: typeURLUnsafe, message: "The URL failed our safety checks.",
			fields: map[string][]string{"url": unsafe.Errors}, warnings: unsafe.Warnings}
	case errors.As(err, &limited):
		return apiError{status: http.StatusTooManyRequests, typ: typeRateLimited, message: limited.Error()}
	case errors.Is(err, services.ErrNotFound):
		return apiError{status: http.StatusNotFound, typ: typeNotFound, message: "The requested link was not found."}
	case errors.Is(err, services.ErrGone):
		return apiError{status: http.StatusGone, typ: typeGone, message: "This link has expired or been disabled."}
	case errors.Is(err, services.ErrPremiumRequired):
		return apiError{status: http.StatusForbidden, typ: typePremiumRequired, message: "This feature requires a premium account. Please upgrade to access password protection."}
	case errors.Is(err, services.ErrForbidden):
		return apiError{status: http.StatusForbidden, typ: typeForbidden, message: "You do not have permission to manage this link."}
	case errors.Is(err, services.ErrValidationUnavailable):
		return apiError{status: http.StatusServiceUnavailable, typ: typeValidationUnavailable, message: "URL validation is temporarily unavailable. Please try again."}
	case errors.Is(err, services.ErrInvalidPassword):
		return apiError{status: http.StatusUnauthorized, typ: typeInvalidPassword, message: "Invalid password."}
	default:
		return apiError{status: http.StatusInternalServerError, typ: typeServerError, message: "Something went wrong. Please try again later."}
	}
}

func newErrorID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ERR-" + time.Now().UTC().Format("20060102150405") + "-" + strings.ToUpper(id[:6])
}

func wantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "application/json") || c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// respondError writes err as JSON for API callers and as a rendered page for browsers.
func (h *Handler) respondError(c *gin.Context, err error) {
	ae := classify(err)

	var errorID string
	if ae.status >= http.StatusInternalServerError {
		errorID = newErrorID()
		h.logger.Error("Request failed", "error_id", errorID, "path", c.Request.URL.Path, "error", err)
	} else {
		h.logger.Debug("Request rejected", "type", ae.typ, "path", c.Request.URL.Path, "error", err)
	}

	if wantsJSON(c) {
		body := gin.H{"success": false, "message": ae.message, "type": ae.typ}
		if len(ae.fields) > 0 {
			body["errors"] = ae.fields
		}
		if len(ae.warnings) > 0 {
			body["warnings"] = ae.warnings
		}
		if errorID != "" {
			body["error_id"] = errorID
		}
		c.AbortWithStatusJSON(ae.status, body)
		return
	}

	page := "error.html"
	switch ae.status {
	case http.StatusNotFound:
		page = "404.html"
	case http.StatusGone:
		page = "410.html"
	}
	c.HTML(ae.status, page, gin.H{"Status": ae.status, "Message": ae.message, "ErrorID": errorID})
	c.Abort()
}

func (h *Handler) unauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": "Authentication is required.",
		"type":    typeUnauthenticated,
	})
}
