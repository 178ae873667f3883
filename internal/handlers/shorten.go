package handlers

import (
	"net/http"
	"time"

	"shortsight/internal/models"
	"shortsight/internal/services"

	"github.com/gin-gonic/gin"
)

type ShortenRequest struct {
	URL               string `json:"url" form:"url"`
	CustomSlugInput   string `json:"customSlugInput" form:"customSlugInput"`
	CustomSlug        bool   `json:"customSlug" form:"customSlug"`
	Password          string `json:"password" form:"password"`
	RecaptchaToken    string `json:"recaptcha_token" form:"recaptcha_token"`
	ExpiresInHours    *int   `json:"expires_in_hours" form:"expires_in_hours"`
	AutoDeleteExpired bool   `json:"auto_delete_expired" form:"auto_delete_expired"`
	Title             string `json:"title" form:"title"`
	Description       string `json:"description" form:"description"`
}

type UpdateLinkRequest struct {
	URL               *string    `json:"url"`
	Title             *string    `json:"title"`
	Description       *string    `json:"description"`
	Disabled          *bool      `json:"disabled"`
	ExpiresAt         *time.Time `json:"expires_at"`
	ClearExpiry       bool       `json:"clear_expiry"`
	AutoDeleteExpired *bool      `json:"auto_delete_expired"`
	Password          *string    `json:"password"`
}

type LinkResponse struct {
	Slug                string     `json:"slug"`
	ShortURL            string     `json:"short_url"`
	OriginalURL         string     `json:"original_url"`
	Title               string     `json:"title,omitempty"`
	Description         string     `json:"description,omitempty"`
	IsDisabled          bool       `json:"is_disabled"`
	IsPasswordProtected bool       `json:"is_password_protected"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	AutoDeleteExpired   bool       `json:"auto_delete_expired"`
	ClickCount          *int64     `json:"click_count,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (h *Handler) linkResponse(c *gin.Context, link *models.Link) LinkResponse {
	resp := LinkResponse{
		Slug:                link.Slug,
		ShortURL:            h.shortURL(link.Slug),
		OriginalURL:         link.URL,
		Title:               link.Title,
		Description:         link.Description,
		IsDisabled:          link.IsDisabled,
		IsPasswordProtected: link.IsPasswordProtected,
		ExpiresAt:           link.ExpiresAt,
		AutoDeleteExpired:   link.AutoDeleteExpired,
		CreatedAt:           link.CreatedAt,
		UpdatedAt:           link.UpdatedAt,
	}
	if n, ok := h.linkCache.GetClickCount(c.Request.Context(), link.Slug); ok {
		resp.ClickCount = &n
	}
	return resp
}

// ShortenURL handles POST /api/links.
func (h *Handler) ShortenURL(c *gin.Context) {
	var req ShortenRequest
	if err := c.ShouldBind(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}

	link, err := h.shortenerService.CreateShortURL(c.Request.Context(), services.ShortenDTO{
		URL:               req.URL,
		CustomSlug:        req.CustomSlugInput,
		UseCustomSlug:     req.CustomSlug,
		Password:          req.Password,
		RecaptchaToken:    req.RecaptchaToken,
		ExpiresInHours:    req.ExpiresInHours,
		AutoDeleteExpired: req.AutoDeleteExpired,
		Title:             req.Title,
		Description:       req.Description,
		OwnerID:           currentUser(c),
		Premium:           isPremium(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"slug":         link.Slug,
		"short_url":    h.shortURL(link.Slug),
		"original_url": link.URL,
	})
}

// UpdateLink handles PATCH /api/links/:slug.
func (h *Handler) UpdateLink(c *gin.Context) {
	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, bindError(err))
		return
	}

	link, err := h.shortenerService.UpdateLink(c.Request.Context(), c.Param("slug"), currentUser(c), isPremium(c), services.LinkUpdate{
		URL:               req.URL,
		Title:             req.Title,
		Description:       req.Description,
		Disabled:          req.Disabled,
		ExpiresAt:         req.ExpiresAt,
		ClearExpiry:       req.ClearExpiry,
		AutoDeleteExpired: req.AutoDeleteExpired,
		Password:          req.Password,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.linkResponse(c, link))
}

// DeleteLink handles DELETE /api/links/:slug.
func (h *Handler) DeleteLink(c *gin.Context) {
	if err := h.shortenerService.DeleteLink(c.Request.Context(), c.Param("slug"), currentUser(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CheckSlug(c *gin.Context) {
	slug := c.Query("slug")
	if slug == "" {
		h.respondError(c, services.NewValidationError("slug", "The slug field is required."))
		return
	}
	available, reason, err := h.slugs.Available(c.Request.Context(), slug)
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := gin.H{"available": available}
	if reason != "" {
		body["message"] = reason
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) CheckURL(c *gin.Context) {
	raw := c.Query("url")
	if raw == "" {
		h.respondError(c, services.NewValidationError("url", "The url field is required."))
		return
	}
	res, err := h.validator.Validate(c.Request.Context(), raw)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"is_safe":  res.IsSafe,
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}
