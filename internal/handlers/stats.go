package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"shortsight/internal/models"
	"shortsight/internal/repository"
	"shortsight/internal/services"

	"github.com/gin-gonic/gin"
)

// viewableLink loads slug for read-only endpoints. Links with an owner are visible to that owner only.
func (h *Handler) viewableLink(c *gin.Context) (*models.Link, error) {
	link, err := h.links.Get(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if link.OwnerID != nil && !link.IsOwnedBy(currentUser(c)) {
		return nil, services.ErrForbidden
	}
	return link, nil
}

// ShowStats handles GET /api/links/:slug/stats.
func (h *Handler) ShowStats(c *gin.Context) {
	link, err := h.viewableLink(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	stats, err := h.analytics.Stats(c.Request.Context(), link.Slug)
	if err != nil {
		h.respondError(c, err)
		return
	}

	body := gin.H{
		"link":         h.linkResponse(c, link),
		"total_clicks": stats.TotalClicks,
		"countries":    stats.Countries,
		"browsers":     stats.Browsers,
		"devices":      stats.Devices,
		"referers":     stats.Referers,
	}
	c.JSON(http.StatusOK, body)
}

// ShowQRCode handles GET /api/links/:slug/qr.
func (h *Handler) ShowQRCode(c *gin.Context) {
	link, err := h.viewableLink(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	opts := services.QROptions{
		Content: h.shortURL(link.Slug),
		FgColor: c.Query("fg"),
		BgColor: c.Query("bg"),
	}
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(c, services.NewValidationError("size", "The size must be an integer."))
			return
		}
		opts.Size = size
	}

	switch c.DefaultQuery("format", "png") {
	case "png":
		data, err := h.qrService.PNG(opts)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/png", data)
	case "svg":
		svg, err := h.qrService.SVG(opts)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/svg+xml", []byte(svg))
	default:
		h.respondError(c, services.NewValidationError("format", "The format must be png or svg."))
	}
}

// Health reports database and cache reachability. A cache outage degrades but does not fail.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	database, cacheState := "ok", "ok"

	if err := h.links.Ping(ctx); err != nil {
		h.logger.Error("Health check: database unreachable", "error", err)
		database, status, code = "unreachable", "unhealthy", http.StatusServiceUnavailable
	}
	if err := h.linkCache.Ping(ctx); err != nil {
		h.logger.Warn("Health check: cache unreachable", "error", err)
		cacheState = "unreachable"
		if code == http.StatusOK {
			status = "degraded"
		}
	}

	c.JSON(code, gin.H{"status": status, "database": database, "cache": cacheState})
}
