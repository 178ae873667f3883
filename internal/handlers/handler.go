package handlers

import (
	"log/slog"
	"strings"

	"shortsight/internal/cache"
	"shortsight/internal/config"
	"shortsight/internal/repository"
	"shortsight/internal/services"
)

type Handler struct {
	cfg              config.Config
	logger           *slog.Logger
	links            *repository.LinkStore
	linkCache        *cache.LinkCache
	shortenerService *services.ShortenerService
	resolver         *services.LinkResolver
	slugs            *services.SlugGenerator
	validator        *services.URLValidator
	analytics        *services.AnalyticsService
	qrService        *services.QRService
	limiter          *services.RateLimiter
}

func NewHandler(
	cfg config.Config,
	logger *slog.Logger,
	links *repository.LinkStore,
	linkCache *cache.LinkCache,
	shortenerService *services.ShortenerService,
	resolver *services.LinkResolver,
	slugs *services.SlugGenerator,
	validator *services.URLValidator,
	analytics *services.AnalyticsService,
	qrService *services.QRService,
	limiter *services.RateLimiter,
) *Handler {
	return &Handler{
		cfg:              cfg,
		logger:           logger,
		links:            links,
		linkCache:        linkCache,
		shortenerService: shortenerService,
		resolver:         resolver,
		slugs:            slugs,
		validator:        validator,
		analytics:        analytics,
		qrService:        qrService,
		limiter:          limiter,
	}
}

func (h *Handler) shortURL(slug string) string {
	return strings.TrimRight(h.cfg.BaseURL, "/") + "/" + slug
}
