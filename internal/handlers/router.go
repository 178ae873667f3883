package handlers

import (
	"embed"
	"html/template"
	"net/http"

	"shortsight/internal/metrics"
	"shortsight/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templatesFS embed.FS

func (h *Handler) SetupRouter() *gin.Engine {
	r := gin.Default()

	// Client signatures use the socket address only; forwarded headers are not trusted.
	_ = r.SetTrustedProxies(nil)
	r.SetHTMLTemplate(template.Must(template.New("").ParseFS(templatesFS, "templates/*.html")))

	store := cookie.NewStore([]byte(h.cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("shortsight_session", store))

	r.GET("/health", h.Health)
	r.GET("/metrics", metrics.Handler())

	apiLimit := h.RateLimitMiddleware(services.APIPolicy(h.cfg.APILimitMinute, h.cfg.APILimitHour), requestSignature)

	api := r.Group("/api")
	api.Use(h.OptionalAuth())
	{
		api.POST("/links", h.RateLimitMiddleware(services.CreationPolicy(), creationSignature), h.ShortenURL)
		api.POST("/links/:slug/verify-password", h.RateLimitMiddleware(services.AuthPolicy(), requestSignature), h.VerifyPassword)

		api.GET("/check-slug", apiLimit, h.CheckSlug)
		api.GET("/check-url", apiLimit, h.CheckURL)
		api.GET("/links/:slug/stats", apiLimit, h.ShowStats)
		api.GET("/links/:slug/qr", apiLimit, h.ShowQRCode)

		owned := api.Group("/links/:slug", apiLimit, h.AuthRequired())
		owned.PATCH("", h.UpdateLink)
		owned.DELETE("", h.DeleteLink)
	}

	r.GET("/:slug", h.RedirectToURL)
	r.NoRoute(func(c *gin.Context) {
		h.respondError(c, services.ErrNotFound)
	})

	return r
}
