package handlers

import (
	"net/http"

	"shortsight/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

func verifiedKey(slug string) string {
	return "verified:" + slug
}

type VerifyPasswordRequest struct {
	Password string `json:"password" form:"password"`
}

// RedirectToURL handles GET /:slug.
func (h *Handler) RedirectToURL(c *gin.Context) {
	slug := c.Param("slug")
	session := sessions.Default(c)
	grant, _ := session.Get(verifiedKey(slug)).(string)

	res, err := h.resolver.Resolve(c.Request.Context(), slug, grant, services.Visit{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	if res.Outcome == services.OutcomePasswordRequired {
		verifyURL := "/api/links/" + slug + "/verify-password"
		if wantsJSON(c) {
			c.JSON(http.StatusOK, gin.H{"password_required": true, "slug": slug, "verify_url": verifyURL})
			return
		}
		c.HTML(http.StatusOK, "password.html", gin.H{"Slug": slug, "VerifyURL": verifyURL, "Title": res.Link.Title})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Redirect(http.StatusFound, res.Destination)
}

// VerifyPassword handles POST /api/links/:slug/verify-password. Browser form posts are sent
// back to the link on success and shown the form again on failure.
func (h *Handler) VerifyPassword(c *gin.Context) {
	slug := c.Param("slug")
	fromForm := c.ContentType() == "application/x-www-form-urlencoded" || c.ContentType() == "multipart/form-data"

	var req VerifyPasswordRequest
	if err := c.ShouldBind(&req); err != nil || req.Password == "" {
		h.respondError(c, services.NewValidationError("password", "The password field is required."))
		return
	}

	grant, ok, err := h.resolver.VerifyPassword(c.Request.Context(), slug, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if !ok {
		if fromForm {
			c.HTML(http.StatusUnauthorized, "password.html", gin.H{
				"Slug":      slug,
				"VerifyURL": c.Request.URL.Path,
				"Error":     "Invalid password.",
			})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid password.", "type": typeInvalidPassword})
		return
	}

	// Unprotected links issue no grant, so nothing carries over once a password is set.
	if grant != "" {
		session := sessions.Default(c)
		session.Set(verifiedKey(slug), grant)
		if err := session.Save(); err != nil {
			h.respondError(c, err)
			return
		}
	}

	if fromForm {
		c.Redirect(http.StatusSeeOther, "/"+slug)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "redirect_url": "/" + slug})
}
