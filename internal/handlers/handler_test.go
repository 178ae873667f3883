package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"shortsight/internal/cache"
	"shortsight/internal/config"
	"shortsight/internal/queue"
	"shortsight/internal/repository"
	"shortsight/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct{}

func (staticResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return []netip.Addr{netip.MustParseAddr("93.184.216.34")}, nil
}

type testServer struct {
	h        *Handler
	router   *gin.Engine
	cache    *cache.LinkCache
	visitors *repository.VisitorStore
	resolver *services.LinkResolver
}

func testConfig() config.Config {
	return config.Config{
		AppEnv:         "testing",
		BaseURL:        "http://sho.rt",
		SessionSecret:  "test-secret-12345678901234567890123456789012",
		JWTSecret:      "jwt-test-secret",
		APILimitMinute: 100,
		APILimitHour:   1000,
	}
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := testConfig()

	db, err := repository.InitDB(config.Config{DatabaseURL: "sqlite://:memory:"})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))

	lc := cache.NewLinkCache(cache.NewMemoryStore(time.Minute), logger)
	links := repository.NewLinkStore(db, lc, logger)
	visitors := repository.NewVisitorStore(db)

	q := queue.NewMemory(100, 2, 3, logger)
	analytics, err := services.NewAnalyticsService(q, visitors, lc, services.NewLocator(cfg, logger), 1, false, logger)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	passwords, err := services.NewPasswordService("test-pepper", services.MinBcryptCost)
	require.NoError(t, err)

	validator, err := services.NewURLValidator(services.ValidatorOptions{
		CheckLength:    true,
		CheckPrivate:   true,
		CheckUnicode:   true,
		CheckBlacklist: true,
		CheckPatterns:  true,
	}, services.DefaultSafetyRules(), nil, lc, logger)
	require.NoError(t, err)
	validator.SetResolver(staticResolver{})

	slugs := services.NewSlugGenerator(links)
	shortener := services.NewShortenerService(links, slugs, validator, passwords, nil, logger)
	resolver := services.NewLinkResolver(links, lc, passwords, analytics, logger)
	limiter := services.NewRateLimiter(cache.NewMemoryStore(time.Minute), logger)

	h := NewHandler(cfg, logger, links, lc, shortener, resolver, slugs, validator, analytics, services.NewQRService(), limiter)
	return &testServer{h: h, router: h.SetupRouter(), cache: lc, visitors: visitors, resolver: resolver}
}

func bearer(t *testing.T, userID uint, premium bool) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Premium: premium,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(testConfig().JWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (s *testServer) do(method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func (s *testServer) shorten(t *testing.T, body string, header http.Header) map[string]any {
	t.Helper()
	w := s.do(http.MethodPost, "/api/links", body, header)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)
}

func TestShortenAndRedirect(t *testing.T) {
	s := setupTestServer(t)

	created := s.shorten(t, `{"url":"https://example.com/landing","customSlug":true,"customSlugInput":"promo1"}`, nil)
	assert.Equal(t, "promo1", created["slug"])
	assert.Equal(t, "http://sho.rt/promo1", created["short_url"])
	assert.Equal(t, "https://example.com/landing", created["original_url"])

	for i := 0; i < 2; i++ {
		w := s.do(http.MethodGet, "/promo1", "", nil)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.com/landing", w.Header().Get("Location"))
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	}

	s.resolver.Wait()
	n, ok := s.cache.GetClickCount(context.Background(), "promo1")
	require.True(t, ok)
	assert.Equal(t, int64(2), n)

	require.Eventually(t, func() bool {
		stats, err := s.visitors.Stats(context.Background(), "promo1")
		return err == nil && stats.TotalClicks == 2
	}, 2*time.Second, 20*time.Millisecond)

	w := s.do(http.MethodGet, "/api/links/promo1/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decode(t, w)
	assert.Equal(t, float64(2), stats["total_clicks"])
	link := stats["link"].(map[string]any)
	assert.Equal(t, float64(2), link["click_count"])
}

func TestShortenValidation(t *testing.T) {
	s := setupTestServer(t)

	cases := []struct {
		name  string
		body  string
		field string
		typ   string
	}{
		{"Missing URL", `{}`, "url", typeValidation},
		{"Private Address", `{"url":"http://127.0.0.1/admin"}`, "url", typeURLUnsafe},
		{"Reserved Slug", `{"url":"https://example.com","customSlug":true,"customSlugInput":"api"}`, "customSlugInput", typeValidation},
		{"Expiry Out Of Range", `{"url":"https://example.com","expires_in_hours":0}`, "expires_in_hours", typeValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/api/links", tc.body, nil)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tc.typ, body["type"])
			assert.Contains(t, body["errors"], tc.field)
		})
	}

	t.Run("Slug Taken", func(t *testing.T) {
		s.shorten(t, `{"url":"https://example.com/a","customSlug":true,"customSlugInput":"taken1"}`, nil)
		w := s.do(http.MethodPost, "/api/links", `{"url":"https://example.com/b","customSlug":true,"customSlugInput":"taken1"}`, nil)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, typeSlugTaken, decode(t, w)["type"])
	})

	t.Run("Form Post", func(t *testing.T) {
		form := url.Values{"url": {"https://example.com/form"}}
		w := s.do(http.MethodPost, "/api/links", form.Encode(), http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Len(t, decode(t, w)["slug"], services.GeneratedSlugLength)
	})
}

func TestCreationRateLimit(t *testing.T) {
	s := setupTestServer(t)

	for i := 1; i <= 10; i++ {
		w := s.do(http.MethodPost, "/api/links", `{"url":"https://example.com/`+strconv.Itoa(i)+`"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(10-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
		assert.Empty(t, w.Header().Get("Retry-After"))
	}

	w := s.do(http.MethodPost, "/api/links", `{"url":"https://example.com/11"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)

	body := decode(t, w)
	assert.Equal(t, "link_creation_rate_limit_exceeded", body["error"])
	assert.Equal(t, "10 links per minute", body["limit"])
	assert.Equal(t, typeRateLimited, body["type"])

	reset, err := strconv.ParseInt(w.Header().Get("X-RateLimit-Reset"), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, reset, time.Now().Unix()-1)
}

func TestRedirectStates(t *testing.T) {
	s := setupTestServer(t)
	owner := http.Header{"Authorization": {bearer(t, 7, false)}}

	s.shorten(t, `{"url":"https://example.com/off","customSlug":true,"customSlugInput":"off1"}`, owner)
	w := s.do(http.MethodPatch, "/api/links/off1", `{"disabled":true}`, owner)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	t.Run("Disabled Browser", func(t *testing.T) {
		w := s.do(http.MethodGet, "/off1", "", nil)
		assert.Equal(t, http.StatusGone, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	})

	t.Run("Disabled JSON", func(t *testing.T) {
		w := s.do(http.MethodGet, "/off1", "", http.Header{"Accept": {"application/json"}})
		require.Equal(t, http.StatusGone, w.Code)
		assert.Equal(t, typeGone, decode(t, w)["type"])
	})

	t.Run("Unknown", func(t *testing.T) {
		w := s.do(http.MethodGet, "/nope99", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "not found")
	})
}

func TestPasswordFlow(t *testing.T) {
	s := setupTestServer(t)
	premium := http.Header{"Authorization": {bearer(t, 1, true)}}

	t.Run("Requires Premium", func(t *testing.T) {
		w := s.do(http.MethodPost, "/api/links", `{"url":"https://example.com","password":"hunter22"}`, nil)
		require.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, typePremiumRequired, decode(t, w)["type"])

		w = s.do(http.MethodPost, "/api/links", `{"url":"https://example.com","password":"hunter22"}`, http.Header{"Authorization": {bearer(t, 2, false)}})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	s.shorten(t, `{"url":"https://example.com/secret","password":"hunter22","customSlug":true,"customSlugInput":"locked1"}`, premium)

	w := s.do(http.MethodGet, "/locked1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/links/locked1/verify-password")

	w = s.do(http.MethodGet, "/locked1", "", http.Header{"Accept": {"application/json"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["password_required"])

	w = s.do(http.MethodPost, "/api/links/locked1/verify-password", `{"password":"wrong"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = s.do(http.MethodPost, "/api/links/locked1/verify-password", `{"password":"hunter22"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["success"])
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)

	req := httptest.NewRequest(http.MethodGet, "/locked1", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/secret", rec.Header().Get("Location"))

	t.Run("Form Verify Redirects Back", func(t *testing.T) {
		form := url.Values{"password": {"hunter22"}}
		w := s.do(http.MethodPost, "/api/links/locked1/verify-password", form.Encode(), http.Header{"Content-Type": {"application/x-www-form-urlencoded"}})
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, "/locked1", w.Header().Get("Location"))
	})

	t.Run("Attempts Are Limited", func(t *testing.T) {
		s := setupTestServer(t)
		s.shorten(t, `{"url":"https://example.com/secret","password":"hunter22","customSlug":true,"customSlugInput":"locked2"}`, premium)
		for i := 0; i < 5; i++ {
			w := s.do(http.MethodPost, "/api/links/locked2/verify-password", `{"password":"wrong"}`, nil)
			require.Equal(t, http.StatusUnauthorized, w.Code)
		}
		w := s.do(http.MethodPost, "/api/links/locked2/verify-password", `{"password":"hunter22"}`, nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "rate_limit_exceeded", decode(t, w)["error"])
	})
}

func (s *testServer) withCookies(method, target string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestPasswordVerificationIsBoundToCurrentPassword(t *testing.T) {
	s := setupTestServer(t)
	owner := http.Header{"Authorization": {bearer(t, 9, true)}}

	t.Run("Changed Password", func(t *testing.T) {
		s.shorten(t, `{"url":"https://example.com/secret","password":"oldpass1","customSlug":true,"customSlugInput":"rot1"}`, owner)

		w := s.do(http.MethodPost, "/api/links/rot1/verify-password", `{"password":"oldpass1"}`, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		cookies := w.Result().Cookies()
		require.NotEmpty(t, cookies)
		require.Equal(t, http.StatusFound, s.withCookies(http.MethodGet, "/rot1", cookies).Code)

		w = s.do(http.MethodPatch, "/api/links/rot1", `{"password":"newpass2"}`, owner)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.withCookies(http.MethodGet, "/rot1", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
		assert.Contains(t, w.Body.String(), "/api/links/rot1/verify-password")
	})

	t.Run("Verified Before Protection", func(t *testing.T) {
		s.shorten(t, `{"url":"https://example.com/later","customSlug":true,"customSlugInput":"pre1"}`, owner)

		w := s.do(http.MethodPost, "/api/links/pre1/verify-password", `{"password":"anything"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		cookies := w.Result().Cookies()
		assert.Empty(t, cookies, "no session marker for an unprotected link")

		w = s.do(http.MethodPatch, "/api/links/pre1", `{"password":"setlater1"}`, owner)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = s.withCookies(http.MethodGet, "/pre1", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})

	t.Run("Recreated Slug", func(t *testing.T) {
		s.shorten(t, `{"url":"https://example.com/one","password":"samepass1","customSlug":true,"customSlugInput":"again1"}`, owner)
		w := s.do(http.MethodPost, "/api/links/again1/verify-password", `{"password":"samepass1"}`, nil)
		require.Equal(t, http.StatusOK, w.Code)
		cookies := w.Result().Cookies()

		require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/links/again1", "", owner).Code)
		s.shorten(t, `{"url":"https://example.com/two","password":"samepass1","customSlug":true,"customSlugInput":"again1"}`, owner)

		w = s.withCookies(http.MethodGet, "/again1", cookies)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Location"))
	})
}

func TestCheckSlug(t *testing.T) {
	s := setupTestServer(t)
	s.shorten(t, `{"url":"https://example.com","customSlug":true,"customSlugInput":"used1"}`, nil)

	cases := map[string]bool{
		"free12": true,
		"used1":  false,
		"api":    false,
		"ab":     false,
	}
	for slug, available := range cases {
		w := s.do(http.MethodGet, "/api/check-slug?slug="+slug, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, available, body["available"], slug)
		if !available {
			assert.NotEmpty(t, body["message"], slug)
		}
	}

	w := s.do(http.MethodGet, "/api/check-slug", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))
}

func TestCheckURL(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodGet, "/api/check-url?url="+url.QueryEscape("https://example.com/ok"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["is_safe"])

	w = s.do(http.MethodGet, "/api/check-url?url="+url.QueryEscape("http://10.0.0.1/"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["is_safe"])
	assert.NotEmpty(t, body["errors"])
}

func TestManageLink(t *testing.T) {
	s := setupTestServer(t)
	owner := http.Header{"Authorization": {bearer(t, 3, false)}}
	other := http.Header{"Authorization": {bearer(t, 4, false)}}

	s.shorten(t, `{"url":"https://example.com/mine","customSlug":true,"customSlugInput":"mine1"}`, owner)

	t.Run("Requires Auth", func(t *testing.T) {
		w := s.do(http.MethodPatch, "/api/links/mine1", `{"title":"x"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = s.do(http.MethodPatch, "/api/links/mine1", `{"title":"x"}`, http.Header{"Authorization": {"Bearer garbage"}})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Other User", func(t *testing.T) {
		w := s.do(http.MethodPatch, "/api/links/mine1", `{"title":"x"}`, other)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(http.MethodGet, "/api/links/mine1/stats", "", other)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Update Destination", func(t *testing.T) {
		w := s.do(http.MethodPatch, "/api/links/mine1", `{"url":"https://example.org/new","title":"New"}`, owner)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "https://example.org/new", body["original_url"])
		assert.Equal(t, "New", body["title"])

		w = s.do(http.MethodGet, "/mine1", "", nil)
		require.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://example.org/new", w.Header().Get("Location"))
	})

	t.Run("Unsafe Update Rejected", func(t *testing.T) {
		w := s.do(http.MethodPatch, "/api/links/mine1", `{"url":"http://192.168.0.1/"}`, owner)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		w := s.do(http.MethodDelete, "/api/links/mine1", "", other)
		assert.Equal(t, http.StatusForbidden, w.Code)

		w = s.do(http.MethodDelete, "/api/links/mine1", "", owner)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = s.do(http.MethodGet, "/mine1", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestQRCode(t *testing.T) {
	s := setupTestServer(t)
	s.shorten(t, `{"url":"https://example.com","customSlug":true,"customSlugInput":"qr1"}`, nil)

	w := s.do(http.MethodGet, "/api/links/qr1/qr", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	w = s.do(http.MethodGet, "/api/links/qr1/qr?format=svg&size=128&fg=%23ff0000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "#ff0000")

	w = s.do(http.MethodGet, "/api/links/qr1/qr?format=gif", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, "/api/links/qr1/qr?size=big", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, "/api/links/none1/qr", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["cache"])

	s.shorten(t, `{"url":"https://example.com/m"}`, nil)
	w = s.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "shortsight_links_created_total")
}

func TestServerErrorsCarryAnID(t *testing.T) {
	s := setupTestServer(t)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/links/x/stats", nil)

	s.h.respondError(c, assert.AnError)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, typeServerError, body["type"])
	assert.Regexp(t, `^ERR-\d{14}-[0-9A-F]{6}$`, body["error_id"])
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}
