package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
	"unicode"

	"shortsight/internal/cache"
	"shortsight/internal/config"
	"shortsight/internal/metrics"
	"shortsight/internal/models"
)

// ValidatorOptions switch pipeline stages on and off and bound their cost.
type ValidatorOptions struct {
	MaxURLLength          int
	MaxDomainLength       int
	ContentCheckTimeout   time.Duration
	AllowHTTPContentCheck bool

	CheckLength      bool
	CheckPrivate     bool
	CheckUnicode     bool
	CheckBlacklist   bool
	CheckPatterns    bool
	CheckContentType bool
	CheckReputation  bool
}

func ValidatorOptionsFromConfig(cfg config.Config) ValidatorOptions {
	return ValidatorOptions{
		MaxURLLength:          cfg.MaxURLLength,
		MaxDomainLength:       cfg.MaxDomainLength,
		ContentCheckTimeout:   cfg.ContentCheckTimeout,
		AllowHTTPContentCheck: cfg.AllowHTTPContentCheck,
		CheckLength:           cfg.EnableLengthCheck,
		CheckPrivate:          cfg.EnablePrivateIPCheck,
		CheckUnicode:          cfg.EnableUnicodeCheck,
		CheckBlacklist:        cfg.EnableDomainBlacklist,
		CheckPatterns:         cfg.EnablePatterns,
		CheckContentType:      cfg.EnableContentType,
		CheckReputation:       cfg.EnableSafeBrowsing,
	}
}

// Resolver looks up the addresses of a host name.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// URLValidator runs the layered safety pipeline. Every stage runs so that the result lists
// every problem; network stages fail open.
type URLValidator struct {
	opts          ValidatorOptions
	rules         *compiledRules
	resolver      Resolver
	contentClient *http.Client
	reputation    ReputationChecker
	cache         *cache.LinkCache
	logger        *slog.Logger
}

func NewURLValidator(opts ValidatorOptions, rules SafetyRules, reputation ReputationChecker, linkCache *cache.LinkCache, logger *slog.Logger) (*URLValidator, error) {
	compiled, err := rules.compile()
	if err != nil {
		return nil, err
	}
	if opts.MaxURLLength <= 0 {
		opts.MaxURLLength = 2048
	}
	if opts.MaxDomainLength <= 0 {
		opts.MaxDomainLength = 253
	}
	if opts.ContentCheckTimeout <= 0 {
		opts.ContentCheckTimeout = 5 * time.Second
	}

	v := &URLValidator{
		opts:       opts,
		rules:      compiled,
		resolver:   net.DefaultResolver,
		reputation: reputation,
		cache:      linkCache,
		logger:     logger,
	}
	v.contentClient = v.newContentClient()
	return v, nil
}

// SetResolver replaces the DNS resolver used by the private-address stage.
func (v *URLValidator) SetResolver(r Resolver) {
	v.resolver = r
}

// newContentClient refuses to connect to private addresses when the private check is on, which
// also covers redirects and DNS answers that change between the check and the request.
func (v *URLValidator) newContentClient() *http.Client {
	dialer := &net.Dialer{Timeout: v.opts.ContentCheckTimeout}
	if v.opts.CheckPrivate {
		dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			addr, err := netip.ParseAddr(host)
			if err != nil {
				return err
			}
			if v.rules.isPrivate(addr) {
				return fmt.Errorf("connection to private address %s refused", addr)
			}
			return nil
		}
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   v.opts.ContentCheckTimeout,
		ResponseHeaderTimeout: v.opts.ContentCheckTimeout,
	}
	return &http.Client{
		Timeout:   v.opts.ContentCheckTimeout,
		Transport: transport,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}

// ParseDestination accepts only absolute http(s) URLs with a host.
func ParseDestination(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

// Validate returns the cached verdict for rawURL or runs the pipeline and caches its result.
func (v *URLValidator) Validate(ctx context.Context, rawURL string) (*models.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}
	if res, ok := v.cache.GetValidation(ctx, rawURL); ok {
		return res, nil
	}

	res := v.run(ctx, rawURL)
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationUnavailable, ctx.Err())
	}

	verdict := "safe"
	if !res.IsSafe {
		verdict = "unsafe"
		v.logger.Warn("URL rejected by safety checks", "url", rawURL, "errors", res.Errors)
	}
	metrics.SafetyVerdicts.WithLabelValues(verdict).Inc()

	v.cache.PutValidation(ctx, rawURL, res)
	return res, nil
}

// IsSafe consults the boolean verdict cache before falling back to the full pipeline.
func (v *URLValidator) IsSafe(ctx context.Context, rawURL string) (bool, error) {
	if safe, ok := v.cache.GetSafety(ctx, rawURL); ok {
		return safe, nil
	}
	res, err := v.Validate(ctx, rawURL)
	if err != nil {
		return false, err
	}
	return res.IsSafe, nil
}

func (v *URLValidator) run(ctx context.Context, rawURL string) *models.ValidationResult {
	res := &models.ValidationResult{IsSafe: true, Errors: []string{}, Warnings: []string{}}

	u, err := ParseDestination(rawURL)
	if err != nil {
		res.Fail("The URL format is invalid. Only http and https URLs are allowed.")
	}

	if v.opts.CheckLength {
		v.checkLength(rawURL, u, res)
	}

	privateOK := true
	if u != nil && v.opts.CheckPrivate {
		privateOK = v.checkPrivate(ctx, u, res)
	}
	if u != nil && v.opts.CheckUnicode {
		v.checkUnicode(u, res)
	}
	if u != nil && v.opts.CheckBlacklist {
		v.checkBlacklist(u, res)
	}
	if v.opts.CheckPatterns {
		v.checkPatterns(rawURL, res)
	}

	// Never send requests toward an address the private check rejected.
	if u != nil && privateOK {
		if v.opts.CheckContentType {
			v.checkContentType(ctx, u, res)
		}
		if v.opts.CheckReputation && v.reputation != nil {
			v.checkReputation(ctx, u, res)
		}
	}
	return res
}

func (v *URLValidator) checkLength(rawURL string, u *url.URL, res *models.ValidationResult) {
	if len(rawURL) > v.opts.MaxURLLength {
		res.Fail(fmt.Sprintf("The URL exceeds the maximum length of %d characters.", v.opts.MaxURLLength))
	}
	if u != nil && len(u.Hostname()) > v.opts.MaxDomainLength {
		res.Fail(fmt.Sprintf("The domain exceeds the maximum length of %d characters.", v.opts.MaxDomainLength))
	}
}

func (v *URLValidator) checkPrivate(ctx context.Context, u *url.URL, res *models.ValidationResult) bool {
	const msg = "URLs pointing to localhost or private networks are not allowed."
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		res.Fail(msg)
		return false
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if v.rules.isPrivate(addr) {
			res.Fail(msg)
			return false
		}
		return true
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.opts.ContentCheckTimeout)
	defer cancel()
	addrs, err := v.resolver.LookupNetIP(lookupCtx, "ip", host)
	if err != nil {
		v.logger.Warn("DNS lookup failed during safety check", "host", host, "error", err)
		res.Warn("The domain could not be resolved.")
		return true
	}
	for _, addr := range addrs {
		if v.rules.isPrivate(addr) {
			res.Fail(msg)
			return false
		}
	}
	return true
}

func (v *URLValidator) checkUnicode(u *url.URL, res *models.ValidationResult) {
	host := u.Hostname()
	nonASCII := strings.IndexFunc(host, func(r rune) bool { return r > unicode.MaxASCII }) >= 0
	if nonASCII || strings.Contains(strings.ToLower(host), "xn--") {
		res.Warn("The domain contains international characters. Make sure it is the site you expect.")
	}
}

func (v *URLValidator) checkBlacklist(u *url.URL, res *models.ValidationResult) {
	domain := normalizeDomain(u.Hostname())
	if _, blocked := v.rules.domains[domain]; blocked {
		res.Fail(fmt.Sprintf("The domain %s is blacklisted.", domain))
	}
}

func (v *URLValidator) checkPatterns(rawURL string, res *models.ValidationResult) {
	for _, re := range v.rules.patterns {
		if re.MatchString(rawURL) {
			v.logger.Info("URL matched malicious pattern", "url", rawURL, "pattern", re.String())
			res.Fail("The URL matches a known malicious pattern.")
			return
		}
	}
}

func (v *URLValidator) checkContentType(ctx context.Context, u *url.URL, res *models.ValidationResult) {
	if u.Scheme == "http" && !v.opts.AllowHTTPContentCheck {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, v.opts.ContentCheckTimeout)
	defer cancel()

	contentType, err := v.fetchContentType(checkCtx, u.String())
	if err != nil {
		v.logger.Warn("Content type check failed, allowing URL", "url", u.String(), "error", err)
		return
	}
	if contentType == "" {
		return
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	if _, blocked := v.rules.contentTypes[strings.ToLower(mediaType)]; blocked {
		res.Fail(fmt.Sprintf("The URL points to a blocked content type (%s).", mediaType))
	}
}

// fetchContentType returns the Content-Type from a HEAD request, falling back to a one-byte ranged GET.
func (v *URLValidator) fetchContentType(ctx context.Context, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := v.contentClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode < 400 {
			return resp.Header.Get("Content-Type"), nil
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err = v.contentClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("content type request returned status %d", resp.StatusCode)
	}
	return resp.Header.Get("Content-Type"), nil
}

func (v *URLValidator) checkReputation(ctx context.Context, u *url.URL, res *models.ValidationResult) {
	repCtx, cancel := context.WithTimeout(ctx, v.opts.ContentCheckTimeout)
	defer cancel()

	malicious, err := v.reputation.IsMalicious(repCtx, u.String())
	if err != nil {
		v.logger.Warn("Reputation check failed, allowing URL", "url", u.String(), "error", err)
		return
	}
	if malicious {
		res.Fail("The URL has been flagged as unsafe by Google Safe Browsing.")
	}
}
