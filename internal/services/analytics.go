package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"shortsight/internal/cache"
	"shortsight/internal/metrics"
	"shortsight/internal/models"
	"shortsight/internal/queue"

	"github.com/bwmarrin/snowflake"
	"github.com/mssola/user_agent"
)

const AnalyticsTopic = "analytics.visit"

// Visit is the request snapshot captured on the redirect path.
type Visit struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Referer   string `json:"referer"`
}

type visitTask struct {
	ID    int64     `json:"id"`
	Slug  string    `json:"slug"`
	Visit Visit     `json:"visit"`
	At    time.Time `json:"at"`
}

type VisitorWriter interface {
	Insert(ctx context.Context, event *models.VisitorEvent) error
}

type StatsSource interface {
	Stats(ctx context.Context, slug string) (*models.LinkStats, error)
}

type VisitorRepository interface {
	VisitorWriter
	StatsSource
}

// AnalyticsService records visits through the queue and enriches them in a worker, so
// geolocation and user agent parsing never run on the redirect path.
type AnalyticsService struct {
	queue   queue.Queue
	store   VisitorRepository
	cache   *cache.LinkCache
	locator Locator
	ids     *snowflake.Node
	maskIPs bool
	logger  *slog.Logger
}

func NewAnalyticsService(q queue.Queue, store VisitorRepository, linkCache *cache.LinkCache, locator Locator, nodeID int64, maskIPs bool, logger *slog.Logger) (*AnalyticsService, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	if locator == nil {
		locator = noopLocator{}
	}
	s := &AnalyticsService{
		queue:   q,
		store:   store,
		cache:   linkCache,
		locator: locator,
		ids:     node,
		maskIPs: maskIPs,
		logger:  logger,
	}
	q.Register(AnalyticsTopic, s.handle)
	return s, nil
}

// Record enqueues a visit without waiting for it to be stored. The event ID is fixed here so
// a redelivered task inserts at most one row.
func (s *AnalyticsService) Record(ctx context.Context, slug string, visit Visit) error {
	payload, err := json.Marshal(visitTask{
		ID:    s.ids.Generate().Int64(),
		Slug:  slug,
		Visit: visit,
		At:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, AnalyticsTopic, payload); err != nil {
		metrics.AnalyticsEvents.WithLabelValues("dropped").Inc()
		return fmt.Errorf("enqueue visit for %q: %w", slug, err)
	}
	metrics.AnalyticsEvents.WithLabelValues("enqueued").Inc()
	return nil
}

func (s *AnalyticsService) handle(ctx context.Context, payload []byte) error {
	var task visitTask
	if err := json.Unmarshal(payload, &task); err != nil {
		s.logger.Error("Discarding undecodable visit task", "payload", string(payload), "error", err)
		metrics.AnalyticsEvents.WithLabelValues("invalid").Inc()
		return nil
	}

	event := s.enrichVisit(ctx, task)
	if err := s.store.Insert(ctx, event); err != nil {
		metrics.AnalyticsEvents.WithLabelValues("failed").Inc()
		return err
	}
	metrics.AnalyticsEvents.WithLabelValues("stored").Inc()
	return nil
}

func (s *AnalyticsService) enrichVisit(ctx context.Context, task visitTask) *models.VisitorEvent {
	event := &models.VisitorEvent{
		ID:        task.ID,
		Slug:      task.Slug,
		IPAddress: task.Visit.IP,
		UserAgent: task.Visit.UserAgent,
		Referer:   task.Visit.Referer,
		CreatedAt: task.At,
	}
	if event.Referer == "" {
		event.Referer = "Direct"
	}

	// 1. Parse User Agent
	ua := user_agent.New(task.Visit.UserAgent)
	browserName, browserVer := ua.Browser()
	event.Browser = browserName
	if browserVer != "" {
		event.Browser += " " + browserVer
	}
	event.Platform = ua.OS()
	event.Device = deviceType(ua)

	// 2. GeoIP Lookup
	lookupCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	loc, err := s.locator.Locate(lookupCtx, task.Visit.IP)
	if err != nil {
		s.logger.Warn("Geolocation failed", "slug", task.Slug, "error", err)
	}
	event.Country = loc.Country
	if event.Country == "" {
		event.Country = "Unknown"
	}
	event.Region = loc.Region
	event.City = loc.City
	event.PostalCode = loc.PostalCode
	event.Latitude = loc.Latitude
	event.Longitude = loc.Longitude

	// 3. Mask IP for Privacy (GDPR)
	if s.maskIPs {
		event.IPAddress = maskIP(event.IPAddress)
	}

	// Oversized values would fail the insert on every retry.
	event.IPAddress = truncate(event.IPAddress, models.IPAddressMaxLen)
	event.Browser = truncate(event.Browser, models.BrowserMaxLen)
	event.Device = truncate(event.Device, models.DeviceMaxLen)
	event.Platform = truncate(event.Platform, models.PlatformMaxLen)
	event.Country = truncate(event.Country, models.CountryMaxLen)
	event.Region = truncate(event.Region, models.RegionMaxLen)
	event.City = truncate(event.City, models.CityMaxLen)
	event.PostalCode = truncate(event.PostalCode, models.PostalCodeMaxLen)
	return event
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func deviceType(ua *user_agent.UserAgent) string {
	switch {
	case ua.Bot():
		return "Robot (Bot)"
	case ua.Platform() == "iPad":
		return "Tablet"
	case ua.Mobile():
		return "Mobile"
	default:
		return "Desktop"
	}
}

func maskIP(ip string) string {
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == '.' {
			return ip[:i] + ".0"
		}
		if ip[i] == ':' {
			return "IPv6 (Masked)"
		}
	}
	return ip
}

// Stats returns the click breakdown for slug, served from the analytics cache when present.
func (s *AnalyticsService) Stats(ctx context.Context, slug string) (*models.LinkStats, error) {
	if stats, ok := s.cache.GetStats(ctx, slug); ok {
		return stats, nil
	}
	stats, err := s.store.Stats(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.cache.PutStats(ctx, stats)
	return stats, nil
}
