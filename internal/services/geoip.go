package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"shortsight/internal/config"

	"github.com/oschwald/geoip2-golang"
)

// Location is what the analytics worker stores about where a visitor came from.
type Location struct {
	Country    string
	Region     string
	City       string
	PostalCode string
	Latitude   *float64
	Longitude  *float64
}

// Locator resolves a visitor IP to a location. Implementations return an empty Location
// rather than an error when the address is simply unknown.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

func localLocation(ip string) (Location, bool) {
	if ip == "127.0.0.1" || ip == "::1" {
		return Location{Country: "Localhost", Region: "Local", City: "Local"}, true
	}
	return Location{}, false
}

// NewLocator picks the provider named by GEO_PROVIDER. Unknown or unusable providers fall back
// to a locator that knows nothing.
func NewLocator(cfg config.Config, logger *slog.Logger) Locator {
	switch strings.ToLower(cfg.GeoProvider) {
	case "maxmind":
		g := NewGeoIPService(logger)
		if err := g.Open(cfg.MaxMindDBPath); err != nil {
			logger.Warn("GeoIP: Lookups disabled", "path", cfg.MaxMindDBPath, "error", err)
			return noopLocator{}
		}
		return g
	case "http":
		return NewHTTPLocator(cfg.GeoAPIURL, 3*time.Second)
	default:
		return noopLocator{}
	}
}

type noopLocator struct{}

func (noopLocator) Locate(_ context.Context, ip string) (Location, error) {
	loc, _ := localLocation(ip)
	return loc, nil
}

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

// GeoIPService looks visitors up in a local MaxMind City database.
type GeoIPService struct {
	logger    *slog.Logger
	geoReader cityReader
	geoLock   sync.RWMutex
}

func NewGeoIPService(logger *slog.Logger) *GeoIPService {
	return &GeoIPService{logger: logger}
}

// Open loads the database at path, replacing any reader already open.
func (s *GeoIPService) Open(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("open geoip database: %w", err)
	}
	s.geoLock.Lock()
	old := s.geoReader
	s.geoReader = reader
	s.geoLock.Unlock()

	if old != nil {
		old.Close()
	}
	s.logger.Info("GeoIP: Loaded database", "path", path, "epoch", reader.Metadata().BuildEpoch)
	return nil
}

func (s *GeoIPService) Close() error {
	s.geoLock.Lock()
	defer s.geoLock.Unlock()
	if s.geoReader == nil {
		return nil
	}
	err := s.geoReader.Close()
	s.geoReader = nil
	return err
}

func (s *GeoIPService) Locate(_ context.Context, ipStr string) (Location, error) {
	if loc, ok := localLocation(ipStr); ok {
		return loc, nil
	}

	s.geoLock.RLock()
	reader := s.geoReader
	s.geoLock.RUnlock()
	if reader == nil {
		return Location{}, nil
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Location{}, fmt.Errorf("invalid ip %q", ipStr)
	}

	record, err := reader.City(ip)
	if err != nil {
		return Location{}, fmt.Errorf("geoip lookup: %w", err)
	}

	var loc Location
	if name, ok := record.Country.Names["en"]; ok {
		loc.Country = name
	} else {
		loc.Country = record.Country.IsoCode
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	loc.City = record.City.Names["en"]
	loc.PostalCode = record.Postal.Code
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude, loc.Longitude = &lat, &lon
	}
	return loc, nil
}

// HTTPLocator queries an ipinfo-style JSON API at {base}/{ip}/json.
type HTTPLocator struct {
	base   string
	client *http.Client
}

func NewHTTPLocator(base string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

type ipInfoResponse struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Postal  string `json:"postal"`
	Loc     string `json:"loc"`
}

func (l *HTTPLocator) Locate(ctx context.Context, ip string) (Location, error) {
	if loc, ok := localLocation(ip); ok {
		return loc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.base+"/"+url.PathEscape(ip)+"/json", nil)
	if err != nil {
		return Location{}, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geolocation returned status %d", resp.StatusCode)
	}

	var body ipInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decode geolocation response: %w", err)
	}

	loc := Location{Country: body.Country, Region: body.Region, City: body.City, PostalCode: body.Postal}
	if lat, lon, ok := strings.Cut(body.Loc, ","); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(lat), 64); err == nil {
			loc.Latitude = &f
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(lon), 64); err == nil {
			loc.Longitude = &f
		}
	}
	return loc, nil
}
