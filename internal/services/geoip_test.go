package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shortsight/internal/config"

	"github.com/oschwald/geoip2-golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGeoIPReader struct {
	cityFunc  func(ip net.IP) (*geoip2.City, error)
	closeFunc func() error
}

func (m *mockGeoIPReader) City(ip net.IP) (*geoip2.City, error) { return m.cityFunc(ip) }
func (m *mockGeoIPReader) Close() error {
	if m.closeFunc == nil {
		return nil
	}
	return m.closeFunc()
}

func appendZero[T any](s []T) []T {
	var zero T
	return append(s, zero)
}

func TestGeoIPService_Locate(t *testing.T) {
	ctx := context.Background()
	service := NewGeoIPService(slog.Default())

	t.Run("Localhost", func(t *testing.T) {
		for _, ip := range []string{"127.0.0.1", "::1"} {
			loc, err := service.Locate(ctx, ip)
			require.NoError(t, err)
			assert.Equal(t, "Localhost", loc.Country)
			assert.Equal(t, "Local", loc.City)
		}
	})

	t.Run("No Reader", func(t *testing.T) {
		loc, err := service.Locate(ctx, "8.8.8.8")
		require.NoError(t, err)
		assert.Equal(t, Location{}, loc)
	})

	t.Run("Invalid IP", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{}
		defer func() { service.geoReader = nil }()

		_, err := service.Locate(ctx, "not-an-ip")
		assert.Error(t, err)
	})

	t.Run("Reader Success", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				c := &geoip2.City{}
				c.Country.Names = map[string]string{"en": "United States"}
				c.Country.IsoCode = "US"
				c.City.Names = map[string]string{"en": "New York"}
				c.Subdivisions = appendZero(c.Subdivisions)
				c.Subdivisions[0].Names = map[string]string{"en": "New York"}
				c.Postal.Code = "10001"
				c.Location.Latitude = 40.7
				c.Location.Longitude = -74.0
				return c, nil
			},
		}
		defer func() { service.geoReader = nil }()

		loc, err := service.Locate(ctx, "8.8.8.8")
		require.NoError(t, err)
		assert.Equal(t, "United States", loc.Country)
		assert.Equal(t, "New York", loc.Region)
		assert.Equal(t, "New York", loc.City)
		assert.Equal(t, "10001", loc.PostalCode)
		require.NotNil(t, loc.Latitude)
		assert.InDelta(t, 40.7, *loc.Latitude, 0.001)
	})

	t.Run("Country IsoCode only", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				c := &geoip2.City{}
				c.Country.IsoCode = "FR"
				return c, nil
			},
		}
		defer func() { service.geoReader = nil }()

		loc, err := service.Locate(ctx, "8.8.8.8")
		require.NoError(t, err)
		assert.Equal(t, "FR", loc.Country)
		assert.Nil(t, loc.Latitude)
	})

	t.Run("Reader Error", func(t *testing.T) {
		service.geoReader = &mockGeoIPReader{
			cityFunc: func(ip net.IP) (*geoip2.City, error) {
				return nil, errors.New("db error")
			},
		}
		defer func() { service.geoReader = nil }()

		_, err := service.Locate(ctx, "8.8.8.8")
		assert.Error(t, err)
	})
}

func TestGeoIPService_OpenAndClose(t *testing.T) {
	service := NewGeoIPService(slog.Default())
	assert.Error(t, service.Open("non-existent-file.mmdb"))
	assert.Nil(t, service.geoReader)

	closed := false
	service.geoReader = &mockGeoIPReader{closeFunc: func() error { closed = true; return nil }}
	assert.NoError(t, service.Close())
	assert.True(t, closed)
	assert.Nil(t, service.geoReader)
	assert.NoError(t, service.Close())
}

func TestHTTPLocator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/8.8.8.8/json":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"ip":"8.8.8.8","city":"Mountain View","region":"California","country":"US","loc":"37.4056,-122.0775","postal":"94043"}`))
		default:
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer srv.Close()

	locator := NewHTTPLocator(srv.URL+"/", time.Second)
	ctx := context.Background()

	loc, err := locator.Locate(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", loc.Country)
	assert.Equal(t, "California", loc.Region)
	assert.Equal(t, "Mountain View", loc.City)
	assert.Equal(t, "94043", loc.PostalCode)
	require.NotNil(t, loc.Latitude)
	require.NotNil(t, loc.Longitude)
	assert.InDelta(t, 37.4056, *loc.Latitude, 0.0001)
	assert.InDelta(t, -122.0775, *loc.Longitude, 0.0001)

	_, err = locator.Locate(ctx, "1.1.1.1")
	assert.Error(t, err)

	local, err := locator.Locate(ctx, "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "Localhost", local.Country)
}

func TestNewLocator(t *testing.T) {
	logger := slog.Default()

	_, ok := NewLocator(config.Config{GeoProvider: "none"}, logger).(noopLocator)
	assert.True(t, ok)

	_, ok = NewLocator(config.Config{GeoProvider: "maxmind", MaxMindDBPath: "missing.mmdb"}, logger).(noopLocator)
	assert.True(t, ok, "unreadable database falls back to no lookups")

	_, ok = NewLocator(config.Config{GeoProvider: "HTTP", GeoAPIURL: "https://ipinfo.io"}, logger).(*HTTPLocator)
	assert.True(t, ok)
}
