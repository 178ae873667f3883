package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ReputationChecker asks an external threat-intelligence source whether a URL is known bad.
type ReputationChecker interface {
	IsMalicious(ctx context.Context, url string) (bool, error)
}

// SafeBrowsingClient queries the Google Safe Browsing v4 threatMatches:find API.
type SafeBrowsingClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

func NewSafeBrowsingClient(endpoint, apiKey string, timeout time.Duration, rps float64) *SafeBrowsingClient {
	if rps <= 0 {
		rps = 10
	}
	return &SafeBrowsingClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

type threatEntry struct {
	URL string `json:"url"`
}

type threatInfo struct {
	ThreatTypes      []string      `json:"threatTypes"`
	PlatformTypes    []string      `json:"platformTypes"`
	ThreatEntryTypes []string      `json:"threatEntryTypes"`
	ThreatEntries    []threatEntry `json:"threatEntries"`
}

type findRequest struct {
	Client struct {
		ClientID      string `json:"clientId"`
		ClientVersion string `json:"clientVersion"`
	} `json:"client"`
	ThreatInfo threatInfo `json:"threatInfo"`
}

type findResponse struct {
	Matches []json.RawMessage `json:"matches"`
}

func (c *SafeBrowsingClient) IsMalicious(ctx context.Context, url string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("safe browsing throttle: %w", err)
	}

	var body findRequest
	body.Client.ClientID = "shortsight"
	body.Client.ClientVersion = "1.0"
	body.ThreatInfo = threatInfo{
		ThreatTypes:      []string{"MALWARE", "SOCIAL_ENGINEERING"},
		PlatformTypes:    []string{"ANY_PLATFORM"},
		ThreatEntryTypes: []string{"URL"},
		ThreatEntries:    []threatEntry{{URL: url}},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?key="+c.apiKey, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("safe browsing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("safe browsing returned status %d", resp.StatusCode)
	}

	var out findResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode safe browsing response: %w", err)
	}
	return len(out.Matches) > 0, nil
}
