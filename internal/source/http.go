package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPSource reads view counts from a statistics endpoint shaped like the
// YouTube Data API videos resource:
//
//	GET {endpoint}?part=statistics&id={id}&key={key}
//	{"items":[{"id":"...","statistics":{"viewCount":"1234"}}]}
type HTTPSource struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Client   *http.Client
}

func NewHTTPSource(endpoint, apiKey string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Timeout:  timeout,
		Client:   &http.Client{Timeout: timeout},
	}
}

type statisticsResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount json.RawMessage `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *HTTPSource) FetchCurrentMeasurement(ctx context.Context, itemID string) (int64, error) {
	value, err := s.fetch(ctx, itemID)
	if err != nil {
		return 0, &FetchError{ItemID: itemID, Err: err}
	}
	return value, nil
}

func (s *HTTPSource) fetch(ctx context.Context, itemID string) (int64, error) {
	endpoint, err := url.Parse(s.Endpoint)
	if err != nil {
		return 0, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("part", "statistics")
	query.Set("id", itemID)
	if s.APIKey != "" {
		query.Set("key", s.APIKey)
	}
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: s.Timeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload statisticsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if payload.Error != nil {
		return 0, errors.New(payload.Error.Message)
	}
	for _, item := range payload.Items {
		if item.ID != "" && item.ID != itemID {
			continue
		}
		return parseCount(item.Statistics.ViewCount)
	}
	return 0, ErrNotFound
}

// parseCount accepts the count as a JSON string or number.
func parseCount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("missing viewCount")
	}
	text := strings.Trim(string(raw), `"`)
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid viewCount %s: %w", string(raw), err)
	}
	return value, nil
}
