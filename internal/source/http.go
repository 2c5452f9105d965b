package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trail-svr/internal/pipeline"
)

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource queries the ingestion service REST API:
//
//	GET {base}/api/devices/{id}/latest   -> fix object, 404 when none
//	GET {base}/api/devices/{id}/history  -> array of samples, or {"points": [...]}
type HTTPSource struct {
	base   string
	client HTTPClient
	logger *slog.Logger
}

func NewHTTPSource(baseURL string, client HTTPClient, logger *slog.Logger) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		base:   strings.TrimRight(baseURL, "/"),
		client: client,
		logger: logger.With("component", "source", "transport", "http"),
	}
}

func (s *HTTPSource) endpoint(deviceID, leaf string) string {
	return s.base + "/api/devices/" + url.PathEscape(deviceID) + "/" + leaf
}

// get returns the body, the Date header and whether the resource exists.
func (s *HTTPSource) get(ctx context.Context, u string) ([]byte, string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", false, fmt.Errorf("failed to fetch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, "", false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", false, fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", false, fmt.Errorf("read %s: %w", u, err)
	}
	return b, resp.Header.Get("Date"), true, nil
}

func decode(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// Latest returns the newest fix known to the service, nil when there is none.
func (s *HTTPSource) Latest(ctx context.Context, deviceID string) (*pipeline.RawSample, error) {
	b, date, found, err := s.get(ctx, s.endpoint(deviceID, "latest"))
	if err != nil {
		return nil, &TransportError{Op: "latest", DeviceID: deviceID, Err: err}
	}
	if !found || len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := decode(b, &m); err != nil {
		return nil, &TransportError{Op: "latest", DeviceID: deviceID, Err: fmt.Errorf("decode: %w", err)}
	}
	if m == nil {
		return nil, nil
	}
	r := sampleFromMap(deviceID, m)
	r.ServerDate = date
	return &r, nil
}

// History returns every stored sample. A 404 is an empty history.
func (s *HTTPSource) History(ctx context.Context, deviceID string) ([]pipeline.RawSample, error) {
	b, _, found, err := s.get(ctx, s.endpoint(deviceID, "history"))
	if err != nil {
		return nil, &TransportError{Op: "history", DeviceID: deviceID, Err: err}
	}
	if !found || len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}

	var raw any
	if err := decode(b, &raw); err != nil {
		return nil, &TransportError{Op: "history", DeviceID: deviceID, Err: fmt.Errorf("decode: %w", err)}
	}
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case map[string]any:
		items, _ = v["points"].([]any)
	case nil:
	default:
		return nil, &TransportError{Op: "history", DeviceID: deviceID, Err: fmt.Errorf("unexpected payload %T", raw)}
	}

	out := make([]pipeline.RawSample, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			s.logger.Debug("skipping non-object history item", "device", deviceID)
			continue
		}
		out = append(out, sampleFromMap(deviceID, m))
	}
	return out, nil
}
