package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, mux *http.ServeMux) *HTTPSource {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewHTTPSource(srv.URL+"/", srv.Client(), nil)
}

func TestHTTPSourceLatest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/dev-1/latest", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Date", "Tue, 14 Nov 2023 22:13:20 GMT")
		_, _ = w.Write([]byte(`{"deviceId":"dev-1","latitude":"45.07","lng":7.68,"timestamp":1700000000000,"speed":12.5,"battery":88,"sos":false}`))
	})
	mux.HandleFunc("GET /api/devices/ghost/latest", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	src := newTestServer(t, mux)

	r, err := src.Latest(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "dev-1", r.DeviceID)
	assert.Equal(t, "Tue, 14 Nov 2023 22:13:20 GMT", r.ServerDate)

	f, ok := r.Fix()
	require.True(t, ok)
	assert.Equal(t, 45.07, f.Lat)
	assert.Equal(t, 7.68, f.Lon)
	assert.Equal(t, int64(1700000000), f.TS)
	require.NotNil(t, f.Battery)
	assert.Equal(t, 88.0, *f.Battery)

	r, err = src.Latest(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestHTTPSourceLatestUsesDateHeaderWithoutTimestamp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/dev-1/latest", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Date", "Tue, 14 Nov 2023 22:13:20 GMT")
		_, _ = w.Write([]byte(`{"lat":1,"lon":2}`))
	})
	src := newTestServer(t, mux)

	r, err := src.Latest(context.Background(), "dev-1")
	require.NoError(t, err)
	f, ok := r.Fix()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), f.TS)
}

func TestHTTPSourceHistoryShapes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/arr/history", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"lat":1,"lon":2,"ts":"2023-11-14T22:13:20Z"}, 7, {"lat":3,"lon":4,"time":1700000100}]`))
	})
	mux.HandleFunc("GET /api/devices/obj/history", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"points":[{"lat":1,"lon":2,"ts":1700000000}]}`))
	})
	mux.HandleFunc("GET /api/devices/empty/history", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	src := newTestServer(t, mux)
	ctx := context.Background()

	got, err := src.History(ctx, "arr")
	require.NoError(t, err)
	require.Len(t, got, 2)
	f, ok := got[1].Fix()
	require.True(t, ok)
	assert.Equal(t, int64(1700000100), f.TS)
	assert.Equal(t, "arr", got[0].DeviceID)

	got, err = src.History(ctx, "obj")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = src.History(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got)

	// unknown device: 404 means no history, not failure
	got, err = src.History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHTTPSourceFailures(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/devices/dev-1/history", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /api/devices/dev-1/latest", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"lat":`))
	})
	mux.HandleFunc("GET /api/devices/slow/history", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	src := newTestServer(t, mux)

	_, err := src.History(context.Background(), "dev-1")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "history", te.Op)
	assert.Contains(t, err.Error(), "HTTP 500")

	_, err = src.Latest(context.Background(), "dev-1")
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "latest", te.Op)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.History(ctx, "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
