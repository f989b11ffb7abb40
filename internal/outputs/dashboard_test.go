package outputs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAverager map[string]float64

func (f fakeAverager) FindAveraged(name string) (float64, bool) {
	v, ok := f[strings.ToLower(name)]
	return v, ok
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rr.Body).Decode(v), "body: %s", rr.Body.String())
}

func TestDashboard_BeforeFirstWrite(t *testing.T) {
	d := newDashboardHandler("dash", nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, get(t, d.handler, "/api/v1/readings").Code)
	assert.Equal(t, http.StatusNotFound, get(t, d.handler, "/api/v1/metadata").Code)
	assert.Equal(t, http.StatusNotFound, get(t, d.handler, "/api/v1/average/temperature").Code)

	rr := get(t, d.handler, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDashboard_Readings(t *testing.T) {
	d := newDashboardHandler("dash", nil, hotLimit, nil)
	require.NoError(t, d.Write(context.Background(), testBatch()))

	rr := get(t, d.handler, "/api/v1/readings")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var msg struct {
		Readings []map[string]any `json:"readings"`
	}
	decode(t, rr, &msg)
	require.Len(t, msg.Readings, 4)
	assert.Equal(t, true, msg.Readings[0]["limitBreached"])

	rr = get(t, d.handler, "/api/v1/readings/temperature")
	require.Equal(t, http.StatusOK, rr.Code)
	var one []map[string]any
	decode(t, rr, &one)
	require.Len(t, one, 1)
	assert.Equal(t, 30.0, one[0]["value"])

	assert.Equal(t, http.StatusNotFound, get(t, d.handler, "/api/v1/readings/pressure").Code)
}

func TestDashboard_Metadata(t *testing.T) {
	d := newDashboardHandler("dash", nil, nil, nil)
	require.NoError(t, d.WriteMetadata(context.Background(), testMeta()))
	rr := get(t, d.handler, "/api/v1/metadata")
	require.Equal(t, http.StatusOK, rr.Code)
	var meta map[string]any
	decode(t, rr, &meta)
	assert.Equal(t, "run-1", meta["runId"])
}

func TestDashboard_Average(t *testing.T) {
	d := newDashboardHandler("dash", fakeAverager{"temperature": 21.5}, nil, nil)

	rr := get(t, d.handler, "/api/v1/average/Temperature")
	require.Equal(t, http.StatusOK, rr.Code)
	var got AverageResponse
	decode(t, rr, &got)
	assert.Equal(t, AverageResponse{Name: "Temperature", Value: 21.5}, got)

	assert.Equal(t, http.StatusNotFound, get(t, d.handler, "/api/v1/average/pressure").Code)
}

func TestDashboard_MethodNotAllowed(t *testing.T) {
	d := newDashboardHandler("dash", nil, nil, nil)
	rr := httptest.NewRecorder()
	d.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/readings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestDashboard_CORS(t *testing.T) {
	d := newDashboardHandler("dash", nil, nil, []string{"http://example.org"})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://example.org")
	rr := httptest.NewRecorder()
	d.handler.ServeHTTP(rr, req)
	assert.Equal(t, "http://example.org", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestDashboard_WebSocketStream(t *testing.T) {
	d := newDashboardHandler("dash", nil, nil, nil)
	srv := httptest.NewServer(d.handler)
	defer srv.Close()
	defer d.hub.closeAll()

	require.NoError(t, d.Write(context.Background(), testBatch()))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	// Latest batch straight away on connect.
	var ev struct {
		Event string `json:"event"`
		Data  struct {
			Readings []map[string]any `json:"readings"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "batch", ev.Event)
	assert.Len(t, ev.Data.Readings, 4)

	require.Eventually(t, func() bool { return d.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	b := testBatch()
	b.Readings = b.Readings[:1]
	require.NoError(t, d.Write(context.Background(), b))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Len(t, ev.Data.Readings, 1)
}
