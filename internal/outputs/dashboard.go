package outputs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/airpi/airpi/internal/config"
	"github.com/airpi/airpi/pkg/types"
)

const (
	defaultDashboardAddr = ":8080"
	shutdownTimeout      = 5 * time.Second
)

// Event is the envelope sent to websocket clients on every write.
type Event struct {
	Event string  `json:"event"`
	Data  message `json:"data"`
}

// AverageResponse is the body of GET /api/v1/average/{name}.
type AverageResponse struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// dashboard serves the latest batch over HTTP and pushes each new batch to
// websocket clients.
type dashboard struct {
	name     string
	limits   types.LimitChecker
	averager types.Averager
	hub      *hub
	handler  http.Handler
	srv      *http.Server

	mu     sync.RWMutex
	latest *message
	meta   *types.Metadata
}

func newDashboard(name string, p config.Params, avg types.Averager, lc types.LimitChecker) (*dashboard, error) {
	origins, err := p.Strings("cors_origins")
	if err != nil {
		return nil, err
	}
	d := newDashboardHandler(name, avg, lc, origins)

	addr := p.String("listen", defaultDashboardAddr)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	d.srv = &http.Server{Handler: d.handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := d.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("dashboard: server stopped", "output", name, "err", err)
		}
	}()
	slog.Info("dashboard: listening", "output", name, "addr", ln.Addr().String())
	return d, nil
}

func newDashboardHandler(name string, avg types.Averager, lc types.LimitChecker, origins []string) *dashboard {
	d := &dashboard{name: name, limits: lc, averager: avg}
	d.hub = newHub(d.currentEvent)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Methods(http.MethodGet).Subrouter()
	api.HandleFunc("/health", d.health)
	api.HandleFunc("/readings", d.readings)
	api.HandleFunc("/readings/{name}", d.reading)
	api.HandleFunc("/metadata", d.metadata)
	api.HandleFunc("/average/{name}", d.average)
	r.Handle("/ws/stream", d.hub)

	var h http.Handler = r
	if len(origins) > 0 {
		h = handlers.CORS(handlers.AllowedOrigins(origins), handlers.AllowedMethods([]string{http.MethodGet}))(h)
	}
	d.handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(h)
	return d
}

func (d *dashboard) Name() string { return d.name }

func (d *dashboard) Write(_ context.Context, b *types.Batch) error {
	msg := newMessage(b, "", d.limits)
	d.mu.Lock()
	d.latest = &msg
	d.mu.Unlock()

	data, err := json.Marshal(Event{Event: "batch", Data: msg})
	if err != nil {
		return err
	}
	d.hub.broadcast(data)
	return nil
}

func (d *dashboard) WriteMetadata(_ context.Context, meta types.Metadata) error {
	d.mu.Lock()
	d.meta = &meta
	d.mu.Unlock()
	return nil
}

func (d *dashboard) Close() error {
	d.hub.closeAll()
	if d.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return d.srv.Shutdown(ctx)
}

func (d *dashboard) currentEvent() []byte {
	d.mu.RLock()
	latest := d.latest
	d.mu.RUnlock()
	if latest == nil {
		return nil
	}
	data, err := json.Marshal(Event{Event: "batch", Data: *latest})
	if err != nil {
		return nil
	}
	return data
}

// --- route handlers ---------------------------------------------------------

func (d *dashboard) health(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	resp := map[string]any{"status": "ok", "clients": d.hub.Count()}
	if d.latest != nil {
		resp["updatedAt"] = d.latest.Time
	}
	jsonResp(w, http.StatusOK, resp)
}

// readings returns GET /api/v1/readings: the latest batch.
func (d *dashboard) readings(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		jsonErr(w, http.StatusNotFound, "no readings yet")
		return
	}
	jsonResp(w, http.StatusOK, d.latest)
}

// reading returns GET /api/v1/readings/{name}: every reading in the latest
// batch with that measurement name.
func (d *dashboard) reading(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.latest == nil {
		jsonErr(w, http.StatusNotFound, "no readings yet")
		return
	}
	var out []record
	for _, rec := range d.latest.Readings {
		if strings.EqualFold(rec.Name, name) {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		jsonErr(w, http.StatusNotFound, "reading not found")
		return
	}
	jsonResp(w, http.StatusOK, out)
}

func (d *dashboard) metadata(w http.ResponseWriter, _ *http.Request) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.meta == nil {
		jsonErr(w, http.StatusNotFound, "no metadata")
		return
	}
	jsonResp(w, http.StatusOK, d.meta)
}

// average returns GET /api/v1/average/{name}: the mean calibrated value of
// every sensor reporting that measurement in the latest calibrated batch.
func (d *dashboard) average(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if d.averager == nil {
		jsonErr(w, http.StatusNotFound, "calibration not configured")
		return
	}
	v, ok := d.averager.FindAveraged(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "no calibrated value for "+name)
		return
	}
	jsonResp(w, http.StatusOK, AverageResponse{Name: name, Value: v})
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
