// Package httpapi is the HTTP surface: authentication, the event append and
// admin endpoints, the accountability endpoints and the operational probes.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"carebase.org/internal/accountability"
	"carebase.org/internal/claims"
	"carebase.org/internal/event"
	"carebase.org/internal/obs"
	"carebase.org/internal/stream"
)

// ReadyProbe checks the service's backing dependencies.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux            *http.ServeMux
	issuer         *claims.Issuer
	events         *event.Service
	feed           *stream.Feed
	accountability *accountability.Service
	readyProbe     ReadyProbe
	version        string
}

// Option configures the API.
type Option func(*API)

// WithIssuer attaches the claims issuer backing /v1/auth/token.
func WithIssuer(issuer *claims.Issuer) Option {
	return func(a *API) { a.issuer = issuer }
}

// WithEventService attaches the event append/admin service.
func WithEventService(svc *event.Service) Option {
	return func(a *API) { a.events = svc }
}

// WithFeed attaches the committed-event feed backing the SSE endpoint.
func WithFeed(feed *stream.Feed) Option {
	return func(a *API) { a.feed = feed }
}

// WithAccountability attaches the accountability service.
func WithAccountability(svc *accountability.Service) Option {
	return func(a *API) { a.accountability = svc }
}

func New(rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// event store
	a.mux.HandleFunc("/v1/events", a.handleEvents)
	a.mux.HandleFunc("/v1/events/stream", a.Stream)
	a.mux.HandleFunc("/v1/admin/events/failed", a.handleFailedEvents)
	a.mux.HandleFunc("/v1/admin/events/", a.handleEventAdmin)

	// accountability
	a.mux.HandleFunc("/v1/accountability/assignments", a.handleAccountabilityAssignments)
	a.mux.HandleFunc("/v1/accountability/users/", a.handleAccountabilityForUser)
	a.mux.HandleFunc("/v1/accountability/subjects/", a.handleAccountabilityForSubject)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := http.Handler(a.mux)
	h = a.withAuth(h)
	h = Logging(h)
	h = RequestID(h)
	h = RateLimit(h, 100, 50)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- probes ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "carebase-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "carebase-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
