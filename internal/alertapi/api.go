package alertapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/triage"
)

// TriageService defines the business operations alertapi needs.
type TriageService interface {
	Triage(ctx context.Context, al *alert.Alert) (*triage.Verdict, error)
	Get(ctx context.Context, id string) (*triage.Verdict, bool, error)
	GetByAlertID(ctx context.Context, alertID string) (*triage.Verdict, bool, error)
	Health(ctx context.Context) map[string]bool
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    TriageService
}

// New creates a new API handler.
func New(logger log.Logger, svc TriageService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("triage service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/alerts", a.handleTriageAlert)
		r.Get("/alerts/{id}/verdict", a.handleGetAlertVerdict)
		r.Get("/verdicts/{id}", a.handleGetVerdict)
		r.Get("/status", a.handleStatus)
	})
}

func (a *API) handleGetVerdict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.verdict.id", id))

	v, ok, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get verdict", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	span.SetAttributes(attribute.String("aegis.verdict.status", string(v.Status)))

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// handleGetAlertVerdict returns the most recent verdict for an alert ID.
func (a *API) handleGetAlertVerdict(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("aegis.alert.id", alertID))

	v, ok, err := a.svc.GetByAlertID(r.Context(), alertID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get verdict for alert", "alert_id", alertID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	backends := a.svc.Health(r.Context())

	healthy := true
	for _, ok := range backends {
		healthy = healthy && ok
	}
	status := "ok"
	if !healthy {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"backends": backends,
	})
}
