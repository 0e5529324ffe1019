// Package pgstore provides a PostgreSQL implementation of triage.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/aegis/internal/triage"
)

var tracer = otel.Tracer("github.com/linnemanlabs/aegis/internal/triage/pgstore")

//go:embed schema.sql
var schema string

// Store persists verdicts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool is owned by the
// caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const verdictColumns = `id, alert_id, status, risk_score, classification, mitre_techniques,
	recommended_actions, analysis, ml_prediction, components_used, degraded,
	created_at, completed_at, processing_time_ms, tokens_used`

// Get retrieves a verdict by ID.
func (s *Store) Get(ctx context.Context, id string) (*triage.Verdict, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + verdictColumns + ` FROM verdicts WHERE id = $1`
	v, err := scanVerdictRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// GetByAlertID retrieves the most recent verdict for an alert.
func (s *Store) GetByAlertID(ctx context.Context, alertID string) (*triage.Verdict, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByAlertID", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + verdictColumns + ` FROM verdicts WHERE alert_id = $1 ORDER BY created_at DESC LIMIT 1`
	v, err := scanVerdictRow(s.pool.QueryRow(ctx, query, alertID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// Put inserts or updates a verdict.
func (s *Store) Put(ctx context.Context, v *triage.Verdict) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	techniquesJSON, err := json.Marshal(v.MitreTechniques)
	if err != nil {
		return fmt.Errorf("marshal techniques: %w", err)
	}
	actionsJSON, err := json.Marshal(v.RecommendedActions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	componentsJSON, err := json.Marshal(v.ComponentsUsed)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}
	var mlJSON []byte
	if v.MLPrediction != nil {
		if mlJSON, err = json.Marshal(v.MLPrediction); err != nil {
			return fmt.Errorf("marshal ml prediction: %w", err)
		}
	}
	var completedAt *time.Time
	if !v.CompletedAt.IsZero() {
		completedAt = &v.CompletedAt
	}

	query := `INSERT INTO verdicts (
		id, alert_id, status, risk_score, classification, mitre_techniques,
		recommended_actions, analysis, ml_prediction, components_used, degraded,
		created_at, completed_at, processing_time_ms, tokens_used
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	ON CONFLICT (id) DO UPDATE SET
		alert_id            = EXCLUDED.alert_id,
		status              = EXCLUDED.status,
		risk_score          = EXCLUDED.risk_score,
		classification      = EXCLUDED.classification,
		mitre_techniques    = EXCLUDED.mitre_techniques,
		recommended_actions = EXCLUDED.recommended_actions,
		analysis            = EXCLUDED.analysis,
		ml_prediction       = EXCLUDED.ml_prediction,
		components_used     = EXCLUDED.components_used,
		degraded            = EXCLUDED.degraded,
		completed_at        = EXCLUDED.completed_at,
		processing_time_ms  = EXCLUDED.processing_time_ms,
		tokens_used         = EXCLUDED.tokens_used`

	_, err = s.pool.Exec(ctx, query,
		v.ID, v.AlertID, string(v.Status), v.RiskScore, v.Classification, techniquesJSON,
		actionsJSON, v.Analysis, mlJSON, componentsJSON, v.Degraded,
		v.CreatedAt, completedAt, v.ProcessingTimeMs, v.TokensUsed,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert verdict: %w", err)
	}
	return nil
}

// scanVerdictRow scans a single row into a triage.Verdict.
// Returns (nil, nil) when no row is found.
func scanVerdictRow(row pgx.Row) (*triage.Verdict, error) {
	var (
		v              triage.Verdict
		status         string
		techniquesJSON []byte
		actionsJSON    []byte
		mlJSON         []byte
		componentsJSON []byte
		completedAt    *time.Time
	)

	err := row.Scan(
		&v.ID, &v.AlertID, &status, &v.RiskScore, &v.Classification, &techniquesJSON,
		&actionsJSON, &v.Analysis, &mlJSON, &componentsJSON, &v.Degraded,
		&v.CreatedAt, &completedAt, &v.ProcessingTimeMs, &v.TokensUsed,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	v.Status = triage.Status(status)
	if completedAt != nil {
		v.CompletedAt = *completedAt
	}
	if err := json.Unmarshal(techniquesJSON, &v.MitreTechniques); err != nil {
		return nil, fmt.Errorf("unmarshal techniques: %w", err)
	}
	if err := json.Unmarshal(actionsJSON, &v.RecommendedActions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	if err := json.Unmarshal(componentsJSON, &v.ComponentsUsed); err != nil {
		return nil, fmt.Errorf("unmarshal components: %w", err)
	}
	if len(mlJSON) > 0 {
		v.MLPrediction = &triage.MLPrediction{}
		if err := json.Unmarshal(mlJSON, v.MLPrediction); err != nil {
			return nil, fmt.Errorf("unmarshal ml prediction: %w", err)
		}
	}
	return &v, nil
}
