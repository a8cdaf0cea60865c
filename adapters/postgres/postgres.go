// Package postgres implements the persistence adapter of SPEC_FULL.md
// §6.2 over github.com/jackc/pgx/v5/pgxpool: restart-safe storage for the
// approval gate's autonomy_approvals table and a companion
// autonomy_incidents table for the compensation incident manager.
//
// Grounded on the teacher corpus's plain-pgxpool usage pattern (pool held
// on a Store type, queries issued directly with pool.Exec/QueryRow/Query
// rather than through an ORM), since the teacher itself carries no
// database dependency.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autonomy-kernel/kernel/kernel/approval"
	"github.com/autonomy-kernel/kernel/kernel/compensation"
)

//go:embed migrations
var migrationsFS embed.FS

// Adapter wraps a pgxpool.Pool and implements approval.Store and
// compensation.Store against the schema embedded in migrations/.
type Adapter struct {
	pool *pgxpool.Pool
}

// New connects to dsn, applies the embedded migrations, and returns a
// ready Adapter. Migration is idempotent (every statement is
// CREATE ... IF NOT EXISTS), safe to run on every process start.
func New(ctx context.Context, dsn string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	a := &Adapter{pool: pool}
	if err := a.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

// NewFromPool wraps an already-constructed pool (tests, shared pools)
// without running migrations.
func NewFromPool(pool *pgxpool.Pool) *Adapter {
	return &Adapter{pool: pool}
}

// Close releases the underlying pool.
func (a *Adapter) Close() {
	a.pool.Close()
}

func (a *Adapter) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/0001_approvals.sql")
	if err != nil {
		return fmt.Errorf("postgres: read embedded migration: %w", err)
	}
	if _, err := a.pool.Exec(ctx, string(b)); err != nil {
		return fmt.Errorf("postgres: apply migration: %w", err)
	}
	return nil
}

// Insert implements approval.Store.
func (a *Adapter) Insert(ctx context.Context, req approval.Request) error {
	payload, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("postgres: marshal approval payload: %w", err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO autonomy_approvals
			(id, tool_name, risk_class, call_payload, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, req.ID, req.Tool, string(req.RiskClass), payload, req.RequestedAt, req.ExpiresAt)
	if err != nil {
		return fmt.Errorf("postgres: insert approval: %w", err)
	}
	return nil
}

// UpdateDecision implements approval.Store.
func (a *Adapter) UpdateDecision(ctx context.Context, id string, decision approval.Decision, decidedBy string, decidedAt time.Time) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE autonomy_approvals
		SET decision = $2, decided_by = $3, decided_at = $4
		WHERE id = $1
	`, id, string(decision), decidedBy, decidedAt)
	if err != nil {
		return fmt.Errorf("postgres: update approval decision: %w", err)
	}
	return nil
}

// LoadPending implements approval.Store: rows with decision IS NULL AND
// expires_at > now, per SPEC_FULL.md §6.2.
func (a *Adapter) LoadPending(ctx context.Context, now time.Time) ([]approval.Request, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, tool_name, risk_class, call_payload, created_at, expires_at
		FROM autonomy_approvals
		WHERE decision IS NULL AND expires_at > $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: load pending approvals: %w", err)
	}
	defer rows.Close()

	var out []approval.Request
	for rows.Next() {
		var (
			req     approval.Request
			risk    string
			payload []byte
		)
		if err := rows.Scan(&req.ID, &req.Tool, &risk, &payload, &req.RequestedAt, &req.ExpiresAt); err != nil {
			return nil, fmt.Errorf("postgres: scan pending approval: %w", err)
		}
		req.RiskClass = approval.RiskClass(risk)
		req.Decision = approval.DecisionPending
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req.Params); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal call payload: %w", err)
			}
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// InsertIncident implements compensation.Store.
func (a *Adapter) InsertIncident(ctx context.Context, inc compensation.Incident) error {
	var outcome []byte
	if inc.CompensationOutcome != nil {
		b, err := json.Marshal(inc.CompensationOutcome)
		if err != nil {
			return fmt.Errorf("postgres: marshal compensation outcome: %w", err)
		}
		outcome = b
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO autonomy_incidents
			(id, request_id, tool_name, risk_class, reason, compensation_outcome, status, opened_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, inc.ID, inc.RequestID, inc.Tool, inc.RiskClass, inc.Reason, outcome, string(inc.Status), inc.OpenedAt, inc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert incident: %w", err)
	}
	return nil
}

// UpdateStatus implements compensation.Store.
func (a *Adapter) UpdateStatus(ctx context.Context, id string, status compensation.IncidentStatus, updatedAt time.Time) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE autonomy_incidents
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), updatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update incident status: %w", err)
	}
	return nil
}

// LoadOpen implements compensation.Store.
func (a *Adapter) LoadOpen(ctx context.Context) ([]compensation.Incident, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, request_id, tool_name, risk_class, reason, compensation_outcome, status, opened_at, updated_at
		FROM autonomy_incidents
		WHERE status <> 'resolved'
	`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load open incidents: %w", err)
	}
	defer rows.Close()

	var out []compensation.Incident
	for rows.Next() {
		var (
			inc     compensation.Incident
			status  string
			outcome []byte
		)
		if err := rows.Scan(&inc.ID, &inc.RequestID, &inc.Tool, &inc.RiskClass, &inc.Reason, &outcome, &status, &inc.OpenedAt, &inc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan incident: %w", err)
		}
		inc.Status = compensation.IncidentStatus(status)
		if len(outcome) > 0 {
			var o compensation.Outcome
			if err := json.Unmarshal(outcome, &o); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal compensation outcome: %w", err)
			}
			inc.CompensationOutcome = &o
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

var errNoRows = pgx.ErrNoRows

// IsNotFound reports whether err indicates a missing row, for callers
// distinguishing a genuinely absent record from a transport failure.
func IsNotFound(err error) bool {
	return errors.Is(err, errNoRows)
}
