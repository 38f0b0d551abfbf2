package query

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"pulseboard/internal/dashboard/models"
	dErrors "pulseboard/pkg/domain-errors"
)

// Postgres computes dashboard aggregates with parallel fan-out over the
// scoped tables. Each sub-query is independent, so they share one errgroup
// bound to the caller's context; cancelling the fetch cancels all of them.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed metrics query.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Aggregates builds a snapshot for the scope. Failures are classified:
// context/transport errors are transient, everything else is reported as
// unclassified.
func (q *Postgres) Aggregates(ctx context.Context, scope models.Scope) (*models.MetricsSnapshot, error) {
	snapshot := &models.MetricsSnapshot{}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return q.countInto(ctx, &snapshot.LeadsCount,
			`SELECT count(*) FROM leads WHERE tenant_id = $1`, scope.TenantID)
	})
	g.Go(func() error {
		return q.countInto(ctx, &snapshot.ActiveProjects,
			`SELECT count(*) FROM projects WHERE tenant_id = $1 AND status = 'active'`, scope.TenantID)
	})
	g.Go(func() error {
		return q.countInto(ctx, &snapshot.CompletedProjects,
			`SELECT count(*) FROM projects WHERE tenant_id = $1 AND status = 'completed'`, scope.TenantID)
	})
	g.Go(func() error {
		return q.countInto(ctx, &snapshot.UsersCount,
			`SELECT count(*) FROM tenant_associations WHERE tenant_id = $1`, scope.TenantID)
	})
	g.Go(func() error {
		kpis, err := q.userKPIs(ctx, scope)
		if err != nil {
			return err
		}
		snapshot.UserKPIs = kpis
		return nil
	})
	g.Go(func() error {
		health, err := q.systemHealth(ctx, scope)
		if err != nil {
			return err
		}
		snapshot.SystemHealth = health
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, classify(err)
	}

	snapshot.CapturedAt = time.Now().UTC()
	return snapshot, nil
}

func (q *Postgres) countInto(ctx context.Context, dst *int, query string, args ...any) error {
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(dst); err != nil {
		return fmt.Errorf("aggregate count: %w", err)
	}
	return nil
}

func (q *Postgres) userKPIs(ctx context.Context, scope models.Scope) ([]models.UserKPI, error) {
	query := `
		SELECT u.id, u.display_name,
		       count(l.id) FILTER (WHERE l.id IS NOT NULL),
		       count(l.id) FILTER (WHERE l.status = 'converted'),
		       count(t.id) FILTER (WHERE t.status = 'open')
		FROM users u
		JOIN tenant_associations a ON a.user_id = u.id AND a.tenant_id = $1
		LEFT JOIN leads l ON l.assignee_id = u.id AND l.tenant_id = $1
		LEFT JOIN tasks t ON t.assignee_id = u.id AND t.tenant_id = $1
		GROUP BY u.id, u.display_name
		ORDER BY u.display_name
	`
	rows, err := q.db.QueryContext(ctx, query, scope.TenantID)
	if err != nil {
		return nil, fmt.Errorf("user kpis: %w", err)
	}
	defer rows.Close()

	var out []models.UserKPI
	for rows.Next() {
		var kpi models.UserKPI
		if err := rows.Scan(&kpi.UserID, &kpi.DisplayName, &kpi.LeadsAssigned,
			&kpi.LeadsConverted, &kpi.OpenTasks); err != nil {
			return nil, fmt.Errorf("scan user kpi: %w", err)
		}
		out = append(out, kpi)
	}
	return out, rows.Err()
}

func (q *Postgres) systemHealth(ctx context.Context, scope models.Scope) (models.SystemHealth, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status = 'failed'),
			count(*) FILTER (WHERE updated_at < now() - interval '24 hours')
		FROM sync_jobs
		WHERE tenant_id = $1
	`
	health := models.SystemHealth{Status: "ok"}
	err := q.db.QueryRowContext(ctx, query, scope.TenantID).
		Scan(&health.FailedJobs, &health.StaleRecords)
	if err != nil {
		return health, fmt.Errorf("system health: %w", err)
	}
	if health.FailedJobs > 0 {
		health.Status = "degraded"
	}
	return health, nil
}

// classify maps raw query failures onto the domain taxonomy. Connection and
// timeout problems are retryable; anything unrecognized surfaces as
// unclassified so the caller can show its message.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTransient, "aggregate query timed out")
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn):
		return dErrors.Wrap(err, dErrors.CodeTransient, "database connection lost")
	default:
		return dErrors.Wrap(err, dErrors.CodeOther, "aggregate query failed")
	}
}
