package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"complylaw/internal/domain"
)

const uniqueViolation = "23505"

const scanColumns = `id, public_id, tenant_id, user_id, domain, tier, status, progress, current_step,
	log, findings, checks_total, checks_completed, risk_score, grade, breach_alerts, checklist,
	recommendations, external, retry_of, failure_reason, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (domain.ScanJob, error) {
	var (
		j      domain.ScanJob
		tier   string
		status string
		grade  *string
	)
	err := row.Scan(&j.ID, &j.PublicID, &j.TenantID, &j.UserID, &j.Domain, &tier, &status, &j.Progress,
		&j.CurrentStep, &j.Log, &j.Findings, &j.ChecksTotal, &j.ChecksCompleted, &j.RiskScore, &grade,
		&j.BreachAlerts, &j.Checklist, &j.Recommendations, &j.External, &j.RetryOf, &j.FailureReason,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ScanJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScanJob{}, err
	}
	j.Tier, j.Status = domain.Tier(tier), domain.Status(status)
	if grade != nil {
		g := domain.Grade(*grade)
		j.Grade = &g
	}
	return j, nil
}

// jsonb encodes v for a jsonb parameter. Nil slices become empty arrays so that
// concatenation never appends a JSON null.
func jsonb(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

// ScanRepository

func (db *DB) Create(ctx context.Context, req domain.NewScan) (job domain.ScanJob, err error) {
	logLines, err := jsonb(req.Log)
	if err != nil {
		return job, err
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	job, err = scanJob(tx.QueryRow(ctx, `
		INSERT INTO scans (public_id, tenant_id, user_id, domain, status, current_step, log, retry_of)
		VALUES ($1, $2, $3, $4, 'PENDING', 'Queued', $5, $6)
		RETURNING `+scanColumns,
		uuid.NewString(), req.TenantID, req.UserID, req.Domain, logLines, req.RetryOf))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return job, domain.ErrDuplicateInFlight
	}
	if err != nil {
		return job, fmt.Errorf("insert scan: %w", err)
	}
	if _, err = tx.Exec(ctx, `INSERT INTO scan_jobs (scan_id) VALUES ($1)`, job.ID); err != nil {
		return job, fmt.Errorf("enqueue scan: %w", err)
	}
	return job, nil
}

func (db *DB) Get(ctx context.Context, tenantID, publicID string) (domain.ScanJob, error) {
	return scanJob(db.Pool.QueryRow(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE tenant_id = $1 AND public_id = $2`, tenantID, publicID))
}

func (db *DB) List(ctx context.Context, tenantID string, limit int) ([]domain.ScanJob, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+scanColumns+` FROM scans WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ScanJob, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *DB) Cancel(ctx context.Context, tenantID, publicID, logLine string) (job domain.ScanJob, err error) {
	line, err := jsonb([]string{logLine})
	if err != nil {
		return job, err
	}
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	job, err = scanJob(tx.QueryRow(ctx, `
		UPDATE scans SET status = 'CANCELLED', log = log || $3, completed_at = now(), updated_at = now()
		WHERE tenant_id = $1 AND public_id = $2 AND status IN ('PENDING', 'RUNNING')
		RETURNING `+scanColumns, tenantID, publicID, line))
	if errors.Is(err, domain.ErrNotFound) {
		var exists bool
		if err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM scans WHERE tenant_id = $1 AND public_id = $2)`,
			tenantID, publicID).Scan(&exists); err != nil {
			return job, err
		}
		if exists {
			return job, domain.ErrNotCancelable
		}
		return job, domain.ErrNotFound
	}
	if err != nil {
		return job, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE scan_jobs SET status = 'cancelled', finished_at = now() WHERE scan_id = $1 AND status IN ('queued', 'running')`, job.ID)
	return job, err
}

// FirmRepository

func (db *DB) GetFirm(ctx context.Context, tenantID string) (domain.Firm, error) {
	var f domain.Firm
	var tier string
	err := db.Pool.QueryRow(ctx, `SELECT id, name, tier FROM firms WHERE id = $1`, tenantID).Scan(&f.ID, &f.Name, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return f, domain.ErrNotFound
	}
	f.Tier = domain.Tier(tier)
	return f, err
}

// UpsertFirm registers a tenant or changes its tier.
func (db *DB) UpsertFirm(ctx context.Context, f domain.Firm) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO firms (id, name, tier) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, tier = EXCLUDED.tier
	`, f.ID, f.Name, string(f.Tier))
	return err
}

// ScoreRepository

func (db *DB) UpsertScore(ctx context.Context, p domain.Posture) error {
	computed := p.ComputedAt
	if computed.IsZero() {
		computed = time.Now().UTC()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scores (tenant_id, domain, scan_id, grade, risk_score, findings, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, domain) DO UPDATE SET
			scan_id = EXCLUDED.scan_id, grade = EXCLUDED.grade, risk_score = EXCLUDED.risk_score,
			findings = EXCLUDED.findings, computed_at = EXCLUDED.computed_at
		WHERE scores.computed_at <= EXCLUDED.computed_at
	`, p.TenantID, p.Domain, p.ScanID, string(p.Grade), p.RiskScore, p.Findings, computed)
	return err
}

func (db *DB) LatestScore(ctx context.Context, tenantID, d string) (domain.Posture, bool, error) {
	p := domain.Posture{TenantID: tenantID, Domain: d}
	var grade string
	err := db.Pool.QueryRow(ctx, `
		SELECT scan_id, grade, risk_score, findings, computed_at
		FROM scores WHERE tenant_id = $1 AND domain = $2
	`, tenantID, d).Scan(&p.ScanID, &grade, &p.RiskScore, &p.Findings, &p.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Posture{}, false, nil
	}
	if err != nil {
		return domain.Posture{}, false, err
	}
	p.Grade = domain.Grade(grade)
	return p, true, nil
}
