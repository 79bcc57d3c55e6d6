package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"complylaw/internal/domain"
)

// claimScan moves a PENDING scan to RUNNING inside tx. It returns domain.ErrClaimConflict
// when the scan is not PENDING.
func claimScan(ctx context.Context, tx pgx.Tx, scanID int64) (domain.ScanJob, error) {
	job, err := scanJob(tx.QueryRow(ctx, `
		UPDATE scans SET status = 'RUNNING', current_step = 'Starting scan...',
			started_at = COALESCE(started_at, now()), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING `+scanColumns, scanID))
	if errors.Is(err, domain.ErrNotFound) {
		return job, domain.ErrClaimConflict
	}
	if err != nil {
		return job, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE scan_jobs SET status = 'running', started_at = now(), attempts = attempts + 1
		WHERE scan_id = $1
	`, scanID)
	return job, err
}

// ClaimNext locks the oldest queued job with SKIP LOCKED and starts its scan. Jobs whose
// scan was cancelled while queued are retired on the way.
func (db *DB) ClaimNext(ctx context.Context) (job domain.ScanJob, found bool, err error) {
	for {
		job, found, err = db.claimNext(ctx)
		if !errors.Is(err, domain.ErrClaimConflict) {
			return job, found, err
		}
	}
}

func (db *DB) claimNext(ctx context.Context) (job domain.ScanJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrClaimConflict) {
			_ = tx.Rollback(ctx)
		} else if cerr := tx.Commit(ctx); cerr != nil {
			err = cerr
		}
	}()

	var jobID, scanID int64
	err = tx.QueryRow(ctx, `
		SELECT id, scan_id FROM scan_jobs
		WHERE status = 'queued'
		ORDER BY queued_at, id
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&jobID, &scanID)
	if errors.Is(err, pgx.ErrNoRows) {
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	job, err = claimScan(ctx, tx, scanID)
	if errors.Is(err, domain.ErrClaimConflict) {
		if _, xerr := tx.Exec(ctx, `UPDATE scan_jobs SET status = 'dropped', finished_at = now() WHERE id = $1`, jobID); xerr != nil {
			return job, false, xerr
		}
		return job, false, err
	}
	if err != nil {
		return job, false, err
	}
	return job, true, nil
}

// Claim starts a specific scan, as the inline path does.
func (db *DB) Claim(ctx context.Context, scanID int64) (job domain.ScanJob, err error) {
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

	var queued bool
	err = tx.QueryRow(ctx, `
		SELECT status = 'queued' FROM scan_jobs WHERE scan_id = $1 FOR UPDATE SKIP LOCKED
	`, scanID).Scan(&queued)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scans WHERE id = $1)`, scanID).Scan(&exists); err != nil {
			return job, err
		}
		if !exists {
			return job, domain.ErrNotFound
		}
		// Locked by a concurrent claim.
		return job, domain.ErrClaimConflict
	}
	if err != nil {
		return job, err
	}
	if !queued {
		return job, domain.ErrClaimConflict
	}
	return claimScan(ctx, tx, scanID)
}

func (db *DB) Load(ctx context.Context, scanID int64) (domain.ScanJob, error) {
	return scanJob(db.Pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, scanID))
}

func (db *DB) Status(ctx context.Context, scanID int64) (domain.Status, error) {
	var st string
	err := db.Pool.QueryRow(ctx, `SELECT status FROM scans WHERE id = $1`, scanID).Scan(&st)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	return domain.Status(st), err
}

// Checkpoint applies cp to a RUNNING scan. Progress and completed counts only grow.
func (db *DB) Checkpoint(ctx context.Context, scanID int64, cp domain.Checkpoint) error {
	lines, err := jsonb(cp.LogLines)
	if err != nil {
		return err
	}
	findings, err := jsonb(cp.Findings)
	if err != nil {
		return err
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE scans SET
			progress = GREATEST(progress, $2),
			current_step = COALESCE(NULLIF($3, ''), current_step),
			tier = COALESCE(NULLIF($4, ''), tier),
			checks_total = CASE WHEN $5 > 0 THEN $5 ELSE checks_total END,
			checks_completed = GREATEST(checks_completed, $6),
			log = log || $7,
			findings = findings || $8,
			updated_at = now()
		WHERE id = $1 AND status = 'RUNNING'
	`, scanID, cp.Progress, cp.Step, string(cp.Tier), cp.ChecksTotal, cp.ChecksCompleted, lines, findings)
	if err != nil {
		return fmt.Errorf("checkpoint scan %d: %w", scanID, err)
	}
	if tag.RowsAffected() == 0 {
		return db.notRunning(ctx, scanID)
	}
	return nil
}

func (db *DB) Finalize(ctx context.Context, scanID int64, out domain.Outcome) (err error) {
	lines, err := jsonb(out.LogLines)
	if err != nil {
		return err
	}
	alerts, err := jsonb(out.BreachAlerts)
	if err != nil {
		return err
	}
	recs, err := jsonb(out.Recommendations)
	if err != nil {
		return err
	}
	completed := out.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE scans SET
			status = 'COMPLETED', progress = 100, current_step = 'Complete!',
			grade = $2, risk_score = $3, log = log || $4, breach_alerts = $5,
			checklist = $6, recommendations = $7, external = $8,
			completed_at = $9, updated_at = now()
		WHERE id = $1 AND status = 'RUNNING'
	`, scanID, string(out.Grade), out.RiskScore, lines, alerts, out.Checklist, recs, out.External, completed)
	if err != nil {
		return fmt.Errorf("finalize scan %d: %w", scanID, err)
	}
	if tag.RowsAffected() == 0 {
		return db.notRunning(ctx, scanID)
	}
	_, err = tx.Exec(ctx, `UPDATE scan_jobs SET status = 'completed', finished_at = now() WHERE scan_id = $1`, scanID)
	return err
}

// MarkFailed fails a PENDING or RUNNING scan and records reason.
func (db *DB) MarkFailed(ctx context.Context, scanID int64, reason string) (err error) {
	line, err := jsonb([]string{"[FAILED] " + reason})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE scans SET status = 'FAILED', failure_reason = $2, log = log || $3,
			completed_at = now(), updated_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`, scanID, reason, line)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return db.notRunning(ctx, scanID)
	}
	_, err = tx.Exec(ctx, `UPDATE scan_jobs SET status = 'failed', finished_at = now() WHERE scan_id = $1`, scanID)
	return err
}

// ReapStale fails scans that have been RUNNING for longer than olderThan.
func (db *DB) ReapStale(ctx context.Context, olderThan time.Duration, reason string) (int, error) {
	line, err := jsonb([]string{"[FAILED] " + reason})
	if err != nil {
		return 0, err
	}
	rows, err := db.Pool.Query(ctx, `
		UPDATE scans SET status = 'FAILED', failure_reason = $2, log = log || $3,
			completed_at = now(), updated_at = now()
		WHERE status = 'RUNNING' AND started_at < now() - make_interval(secs => $1)
		RETURNING id
	`, olderThan.Seconds(), reason, line)
	if err != nil {
		return 0, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		if _, err := db.Pool.Exec(ctx,
			`UPDATE scan_jobs SET status = 'failed', finished_at = now() WHERE scan_id = ANY($1)`, ids); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}

func (db *DB) notRunning(ctx context.Context, scanID int64) error {
	if _, err := db.Status(ctx, scanID); err != nil {
		return err
	}
	return domain.ErrNotRunning
}
