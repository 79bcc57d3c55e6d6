package ports

import (
	"context"

	"complylaw/internal/domain"
)

// JobRepository is the single-writer side of the scan record used by the orchestrator.
// Every write except Claim is guarded by status RUNNING and fails with
// domain.ErrNotRunning once the scan has left it.
type JobRepository interface {
	// ClaimNext claims the oldest PENDING scan. found is false when the queue is empty.
	ClaimNext(ctx context.Context) (job domain.ScanJob, found bool, err error)
	// Claim moves a specific scan from PENDING to RUNNING, or fails with
	// domain.ErrClaimConflict if it is not PENDING.
	Claim(ctx context.Context, scanID int64) (domain.ScanJob, error)
	Load(ctx context.Context, scanID int64) (domain.ScanJob, error)
	Status(ctx context.Context, scanID int64) (domain.Status, error)
	Checkpoint(ctx context.Context, scanID int64, cp domain.Checkpoint) error
	Finalize(ctx context.Context, scanID int64, out domain.Outcome) error
	MarkFailed(ctx context.Context, scanID int64, reason string) error
}
