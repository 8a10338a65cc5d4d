package ports

import (
	"context"

	"argus/internal/domain"
)

// Scanner is the submission seam used by external producers (the public API,
// admin tooling). The core never calls back into producers.
type Scanner interface {
	Submit(ctx context.Context, rawURL string) (scan domain.Scan, cached bool, err error)
	Status(ctx context.Context, scanID string) (domain.Scan, error)
	Report(ctx context.Context, scanID string) (domain.Scan, []domain.Issue, error)
}
