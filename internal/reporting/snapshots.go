package reporting

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/internal/locator"
	"github.com/xkilldash9x/quill/internal/store"
)

// Capturer is the part of a page able to produce a snapshot.
type Capturer interface {
	Snapshot(ctx context.Context) (locator.Snapshot, error)
}

// Snapshots writes page captures into a run directory.
type Snapshots struct {
	page   Capturer
	docs   *store.Documents
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// Capture snapshots the page and returns where it was written.
func (s *Snapshots) Capture(ctx context.Context, label string) (string, error) {
	snap, err := s.page.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("reporting: failed to capture %s snapshot: %w", label, err)
	}
	path, err := s.docs.WriteSnapshot(s.dir, label, s.now(), snap)
	if err != nil {
		return "", fmt.Errorf("reporting: %w", err)
	}
	s.logger.Info("Snapshot saved.", zap.String("label", label), zap.String("path", path))
	return path, nil
}
