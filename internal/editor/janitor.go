package editor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vitae-app/vitae/internal/domain"
)

// JanitorConfig holds tunable parameters for the janitor loop.
type JanitorConfig struct {
	CheckIntervalSec int
}

// Janitor removes workspace files whose document no longer exists, e.g. after
// the database was replaced or a delete was interrupted.
type Janitor struct {
	Service *Service
	Config  JanitorConfig

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewJanitor creates a Janitor with sensible defaults for zero-value config fields.
func NewJanitor(svc *Service, cfg JanitorConfig) *Janitor {
	if cfg.CheckIntervalSec == 0 {
		cfg.CheckIntervalSec = 600
	}
	return &Janitor{
		Service: svc,
		Config:  cfg,
		stopCh:  make(chan struct{}),
	}
}

// Sweep purges orphaned workspace files and returns the ids it removed.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	s := j.Service
	ids, err := s.Coordinator.Workspace.IDs()
	if err != nil {
		return nil, err
	}

	var purged []string
	for _, id := range ids {
		unlock := s.Locks.Lock(id)
		_, err := s.Documents.Get(ctx, s.DB, id)
		switch {
		case errors.Is(err, domain.ErrDocumentNotFound):
			s.Coordinator.Workspace.Purge(id)
			purged = append(purged, id)
		case err != nil:
			unlock()
			return purged, err
		}
		unlock()
	}

	if len(purged) > 0 {
		s.Logger.Info("orphaned workspace files removed", "documents", len(purged))
	}
	return purged, nil
}

// StartMonitoring sweeps once, then periodically in a goroutine.
func (j *Janitor) StartMonitoring(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(j.Config.CheckIntervalSec) * time.Second)
	go func() {
		defer ticker.Stop()
		j.sweepLogged(ctx)
		for {
			select {
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.sweepLogged(ctx)
			}
		}
	}()
}

// StopMonitoring signals the monitoring goroutine to stop. Safe to call multiple times.
func (j *Janitor) StopMonitoring() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}

func (j *Janitor) sweepLogged(ctx context.Context) {
	if _, err := j.Sweep(ctx); err != nil {
		j.Service.Logger.Warn("workspace sweep failed", "error", err)
	}
}
