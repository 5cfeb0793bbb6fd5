// Package janitor runs periodic housekeeping jobs.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/you/tg-mediadl/internal/history"
)

type Job interface {
	Do(ctx context.Context) error
}

// StartJob runs job every interval until ctx is done.
func StartJob(ctx context.Context, name string, job Job, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := job.Do(ctx); err != nil {
					log.Error().Err(err).Str("job", name).Msg("failed to do job")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

type retainedStore interface {
	ExpiredRetained(ctx context.Context, now time.Time) ([]history.Retained, error)
	DeleteRetained(ctx context.Context, id string) error
}

// RetainCleanJob removes retained results whose lifetime is over, and stray
// directories under the retain root that no record points to.
type RetainCleanJob struct {
	Root  string
	Store retainedStore
	// MaxAge bounds unrecorded leftovers, e.g. from a crash before the record was written.
	MaxAge time.Duration
	Now    func() time.Time
}

func (j *RetainCleanJob) Do(ctx context.Context) error {
	now := time.Now()
	if j.Now != nil {
		now = j.Now()
	}
	expired, err := j.Store.ExpiredRetained(ctx, now)
	if err != nil {
		return err
	}
	for _, ret := range expired {
		dir := filepath.Join(j.Root, ret.ID)
		if err := os.RemoveAll(dir); err != nil {
			log.Error().Err(err).Str("retain_id", ret.ID).Msg("failed to remove retained file")
			continue
		}
		if err := j.Store.DeleteRetained(ctx, ret.ID); err != nil {
			return err
		}
		log.Debug().Str("retain_id", ret.ID).Msg("retained file removed")
	}
	if j.MaxAge > 0 {
		if err := j.removeStale(now); err != nil {
			return err
		}
	}
	return nil
}

func (j *RetainCleanJob) removeStale(now time.Time) error {
	entries, err := os.ReadDir(j.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read retain dir: %w", err)
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		logger := log.With().Str("file_name", e.Name()).Str("last_modified_time", info.ModTime().String()).Logger()
		if now.Sub(info.ModTime()) < j.MaxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(j.Root, e.Name())); err != nil {
			logger.Error().Err(err).Msg("failed to remove file")
			continue
		}
		logger.Debug().Msg("stale file removed")
	}
	return nil
}

type sweeper interface {
	Sweep() int
}

// SessionSweepJob drops expired in-memory sessions.
type SessionSweepJob struct {
	Store sweeper
}

func (j *SessionSweepJob) Do(context.Context) error {
	if n := j.Store.Sweep(); n > 0 {
		log.Debug().Int("sessions", n).Msg("expired sessions swept")
	}
	return nil
}
