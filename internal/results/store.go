// Package results persists evaluation runs so they can be listed and
// compared after the fact.
package results

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// Store saves and loads evaluation runs.
type Store interface {
	// Save stores run, replacing any run with the same ID.
	Save(ctx context.Context, run *evaluation.Run) error

	// Load returns the run with the given ID, or a NOT_FOUND error.
	Load(ctx context.Context, id string) (*evaluation.Run, error)

	// List returns every stored run, newest first.
	List(ctx context.Context) ([]RunInfo, error)

	// Delete removes a run. Deleting a missing run is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases resources held by the store.
	Close() error
}

// RunInfo is the listing view of a stored run.
type RunInfo struct {
	ID        string             `json:"id"`
	Dataset   string             `json:"dataset,omitempty"`
	Metrics   []string           `json:"metrics"`
	Queries   int                `json:"queries"`
	Failures  int                `json:"failures,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  string             `json:"duration"`
	Mean      map[string]float64 `json:"mean,omitempty"`
}

// Info summarizes run for listings.
func Info(run *evaluation.Run) RunInfo {
	info := RunInfo{
		ID:        run.ID,
		Dataset:   run.Dataset,
		Metrics:   run.Metrics,
		Queries:   len(run.Results),
		Failures:  len(run.Failures),
		StartedAt: run.StartedAt,
		Duration:  run.Duration().String(),
	}
	if run.Summary != nil {
		info.Mean = run.Summary.Mean
	}
	return info
}

// New creates the store selected by cfg.Type. It returns a nil Store for
// type "none".
func New(cfg config.ResultsConfig, log *logger.Logger) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "file":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("Using file results store", "dir", cfg.Dir)
		return s, nil
	case "redis":
		s, err := NewRedisStore(cfg.RedisURL, cfg.TTL)
		if err != nil {
			return nil, err
		}
		log.Info("Using redis results store", "ttl", cfg.TTL.String())
		return s, nil
	default:
		return nil, fmt.Errorf("unknown results store type: %s", cfg.Type)
	}
}

func validateRun(run *evaluation.Run) error {
	if run == nil {
		return apperrors.ValidationError("run is nil")
	}
	return validateID(run.ID)
}

// validateID rejects ids that cannot be used as a file name or key suffix.
func validateID(id string) error {
	if id == "" {
		return apperrors.ValidationError("run id is empty")
	}
	if strings.ContainsAny(id, `/\:`) || id == "." || id == ".." {
		return apperrors.ValidationError(fmt.Sprintf("invalid run id %q", id))
	}
	return nil
}

func sortNewestFirst(infos []RunInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
}
