package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/agenthands/annals/internal/core/extraction"
	"github.com/agenthands/annals/internal/core/identity"
	"github.com/agenthands/annals/internal/core/model"
	"github.com/agenthands/annals/internal/core/repo"
	"github.com/agenthands/annals/internal/logger"
	"github.com/agenthands/annals/internal/metrics"
	"github.com/agenthands/annals/internal/store"
)

type State string

const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateExtracting    State = "extracting"
	StateWriting       State = "writing"
	StateCheckpointing State = "checkpointing"
	StateUnitFailed    State = "unit_failed"
	StateDone          State = "done"
)

// DefaultKnownLimit bounds the known-persons context handed to the extractor.
const DefaultKnownLimit = 200

type Options struct {
	// Clear wipes the graph and the checkpoint before starting.
	Clear bool
	// Resume skips units already recorded in the checkpoint.
	Resume bool
	// StartFrom and MaxUnits slice the pending units, after resume filtering.
	StartFrom int
	MaxUnits  int
}

type Stats struct {
	UnitsSeen      int `json:"units_seen"`
	UnitsSkipped   int `json:"units_skipped"`
	UnitsProcessed int `json:"units_processed"`
	UnitsFailed    int `json:"units_failed"`
	PersonsCreated int `json:"persons_created"`
	PersonsMerged  int `json:"persons_merged"`
	MergeAborts    int `json:"merge_aborts"`
	EdgesCreated   int `json:"edges_created"`
	EdgesSkipped   int `json:"edges_skipped"`
	WriteFailures  int `json:"write_failures"`
}

func (s *Stats) add(u UnitStats) {
	s.PersonsCreated += u.PersonsCreated
	s.PersonsMerged += u.PersonsMerged
	s.MergeAborts += u.MergeAborts
	s.EdgesCreated += u.EdgesCreated
	s.EdgesSkipped += u.EdgesSkipped
	s.WriteFailures += u.WriteFailures
}

// Orchestrator drives units through extraction and writing one at a time
// and records progress so an interrupted run can resume.
type Orchestrator struct {
	Store       store.Store
	Repo        *repo.Repository
	Extractor   extraction.Collaborator
	Writer      *Writer
	Index       *identity.NameIndex
	Checkpoints *CheckpointStore
	Limiter     *rate.Limiter

	FlushEvery  int
	KnownLimit  int
	KeepResults bool

	// OnState, when set, observes every state transition.
	OnState func(State)

	mu    sync.RWMutex
	state State
}

func NewOrchestrator(
	s store.Store,
	r *repo.Repository,
	extractor extraction.Collaborator,
	writer *Writer,
	index *identity.NameIndex,
	checkpoints *CheckpointStore,
	callInterval time.Duration,
	flushEvery int,
) *Orchestrator {
	limit := rate.Inf
	if callInterval > 0 {
		limit = rate.Every(callInterval)
	}
	if flushEvery < 1 {
		flushEvery = 1
	}
	return &Orchestrator{
		Store:       s,
		Repo:        r,
		Extractor:   extractor,
		Writer:      writer,
		Index:       index,
		Checkpoints: checkpoints,
		Limiter:     rate.NewLimiter(limit, 1),
		FlushEvery:  flushEvery,
		KnownLimit:  DefaultKnownLimit,
		state:       StateIdle,
	}
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.OnState != nil {
		o.OnState(s)
	}
}

// Run processes units in order. A unit is recorded as processed only after
// all of its writes were attempted, so a crash mid-unit reprocesses it.
// Checkpoint I/O failures abort the run; everything else is counted and
// skipped. On cancellation the checkpoint is flushed and ctx.Err returned.
func (o *Orchestrator) Run(ctx context.Context, units []model.Unit, opts Options) (Stats, error) {
	var stats Stats
	o.setState(StateLoading)
	defer o.setState(StateDone)

	unlock, err := o.lock()
	if err != nil {
		return stats, err
	}
	defer unlock()

	cp, err := o.prepare(ctx, opts)
	if err != nil {
		return stats, err
	}

	processed := cp.Processed()
	pending := make([]model.Unit, 0, len(units))
	for _, u := range units {
		stats.UnitsSeen++
		if opts.Resume && processed[u.ID] {
			stats.UnitsSkipped++
			metrics.UnitsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		pending = append(pending, u)
	}
	pending = window(pending, opts.StartFrom, opts.MaxUnits)

	logger.Info("ingestion starting",
		"units", len(units), "pending", len(pending), "skipped", stats.UnitsSkipped, "known_persons", o.Index.Len())

	sinceFlush := 0
	for i, unit := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := o.Limiter.Wait(ctx); err != nil {
			break
		}

		o.setState(StateExtracting)
		res, err := o.Extractor.Extract(ctx, unit, o.Index.Known(o.KnownLimit))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			o.setState(StateUnitFailed)
			stats.UnitsFailed++
			metrics.UnitsTotal.WithLabelValues("failed").Inc()
			logger.Error("unit extraction failed", "unit", unit.ID, "err", err)
		} else {
			o.setState(StateWriting)
			us := o.Writer.Apply(ctx, res)
			if ctx.Err() != nil {
				break
			}
			stats.add(us)
			stats.UnitsProcessed++
			metrics.UnitsTotal.WithLabelValues("processed").Inc()
			if o.KeepResults {
				cp.keep(*res)
			}
			logger.Debug("unit written", "unit", unit.ID, "n", i+1, "of", len(pending),
				"created", us.PersonsCreated, "merged", us.PersonsMerged, "edges", us.EdgesCreated)
		}
		cp.ProcessedUnits = append(cp.ProcessedUnits, unit.ID)

		sinceFlush++
		if sinceFlush >= o.FlushEvery {
			sinceFlush = 0
			if err := o.flush(ctx, cp); err != nil {
				return stats, err
			}
		}
	}

	// Final flush runs even when ctx is cancelled.
	if err := o.flush(context.WithoutCancel(ctx), cp); err != nil {
		return stats, err
	}
	logger.Info("ingestion finished",
		"processed", stats.UnitsProcessed, "failed", stats.UnitsFailed, "skipped", stats.UnitsSkipped,
		"persons_created", stats.PersonsCreated, "persons_merged", stats.PersonsMerged,
		"edges", stats.EdgesCreated, "write_failures", stats.WriteFailures)
	return stats, ctx.Err()
}

// lock takes the checkpoint directory lock shared by every writing run.
func (o *Orchestrator) lock() (func(), error) {
	if err := o.Checkpoints.Lock(); err != nil {
		return nil, err
	}
	return func() {
		if err := o.Checkpoints.Unlock(); err != nil {
			logger.Warn("release checkpoint lock", "err", err)
		}
	}, nil
}

func (o *Orchestrator) prepare(ctx context.Context, opts Options) (*Checkpoint, error) {
	cp := NewCheckpoint()
	if opts.Clear {
		if err := o.Store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear graph: %w", err)
		}
		if err := o.Checkpoints.Reset(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := o.Checkpoints.Load()
		if err != nil {
			return nil, err
		}
		// Results are kept across runs; processed ids only matter on resume.
		cp.Results = loaded.Results
		if opts.Resume {
			cp = loaded
		}
	}

	if err := o.Index.Refresh(ctx, o.Repo); err != nil {
		return nil, err
	}
	return cp, nil
}

func (o *Orchestrator) flush(ctx context.Context, cp *Checkpoint) error {
	o.setState(StateCheckpointing)
	if err := o.Checkpoints.Save(cp); err != nil {
		return err
	}
	if err := o.Index.Refresh(ctx, o.Repo); err != nil {
		logger.Warn("name index refresh failed", "err", err)
	}
	return nil
}

func window[T any](items []T, start, limit int) []T {
	if start > 0 {
		if start >= len(items) {
			return nil
		}
		items = items[start:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// RunFromSaved replays the extraction results kept in the checkpoint
// without calling the extractor.
func (o *Orchestrator) RunFromSaved(ctx context.Context, opts Options) (Stats, error) {
	var stats Stats
	o.setState(StateLoading)
	defer o.setState(StateDone)

	unlock, err := o.lock()
	if err != nil {
		return stats, err
	}
	defer unlock()

	cp, err := o.Checkpoints.Load()
	if err != nil {
		return stats, err
	}
	if opts.Clear {
		if err := o.Store.Clear(ctx); err != nil {
			return stats, fmt.Errorf("clear graph: %w", err)
		}
	}
	if err := o.Index.Refresh(ctx, o.Repo); err != nil {
		return stats, err
	}

	results := window(cp.Results, opts.StartFrom, opts.MaxUnits)
	for i := range results {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.UnitsSeen++
		o.setState(StateWriting)
		stats.add(o.Writer.Apply(ctx, &results[i]))
		stats.UnitsProcessed++
	}
	logger.Info("replay finished", "results", stats.UnitsProcessed, "persons_created", stats.PersonsCreated,
		"persons_merged", stats.PersonsMerged, "edges", stats.EdgesCreated)
	return stats, nil
}

// Seed writes a curated extraction result through the same resolvers.
func (o *Orchestrator) Seed(ctx context.Context, res *model.ExtractionResult) (Stats, error) {
	var stats Stats
	unlock, err := o.lock()
	if err != nil {
		return stats, err
	}
	defer unlock()

	if err := o.Index.Refresh(ctx, o.Repo); err != nil {
		return stats, err
	}
	stats.UnitsSeen = 1
	stats.add(o.Writer.Apply(ctx, res))
	stats.UnitsProcessed = 1
	return stats, nil
}
