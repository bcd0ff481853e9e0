package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/agenthands/annals/internal/core/common"
	"github.com/agenthands/annals/internal/core/model"
)

const CheckpointVersion = 1

// ErrLocked means another run holds the checkpoint directory.
var ErrLocked = errors.New("checkpoint directory is locked by another run")

// Checkpoint is the durable progress record of an ingestion run.
type Checkpoint struct {
	Version        int                      `json:"version"`
	ProcessedUnits []string                 `json:"processed_units"`
	Results        []model.ExtractionResult `json:"results,omitempty"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func NewCheckpoint() *Checkpoint {
	return &Checkpoint{Version: CheckpointVersion, ProcessedUnits: []string{}}
}

// Processed returns the processed unit ids as a set.
func (c *Checkpoint) Processed() map[string]bool {
	set := make(map[string]bool, len(c.ProcessedUnits))
	for _, id := range c.ProcessedUnits {
		set[id] = true
	}
	return set
}

// keep stores res, replacing an earlier result of the same unit so a
// replay never applies one unit twice.
func (c *Checkpoint) keep(res model.ExtractionResult) {
	if res.UnitID != "" {
		for i := range c.Results {
			if c.Results[i].UnitID == res.UnitID {
				c.Results[i] = res
				return
			}
		}
	}
	c.Results = append(c.Results, res)
}

// CheckpointStore persists checkpoints under Dir and guards the directory
// with an exclusive file lock.
type CheckpointStore struct {
	Dir  string
	lock *flock.Flock
}

func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{Dir: dir, lock: flock.New(filepath.Join(dir, ".lock"))}
}

func (s *CheckpointStore) Path() string {
	return filepath.Join(s.Dir, "progress.json")
}

// Lock takes the directory lock without blocking.
func (s *CheckpointStore) Lock() error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

func (s *CheckpointStore) Unlock() error {
	return s.lock.Unlock()
}

// Load returns the stored checkpoint, or an empty one when none exists.
func (s *CheckpointStore) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return NewCheckpoint(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("%w: corrupt checkpoint %s: %v", model.ErrCheckpointIO, s.Path(), err)
	}
	if cp.Version != CheckpointVersion {
		return nil, fmt.Errorf("%w: checkpoint version %d, want %d", model.ErrCheckpointIO, cp.Version, CheckpointVersion)
	}
	if cp.ProcessedUnits == nil {
		cp.ProcessedUnits = []string{}
	}
	return &cp, nil
}

// Save overwrites the checkpoint atomically.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	cp.Version = CheckpointVersion
	cp.UpdatedAt = time.Now().UTC()
	if err := common.WriteJSONAtomic(s.Path(), cp); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	return nil
}

func (s *CheckpointStore) Reset() error {
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	return nil
}
