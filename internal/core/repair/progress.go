package repair

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agenthands/annals/internal/core/common"
	"github.com/agenthands/annals/internal/core/model"
)

// AliasFix records one alias correction for later review.
type AliasFix struct {
	Name     string   `json:"name"`
	Original []string `json:"original_aliases"`
	Kept     []string `json:"kept_aliases"`
	Removed  []string `json:"removed_aliases"`
}

// Progress is the repair tool's exclusion history.
type Progress struct {
	AliasesDone   []string            `json:"aliases_done"`
	RelationsDone bool                `json:"relations_done"`
	AliasFixes    map[string]AliasFix `json:"alias_fixes"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func LoadProgress(path string) (*Progress, error) {
	p := &Progress{AliasesDone: []string{}, AliasFixes: map[string]AliasFix{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: corrupt repair progress %s: %v", model.ErrCheckpointIO, path, err)
	}
	if p.AliasFixes == nil {
		p.AliasFixes = map[string]AliasFix{}
	}
	return p, nil
}

func SaveProgress(path string, p *Progress) error {
	p.UpdatedAt = time.Now().UTC()
	if err := common.WriteJSONAtomic(path, p); err != nil {
		return fmt.Errorf("%w: %v", model.ErrCheckpointIO, err)
	}
	return nil
}
