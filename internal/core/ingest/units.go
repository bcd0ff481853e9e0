package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agenthands/annals/internal/core/common"
	"github.com/agenthands/annals/internal/core/model"
)

// LoadUnits reads an ordered JSON array of units. Ids must be present and
// unique because they key the checkpoint.
func LoadUnits(path string) ([]model.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read units %s: %w", path, err)
	}
	var units []model.Unit
	if err := json.Unmarshal(data, &units); err != nil {
		return nil, fmt.Errorf("parse units %s: %w", path, err)
	}

	seen := make(map[string]bool, len(units))
	for i, u := range units {
		if u.ID == "" {
			return nil, fmt.Errorf("units %s: entry %d has no id", path, i)
		}
		if seen[u.ID] {
			return nil, fmt.Errorf("units %s: duplicate id %q", path, u.ID)
		}
		seen[u.ID] = true
	}
	return units, nil
}

// LoadSeed reads a hand-written extraction result. The usual LLM output
// quirks (fences, trailing commas) are tolerated.
func LoadSeed(path string) (*model.ExtractionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	res, err := common.ParseJSON[model.ExtractionResult](string(data))
	if err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	if res.UnitID == "" {
		res.UnitID = "seed"
	}
	return &res, nil
}
