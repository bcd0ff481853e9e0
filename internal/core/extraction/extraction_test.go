package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/annals/internal/config"
	"github.com/agenthands/annals/internal/core/model"
)

// TestExtractParsesCandidates checks that a well-formed response is mapped
// onto the extraction result and stamped with the unit's identity.
func TestExtractParsesCandidates(t *testing.T) {
	mockJSON := `{
		"persons": [
			{"name": "朱温", "aliases": ["朱全忠"], "role": "节度使", "death_year": 912},
			{"name": "李克用", "aliases": ["晋王"]}
		],
		"organizations": [{"name": "后梁", "founder": "朱温", "start_year": 907}],
		"events": [{"name": "上源驿之变", "year": 884, "participants": ["朱温", "李克用"]}],
		"places": [{"name": "汴州", "modern_name": "开封"}],
		"relations": [{"source": "朱温", "target": "李克用", "relation_type": "enemy of"}]
	}`
	mockLLM := &MockLLMClient{Response: mockJSON}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{})

	unit := model.Unit{ID: "u-001", Section: "唐纪八十", Text: "朱全忠与李克用有隙。"}
	res, err := extractor.Extract(context.Background(), unit, []model.KnownPerson{{Name: "黄巢"}})
	require.NoError(t, err)

	assert.Len(t, res.Persons, 2)
	assert.Equal(t, 912, *res.Persons[0].DeathYear)
	assert.Equal(t, "后梁", res.Organizations[0].Name)
	assert.Equal(t, []string{"朱温", "李克用"}, res.Events[0].Participants)
	assert.Equal(t, "enemy of", res.Relations[0].Type)
	assert.Equal(t, "u-001", res.UnitID)
	assert.Equal(t, "唐纪八十", res.Section)

	assert.Contains(t, mockLLM.LastPrompt, "- 黄巢")
	assert.Contains(t, mockLLM.LastPrompt, "[唐纪八十]")
}

func TestExtractLimitsKnownContext(t *testing.T) {
	mockLLM := &MockLLMClient{Response: `{"persons": []}`}
	extractor := NewExtractor(mockLLM, config.ExtractionPrompts{Unit: "%s|%s", KnownContext: 1})

	known := []model.KnownPerson{{Name: "甲乙", Aliases: []string{"丙丁"}}, {Name: "戊己"}}
	_, err := extractor.Extract(context.Background(), model.Unit{ID: "u", Text: "t"}, known)
	require.NoError(t, err)
	assert.Equal(t, "- 甲乙 (丙丁)\n|t", mockLLM.LastPrompt)
}

func TestExtractUnparseableIsExtractionFailure(t *testing.T) {
	extractor := NewExtractor(&MockLLMClient{Response: "I cannot help with that."}, config.ExtractionPrompts{})

	_, err := extractor.Extract(context.Background(), model.Unit{ID: "u"}, nil)
	assert.ErrorIs(t, err, model.ErrExtraction)
}

func TestExtractLLMErrorIsExtractionFailure(t *testing.T) {
	cause := errors.New("upstream 502")
	extractor := NewExtractor(&MockLLMClient{Err: cause}, config.ExtractionPrompts{})

	_, err := extractor.Extract(context.Background(), model.Unit{ID: "u"}, nil)
	assert.ErrorIs(t, err, model.ErrExtraction)
	assert.ErrorIs(t, err, cause)
}
