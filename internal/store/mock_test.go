package store

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executed struct {
	Query  string
	Params map[string]any
}

// MockDriver records every query and replays ResultQueue in order, then
// MockResult.
type MockDriver struct {
	Executed    []executed
	MockResult  neo4j.EagerResult
	ResultQueue []neo4j.EagerResult
	Err         error
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	m.Executed = append(m.Executed, executed{Query: query, Params: params})
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	if len(m.ResultQueue) > 0 {
		res := m.ResultQueue[0]
		m.ResultQueue = m.ResultQueue[1:]
		return res, nil
	}
	return m.MockResult, nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error { return nil }

func (m *MockDriver) Close(ctx context.Context) error { return nil }

func (m *MockDriver) Last() executed {
	return m.Executed[len(m.Executed)-1]
}

func result(keys []string, rows ...[]any) neo4j.EagerResult {
	res := neo4j.EagerResult{Keys: keys}
	for _, row := range rows {
		res.Records = append(res.Records, &neo4j.Record{Keys: keys, Values: row})
	}
	return res
}
