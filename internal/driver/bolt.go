package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/annals/internal/logger"
)

type Flavor string

const (
	FlavorMemgraph Flavor = "memgraph"
	FlavorNeo4j    Flavor = "neo4j"
)

// Labels that carry a uid index and a name index.
var IndexedLabels = []string{"Person", "Organization", "Event", "Place"}

// BoltDriver talks to Memgraph or Neo4j; the two differ only in DDL syntax.
type BoltDriver struct {
	Driver neo4j.DriverWithContext
	Flavor Flavor
}

func NewBoltDriver(ctx context.Context, uri, username, password string, flavor Flavor) (*BoltDriver, error) {
	d, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, err
	}

	if err := d.VerifyConnectivity(ctx); err != nil {
		_ = d.Close(ctx)
		return nil, fmt.Errorf("failed to reach graph at %s: %w", uri, err)
	}

	logger.Info("connected to graph", "uri", uri, "flavor", flavor)
	return &BoltDriver{Driver: d, Flavor: flavor}, nil
}

func (d *BoltDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *BoltDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// BuildIndices creates uid/name indexes and a full-text index per label.
// Failures are logged and skipped since most mean the index already exists.
func (d *BoltDriver) BuildIndices(ctx context.Context) error {
	for _, q := range SchemaQueries(d.Flavor) {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			logger.Warn("failed to create index", "query", q, "err", err)
		}
	}
	return nil
}

// SchemaQueries returns the DDL statements for the given flavor.
func SchemaQueries(flavor Flavor) []string {
	var queries []string
	for _, label := range IndexedLabels {
		switch flavor {
		case FlavorNeo4j:
			queries = append(queries,
				fmt.Sprintf("CREATE CONSTRAINT %s_uid IF NOT EXISTS FOR (n:%s) REQUIRE n.uid IS UNIQUE", label, label),
				fmt.Sprintf("CREATE INDEX %s_name IF NOT EXISTS FOR (n:%s) ON (n.name)", label, label),
				fmt.Sprintf("CREATE FULLTEXT INDEX %s_text IF NOT EXISTS FOR (n:%s) ON EACH [n.name, n.description]", label, label),
			)
		default:
			queries = append(queries,
				fmt.Sprintf("CREATE INDEX ON :%s(uid);", label),
				fmt.Sprintf("CREATE INDEX ON :%s(name);", label),
			)
		}
	}
	return queries
}
