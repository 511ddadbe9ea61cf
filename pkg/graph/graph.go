// Package graph defines the connection contract the batch engine runs
// statements against.
//
// A Conn is an opaque handle to a graph database that can run one Cypher
// statement at a time and return tabular results. Conns are created by a
// Dialer, owned by a pool.Pool while idle and by exactly one caller while
// checked out.
//
// Implementations must be comparable (pointer types in practice): the pool
// tracks ownership by Conn identity.
//
// Example:
//
//	dial := graph.DialNeo4j(graph.Neo4jOptions{
//		URI:      "bolt://localhost:7687",
//		Username: "neo4j",
//		Password: "password",
//		Database: "neo4j",
//	})
//	conn, err := dial(ctx)
//	if err != nil {
//		return err
//	}
//	defer conn.Close(ctx)
//
//	res, err := conn.Run(ctx, "MERGE (n:Topic {name: 'Go'})")
package graph

import "context"

// Conn runs statements against a graph database.
type Conn interface {
	// Run executes a single statement in its own auto-commit transaction.
	Run(ctx context.Context, statement string) (*Result, error)

	// Close releases the underlying network resources.
	Close(ctx context.Context) error
}

// Dialer creates a ready-to-use Conn. Any handshake is performed before it
// returns.
type Dialer func(ctx context.Context) (Conn, error)

// Result is the tabular outcome of one statement.
type Result struct {
	// Keys are the column names, in order.
	Keys []string

	// Records holds one map per returned row.
	Records []map[string]any

	// Counters reports graph mutations. Nil when the backend does not
	// report them.
	Counters *Counters
}

// Counters mirrors the update statistics a Cypher server returns in its
// result summary.
type Counters struct {
	NodesCreated         int `json:"nodes_created"`
	NodesDeleted         int `json:"nodes_deleted"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsDeleted int `json:"relationships_deleted"`
	PropertiesSet        int `json:"properties_set"`
	LabelsAdded          int `json:"labels_added"`
	LabelsRemoved        int `json:"labels_removed"`
	IndexesAdded         int `json:"indexes_added"`
	IndexesRemoved       int `json:"indexes_removed"`
	ConstraintsAdded     int `json:"constraints_added"`
	ConstraintsRemoved   int `json:"constraints_removed"`
}

// Total sums every counter. A MERGE that matched existing data reports 0.
func (c *Counters) Total() int {
	if c == nil {
		return 0
	}
	return c.NodesCreated + c.NodesDeleted +
		c.RelationshipsCreated + c.RelationshipsDeleted +
		c.PropertiesSet + c.LabelsAdded + c.LabelsRemoved +
		c.IndexesAdded + c.IndexesRemoved +
		c.ConstraintsAdded + c.ConstraintsRemoved
}

// RowCount returns the number of returned rows, 0 for a nil Result.
func (r *Result) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}
