package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

// Neo4jOptions configures a Bolt connection to Neo4j or any Bolt-compatible
// server.
type Neo4jOptions struct {
	// URI of the server, e.g. bolt://localhost:7687 or neo4j://cluster:7687.
	URI string
	// Username and Password for basic auth. An empty Username disables auth.
	Username string
	Password string
	// Database to run statements against. Empty selects the server default.
	Database string
	// ConnectTimeout bounds the initial handshake. Zero uses the driver default.
	ConnectTimeout time.Duration
}

// neo4jConn is one pool slot: a driver limited to a single Bolt connection.
type neo4jConn struct {
	driver   neo4j.DriverWithContext
	database string
}

// DialNeo4j returns a Dialer that opens a dedicated driver per Conn and
// verifies connectivity before handing it out, so the pool pays the
// handshake cost at startup.
func DialNeo4j(opts Neo4jOptions) Dialer {
	return func(ctx context.Context) (Conn, error) {
		auth := neo4j.NoAuth()
		if opts.Username != "" {
			auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
		}

		driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *config.Config) {
			c.MaxConnectionPoolSize = 1
			if opts.ConnectTimeout > 0 {
				c.SocketConnectTimeout = opts.ConnectTimeout
			}
		})
		if err != nil {
			return nil, fmt.Errorf("creating neo4j driver for %s: %w", opts.URI, err)
		}

		if err := driver.VerifyConnectivity(ctx); err != nil {
			_ = driver.Close(ctx)
			return nil, fmt.Errorf("verifying connectivity to %s: %w", opts.URI, err)
		}

		return &neo4jConn{driver: driver, database: opts.Database}, nil
	}
}

// Run executes statement in an auto-commit transaction. Schema statements
// such as CREATE CONSTRAINT cannot share a transaction with data writes, so
// each statement gets its own.
func (c *neo4jConn) Run(ctx context.Context, statement string) (*Result, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer closeSession(ctx, session)

	res, err := session.Run(ctx, statement, nil)
	if err != nil {
		return nil, err
	}

	keys, err := res.Keys()
	if err != nil {
		return nil, err
	}

	records, err := res.Collect(ctx)
	if err != nil {
		return nil, err
	}

	summary, err := res.Consume(ctx)
	if err != nil {
		return nil, err
	}

	out := &Result{
		Keys:    keys,
		Records: make([]map[string]any, 0, len(records)),
	}
	for _, rec := range records {
		out.Records = append(out.Records, rec.AsMap())
	}
	if summary != nil {
		out.Counters = countersFromSummary(summary.Counters())
	}
	return out, nil
}

// closeSession closes s even when ctx has expired, so a timed-out statement
// still returns its connection to the driver.
func closeSession(ctx context.Context, s interface{ Close(context.Context) error }) {
	_ = s.Close(context.WithoutCancel(ctx))
}

func (c *neo4jConn) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func countersFromSummary(sc neo4j.Counters) *Counters {
	if sc == nil {
		return nil
	}
	return &Counters{
		NodesCreated:         sc.NodesCreated(),
		NodesDeleted:         sc.NodesDeleted(),
		RelationshipsCreated: sc.RelationshipsCreated(),
		RelationshipsDeleted: sc.RelationshipsDeleted(),
		PropertiesSet:        sc.PropertiesSet(),
		LabelsAdded:          sc.LabelsAdded(),
		LabelsRemoved:        sc.LabelsRemoved(),
		IndexesAdded:         sc.IndexesAdded(),
		IndexesRemoved:       sc.IndexesRemoved(),
		ConstraintsAdded:     sc.ConstraintsAdded(),
		ConstraintsRemoved:   sc.ConstraintsRemoved(),
	}
}
