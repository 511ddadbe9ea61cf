// Package graphview runs read-side queries over the graph for display and
// for choosing what to ask about next.
//
// Queries check out their own pooled connection, so they run alongside
// batches without sharing a connection with them.
package graphview

import (
	"context"
	"fmt"
	"strings"

	"github.com/orneryd/cypherbatch/pkg/batch"
	"github.com/orneryd/cypherbatch/pkg/convert"
	"github.com/orneryd/cypherbatch/pkg/graph"
)

const (
	nodesQuery = "MATCH (n) RETURN id(n) AS id, labels(n) AS labels, properties(n) AS properties"
	edgesQuery = "MATCH (n)-[r]->(m) RETURN id(r) AS edge_id, id(n) AS source, id(m) AS target, type(r) AS type"

	leastConnectedQuery = `MATCH (n)
OPTIONAL MATCH (n)-[r]-()
WITH n, count(r) AS relationCount
ORDER BY relationCount ASC, id(n) ASC
LIMIT 1
RETURN n.name AS entity_name, labels(n) AS entity_labels`

	unknownEntity = "unknown entity"
	unknownType   = "unknown type"
)

// Node is a display node. ID is "node_<database id>".
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// Edge is a display edge. From and To reference Node.ID.
type Edge struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Graph is a full snapshot of nodes and directed relationships.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Entity names a node by its name property and first label.
type Entity struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// Snapshot reads every node and relationship. Node labels prefer the name
// property, falling back to the first label.
func Snapshot(ctx context.Context, src batch.Acquirer) (*Graph, error) {
	conn, err := src.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("graphview: acquiring connection: %w", err)
	}
	defer src.Release(conn)

	nodes, err := conn.Run(ctx, nodesQuery)
	if err != nil {
		return nil, fmt.Errorf("graphview: querying nodes: %w", err)
	}
	edges, err := conn.Run(ctx, edgesQuery)
	if err != nil {
		return nil, fmt.Errorf("graphview: querying relationships: %w", err)
	}

	g := &Graph{
		Nodes: make([]Node, 0, recordCount(nodes)),
		Edges: make([]Edge, 0, recordCount(edges)),
	}
	for _, rec := range records(nodes) {
		labels := convert.ToStringSlice(rec["labels"])
		props := convert.ToMap(rec["properties"])

		n := Node{
			ID:         "node_" + convert.ToID(rec["id"]),
			Label:      unknownEntity,
			Type:       unknownType,
			Properties: props,
		}
		if len(labels) > 0 {
			n.Type = labels[0]
			n.Label = labels[0]
			if name, ok := props["name"]; ok && name != nil {
				n.Label = fmt.Sprint(name)
			}
		}
		g.Nodes = append(g.Nodes, n)
	}
	for _, rec := range records(edges) {
		typ := convert.ToString(rec["type"])
		g.Edges = append(g.Edges, Edge{
			ID:    "edge_" + convert.ToID(rec["edge_id"]),
			From:  "node_" + convert.ToID(rec["source"]),
			To:    "node_" + convert.ToID(rec["target"]),
			Label: typ,
			Type:  typ,
		})
	}
	return g, nil
}

// LeastConnected returns the node with the fewest relationships, lowest id
// first on ties. The zero Entity means the graph is empty or the node has no
// usable name.
func LeastConnected(ctx context.Context, src batch.Acquirer) (Entity, error) {
	conn, err := src.Acquire(ctx)
	if err != nil {
		return Entity{}, fmt.Errorf("graphview: acquiring connection: %w", err)
	}
	defer src.Release(conn)

	res, err := conn.Run(ctx, leastConnectedQuery)
	if err != nil {
		return Entity{}, fmt.Errorf("graphview: querying least connected entity: %w", err)
	}
	recs := records(res)
	if len(recs) == 0 {
		return Entity{}, nil
	}

	name := strings.TrimSpace(convert.ToString(recs[0]["entity_name"]))
	if name == "" {
		return Entity{}, nil
	}
	var label string
	if labels := convert.ToStringSlice(recs[0]["entity_labels"]); len(labels) > 0 {
		label = labels[0]
	}
	return Entity{Name: name, Label: label}, nil
}

func records(res *graph.Result) []map[string]any {
	if res == nil {
		return nil
	}
	return res.Records
}

func recordCount(res *graph.Result) int {
	return len(records(res))
}
