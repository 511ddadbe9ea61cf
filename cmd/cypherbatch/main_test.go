package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/cypherbatch/pkg/audit"
	"github.com/orneryd/cypherbatch/pkg/batch"
	"github.com/orneryd/cypherbatch/pkg/journal"
)

// isolate points every on-disk component at a temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CYPHERBATCH_JOURNAL_DIR", filepath.Join(dir, "journal"))
	t.Setenv("CYPHERBATCH_AUDIT_PATH", filepath.Join(dir, "audit.log"))
	t.Setenv("CYPHERBATCH_LOG_LEVEL", "error")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cypherbatch v"+version+" ("+commit+")\n", out)
}

func TestHistoryAndShow(t *testing.T) {
	dir := isolate(t)

	out, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet")

	j, err := journal.Open(journal.Options{DataDir: filepath.Join(dir, "journal")})
	require.NoError(t, err)
	block := "MERGE (a:Topic {name:'Go'});"
	require.NoError(t, j.RecordBatch(context.Background(), block, &batch.Result{
		RunID: "run-42", Status: batch.StatusSuccess, Total: 1, Succeeded: 1,
		Summary: "completed: 1 succeeded, 0 failed", Steps: []batch.Step{},
	}))
	require.NoError(t, j.Close())

	out, err = run(t, "history", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "completed: 1 succeeded, 0 failed")

	blockFile := filepath.Join(dir, "block.cypher")
	require.NoError(t, os.WriteFile(blockFile, []byte(block+"\n"), 0o600))
	out, err = run(t, "history", "--block", blockFile)
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")

	out, err = run(t, "show", "run-42")
	require.NoError(t, err)
	var e journal.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, block, e.Block)
	assert.Equal(t, batch.StatusSuccess, e.Result.Status)

	_, err = run(t, "show", "nope")
	assert.ErrorContains(t, err, "no run with id nope")
}

func TestHistory_JournalDisabled(t *testing.T) {
	isolate(t)
	t.Setenv("CYPHERBATCH_JOURNAL_ENABLED", "false")
	_, err := run(t, "history")
	assert.ErrorContains(t, err, "journal is disabled")
}

func TestAudit(t *testing.T) {
	dir := isolate(t)

	cfg := audit.DefaultConfig()
	cfg.LogPath = filepath.Join(dir, "audit.log")
	l, err := audit.NewLogger(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Log(audit.Event{Type: audit.EventBatchExecuted, RunID: "a", Total: 2}))
	require.NoError(t, l.Log(audit.Event{Type: audit.EventBatchRejected, RunID: "b", Keyword: "DROP"}))
	require.NoError(t, l.Close())

	out, err := run(t, "audit", "--type", "batch_rejected")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"run_id":"b"`)

	out, err = run(t, "audit", "--summary")
	require.NoError(t, err)
	var rep audit.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 2, rep.Batches)
	assert.Equal(t, 1, rep.RejectedKeywords["DROP"])

	out, err = run(t, "audit", "--summary", "--type", "batch_executed")
	require.NoError(t, err)
	rep = audit.Report{}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Batches)
	assert.Equal(t, 2, rep.Statements)
	assert.Empty(t, rep.RejectedKeywords)
}

func TestInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("CYPHERBATCH_POOL_SIZE", "0")
	_, err := run(t, "history")
	assert.ErrorContains(t, err, "invalid pool size")
}

func TestPrintResult(t *testing.T) {
	rows := 1
	var buf bytes.Buffer
	printResult(&buf, &batch.Result{
		RunID:   "r1",
		Status:  batch.StatusPartial,
		Summary: "completed: 1 succeeded, 1 failed",
		Steps: []batch.Step{
			{Step: 1, Statement: "MERGE (a);", Kind: "node", Status: batch.StepSuccess,
				Message: "executed successfully (1 row affected)", AffectedRows: &rows},
			{Step: 2, Statement: "MATCH (a)\nMERGE (a)-[:R]->(b);", Kind: "relationship", Status: batch.StepError,
				Message: "execution failed", Error: "SyntaxError"},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "partial: completed: 1 succeeded, 1 failed")
	assert.Contains(t, out, "  1. [node] executed successfully (1 row affected)")
	assert.Contains(t, out, "  2. [relationship] execution failed")
	assert.Contains(t, out, "         MERGE (a)-[:R]->(b);")
	assert.Contains(t, out, "↳ SyntaxError")
}

func TestReadBlock(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader("MERGE (a);"))
	got, err := readBlock(cmd, nil)
	require.NoError(t, err)
	assert.Equal(t, "MERGE (a);", got)

	path := filepath.Join(t.TempDir(), "b.cypher")
	require.NoError(t, os.WriteFile(path, []byte("MERGE (b);"), 0o600))
	got, err = readBlock(cmd, []string{path})
	require.NoError(t, err)
	assert.Equal(t, "MERGE (b);", got)

	_, err = readBlock(cmd, []string{filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
