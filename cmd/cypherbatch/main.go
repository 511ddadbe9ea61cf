// Package main provides the cypherbatch CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/cypherbatch/pkg/audit"
	"github.com/orneryd/cypherbatch/pkg/batch"
	"github.com/orneryd/cypherbatch/pkg/graphview"
	"github.com/orneryd/cypherbatch/pkg/journal"
	"github.com/orneryd/cypherbatch/pkg/statement"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cypherbatch",
		Short: "cypherbatch - run generated Cypher blocks against Neo4j safely",
		Long: `cypherbatch executes multi-statement Cypher blocks (typically produced
by an LLM) against Neo4j through a fixed connection pool.

Features:
  • Per-statement failure isolation with a step-by-step report
  • Idempotent constraint declarations
  • Denylist gate for destructive keywords (DROP, DELETE, REMOVE)
  • Persistent run journal and JSON-lines audit trail`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (environment variables override it)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cypherbatch v%s (%s)\n", version, commit)
		},
	})

	execCmd := &cobra.Command{
		Use:   "exec [file|-]",
		Short: "Execute a Cypher block",
		Long:  "Execute a Cypher block read from a file, or from stdin when the argument is '-' or omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().Bool("extract", false, "Extract the first ```cypher fenced block from the input first")
	execCmd.Flags().Bool("json", false, "Print the report as JSON")
	execCmd.Flags().Bool("strict", false, "Exit non-zero on partial success too")
	rootCmd.AddCommand(execCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Print every node and relationship as JSON",
		RunE:  runSnapshot,
	}
	rootCmd.AddCommand(snapshotCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Print the least connected entity",
		RunE:  runSeed,
	})

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		RunE:  runHistory,
	}
	historyCmd.Flags().Int("limit", 20, "Number of runs to show (0 for all)")
	historyCmd.Flags().String("block", "", "Only runs of the block in this file")
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the stored report of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	})

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit trail",
		RunE:  runAudit,
	}
	auditCmd.Flags().StringSlice("type", nil, "Event types to include (e.g. BATCH_REJECTED)")
	auditCmd.Flags().Duration("since", 0, "Only events newer than this (e.g. 24h)")
	auditCmd.Flags().Int("limit", 0, "Maximum events to print")
	auditCmd.Flags().Bool("summary", false, "Print aggregate counts instead of events")
	rootCmd.AddCommand(auditCmd)

	return rootCmd
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func readBlock(cmd *cobra.Command, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("reading block: %w", err)
	}
	return string(data), nil
}

func runExec(cmd *cobra.Command, args []string) error {
	extract, _ := cmd.Flags().GetBool("extract")
	asJSON, _ := cmd.Flags().GetBool("json")
	strict, _ := cmd.Flags().GetBool("strict")

	block, err := readBlock(cmd, args)
	if err != nil {
		return err
	}
	if extract {
		block = statement.ExtractFenced(block)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, cmd, needs{pool: true, journal: true, audit: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	eng, err := rt.engine()
	if err != nil {
		return err
	}
	res := eng.Execute(ctx, block)

	out := cmd.OutOrStdout()
	if asJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		printResult(out, res)
	}

	switch {
	case res.Status == batch.StatusError:
		return fmt.Errorf("batch %s failed: %s", res.RunID, res.Summary)
	case strict && res.Status == batch.StatusPartial:
		return fmt.Errorf("batch %s partially failed: %s", res.RunID, res.Summary)
	}
	return nil
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, cmd, needs{pool: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	g, err := graphview.Snapshot(ctx, rt.pool)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), g)
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := openRuntime(ctx, cmd, needs{pool: true})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	e, err := graphview.LeastConnected(ctx, rt.pool)
	if err != nil {
		return err
	}
	if e.Name == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️  No named entity found (graph empty?)")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", e.Name, e.Label)
	return nil
}

func openJournal(cmd *cobra.Command) (*runtime, error) {
	rt, err := openRuntime(context.Background(), cmd, needs{journal: true})
	if err != nil {
		return nil, err
	}
	if rt.journal == nil {
		rt.Close(context.Background())
		return nil, errors.New("journal is disabled (CYPHERBATCH_JOURNAL_ENABLED=false)")
	}
	return rt, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	blockFile, _ := cmd.Flags().GetString("block")

	rt, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	var entries []*journal.Entry
	if blockFile != "" {
		data, err := os.ReadFile(blockFile)
		if err != nil {
			return fmt.Errorf("reading block: %w", err)
		}
		entries, err = rt.journal.ByFingerprint(journal.Fingerprint(string(data)))
		if err != nil {
			return err
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	} else if entries, err = rt.journal.Recent(limit); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No runs recorded yet")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %-8s %s\n",
			e.RecordedAt.Local().Format(time.DateTime), e.RunID, statusOf(e), summaryOf(e))
	}
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	rt, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	e, err := rt.journal.Get(args[0])
	if errors.Is(err, journal.ErrNotFound) {
		return fmt.Errorf("no run with id %s", args[0])
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), e)
}

func runAudit(cmd *cobra.Command, args []string) error {
	types, _ := cmd.Flags().GetStringSlice("type")
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	summary, _ := cmd.Flags().GetBool("summary")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	reader := audit.NewReader(cfg.Audit.LogPath)

	var start time.Time
	if since > 0 {
		start = time.Now().Add(-since)
	}

	var eventTypes []audit.EventType
	for _, t := range types {
		eventTypes = append(eventTypes, audit.EventType(strings.ToUpper(strings.TrimSpace(t))))
	}

	if summary {
		rep, err := reader.Summarize(start, time.Time{}, eventTypes...)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), rep)
	}

	res, err := reader.Query(audit.Query{StartTime: start, EventTypes: eventTypes, Limit: limit})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, e := range res.Events {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusIcon(s batch.Status) string {
	switch s {
	case batch.StatusSuccess:
		return "✅"
	case batch.StatusPartial:
		return "⚠️ "
	case batch.StatusSkipped:
		return "⏭️ "
	default:
		return "❌"
	}
}

func printResult(w io.Writer, res *batch.Result) {
	fmt.Fprintf(w, "%s %s: %s\n", statusIcon(res.Status), res.Status, res.Summary)
	fmt.Fprintf(w, "   Run:     %s\n", res.RunID)
	fmt.Fprintf(w, "   Elapsed: %dms\n", res.ElapsedMs)
	if len(res.Steps) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, s := range res.Steps {
		icon := "✅"
		if s.Status == batch.StepError {
			icon = "❌"
		}
		fmt.Fprintf(w, "%s %3d. [%s] %s\n", icon, s.Step, s.Kind, s.Message)
		for _, line := range strings.Split(s.Statement, "\n") {
			fmt.Fprintf(w, "         %s\n", line)
		}
		if s.Error != "" {
			fmt.Fprintf(w, "         ↳ %s\n", s.Error)
		}
	}
}

func statusOf(e *journal.Entry) batch.Status {
	if e.Result == nil {
		return ""
	}
	return e.Result.Status
}

func summaryOf(e *journal.Entry) string {
	if e.Result == nil {
		return ""
	}
	return e.Result.Summary
}
