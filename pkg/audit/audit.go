// Package audit keeps an append-only trail of every batch submitted for
// execution.
//
// Each finished batch becomes one JSON line. Rejected batches (denylisted
// keywords) are recorded like any other and can trigger a real-time alert
// callback, so generated content that tried to drop or delete data never
// disappears silently.
//
// Example Usage:
//
//	config := audit.DefaultConfig()
//	config.LogPath = "/var/log/cypherbatch/audit.log"
//
//	logger, err := audit.NewLogger(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer logger.Close()
//
//	logger.SetAlertCallback(func(e audit.Event) {
//		log.Printf("rejected batch %s: %s", e.RunID, e.Reason)
//	})
//
//	eng := batch.New(p, batch.WithRecorders(logger))
//
// Reading it back:
//
//	reader := audit.NewReader(config.LogPath)
//	res, err := reader.Query(audit.Query{
//		EventTypes: []audit.EventType{audit.EventBatchRejected},
//		StartTime:  time.Now().Add(-24 * time.Hour),
//	})
package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/orneryd/cypherbatch/pkg/batch"
)

// EventType categorizes audit events.
type EventType string

const (
	// EventBatchExecuted: every statement succeeded.
	EventBatchExecuted EventType = "BATCH_EXECUTED"
	// EventBatchPartial: some statements failed.
	EventBatchPartial EventType = "BATCH_PARTIAL"
	// EventBatchFailed: every statement failed, or the batch failed before
	// running (pool, parse, panic).
	EventBatchFailed EventType = "BATCH_FAILED"
	// EventBatchRejected: the safety gate refused the block.
	EventBatchRejected EventType = "BATCH_REJECTED"
	// EventBatchSkipped: the block was empty.
	EventBatchSkipped EventType = "BATCH_SKIPPED"
)

// ErrClosed is returned by Log after Close.
var ErrClosed = errors.New("audit logger is closed")

// Event is a single audit record. Once written it is never modified.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Actor is whoever submitted the batch, when known.
	Actor string `json:"actor,omitempty"`

	RunID     string `json:"run_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`

	// Reason is the batch summary.
	Reason string `json:"reason,omitempty"`
	// Keyword is the denylisted keyword behind a rejection.
	Keyword string `json:"keyword,omitempty"`

	// Block is the submitted text, cut to Config.MaxBlockChars.
	Block string `json:"block,omitempty"`

	// Metadata carries batch details that have no field of their own:
	// elapsed_ms, the rejection line, and a count per statement failure kind.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Config holds audit logger configuration.
type Config struct {
	// Enabled controls whether audit logging is active.
	Enabled bool

	// LogPath is the audit log file.
	LogPath string

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Actor is stamped on every event.
	Actor string

	// MaxBlockChars caps the block text kept per event. Zero omits the
	// block entirely; negative keeps it whole.
	MaxBlockChars int

	// AlertOnEvents triggers the alert callback for these types.
	AlertOnEvents []EventType
}

// DefaultConfig returns sensible defaults for audit logging.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		LogPath:       "./logs/audit.log",
		SyncWrites:    false,
		MaxBlockChars: 2000,
		AlertOnEvents: []EventType{EventBatchRejected},
	}
}

// Logger writes audit events. It implements batch.Recorder.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
	now      func() time.Time

	alertCallback func(Event)
}

// NewLogger opens (appending) the file at config.LogPath, creating its
// directory if needed. A disabled config yields a logger that drops
// everything.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config, now: time.Now}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("opening audit log file: %w", err)
	}

	return &Logger{
		writer: file,
		file:   file,
		config: config,
		now:    time.Now,
	}, nil
}

// NewLoggerWithWriter creates a logger with a custom writer (for testing).
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{
		writer: writer,
		config: config,
		now:    time.Now,
	}
}

// SetAlertCallback sets the callback run synchronously for every event whose
// type is listed in Config.AlertOnEvents.
func (l *Logger) SetAlertCallback(fn func(Event)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alertCallback = fn
}

// Log appends one event. Timestamp and ID are filled in when empty; IDs
// have the form audit-{nanoseconds}-{sequence}.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("audit-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}
	if event.Actor == "" {
		event.Actor = l.config.Actor
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("syncing audit log: %w", err)
		}
	}

	if l.alertCallback != nil && containsEventType(l.config.AlertOnEvents, event.Type) {
		l.alertCallback(event)
	}
	return nil
}

// RecordBatch implements batch.Recorder.
func (l *Logger) RecordBatch(ctx context.Context, block string, res *batch.Result) error {
	if res == nil {
		return errors.New("audit: nil result")
	}
	e := Event{
		Type:      EventTypeFor(res),
		RunID:     res.RunID,
		Status:    string(res.Status),
		Total:     res.Total,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Reason:    res.Summary,
		Block:     clip(block, l.config.MaxBlockChars),
	}
	e.Metadata = map[string]string{"elapsed_ms": strconv.FormatInt(res.ElapsedMs, 10)}
	var fe *batch.ForbiddenError
	if errors.As(res.Err, &fe) {
		e.Keyword = fe.Keyword
		e.Metadata["line"] = strconv.Itoa(fe.Line)
	}
	failures := map[batch.FailureKind]int{}
	for _, s := range res.Steps {
		if s.Failure != batch.FailureNone {
			failures[s.Failure]++
		}
	}
	for kind, n := range failures {
		e.Metadata[string(kind)] = strconv.Itoa(n)
	}
	return l.Log(e)
}

// EventTypeFor maps a batch outcome to its audit event type.
func EventTypeFor(res *batch.Result) EventType {
	switch res.Status {
	case batch.StatusSuccess:
		return EventBatchExecuted
	case batch.StatusPartial:
		return EventBatchPartial
	case batch.StatusSkipped:
		return EventBatchSkipped
	}
	if errors.Is(res.Err, batch.ErrForbiddenOperation) {
		return EventBatchRejected
	}
	return EventBatchFailed
}

// Close closes the audit logger. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func clip(s string, limit int) string {
	switch {
	case limit == 0:
		return ""
	case limit < 0 || utf8.RuneCountInString(s) <= limit:
		return s
	}
	return string([]rune(s)[:limit])
}

// Query selects audit events.
type Query struct {
	StartTime  time.Time
	EndTime    time.Time
	EventTypes []EventType
	RunID      string
	Limit      int
	Offset     int
}

// QueryResult holds audit query results.
type QueryResult struct {
	Events     []Event
	TotalCount int
	HasMore    bool
}

// Reader reads an audit log file.
type Reader struct {
	path string
}

// NewReader creates an audit log reader.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the whole log and returns matching events in write order.
// Malformed lines are skipped. A missing file is an empty log.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Events: []Event{}}, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer file.Close()

	events := []Event{}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if !q.StartTime.IsZero() && event.Timestamp.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && event.Timestamp.After(q.EndTime) {
			continue
		}
		if len(q.EventTypes) > 0 && !containsEventType(q.EventTypes, event.Type) {
			continue
		}
		if q.RunID != "" && event.RunID != q.RunID {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	total := len(events)
	if q.Offset > 0 {
		if q.Offset >= len(events) {
			events = []Event{}
		} else {
			events = events[q.Offset:]
		}
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}

	return &QueryResult{
		Events:     events,
		TotalCount: total,
		HasMore:    q.Offset+len(events) < total,
	}, nil
}

// Rejections returns rejected batches in [start, end].
func (r *Reader) Rejections(start, end time.Time) (*QueryResult, error) {
	return r.Query(Query{
		StartTime:  start,
		EndTime:    end,
		EventTypes: []EventType{EventBatchRejected},
	})
}

func containsEventType(types []EventType, t EventType) bool {
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}

// Report aggregates audit activity over a period.
type Report struct {
	PeriodStart time.Time         `json:"period_start"`
	PeriodEnd   time.Time         `json:"period_end"`
	Batches     int               `json:"batches"`
	ByType      map[EventType]int `json:"by_type"`
	Statements  int               `json:"statements"`
	Failed      int               `json:"failed_statements"`
	// RejectedKeywords counts rejections per denylisted keyword.
	RejectedKeywords map[string]int `json:"rejected_keywords,omitempty"`
}

// Summarize builds a Report for [start, end], counting only events of the
// given types when any are passed.
func (r *Reader) Summarize(start, end time.Time, types ...EventType) (*Report, error) {
	res, err := r.Query(Query{StartTime: start, EndTime: end, EventTypes: types})
	if err != nil {
		return nil, err
	}

	rep := &Report{
		PeriodStart:      start,
		PeriodEnd:        end,
		ByType:           make(map[EventType]int),
		RejectedKeywords: make(map[string]int),
	}
	for _, e := range res.Events {
		rep.Batches++
		rep.ByType[e.Type]++
		rep.Statements += e.Total
		rep.Failed += e.Failed
		if e.Type == EventBatchRejected && e.Keyword != "" {
			rep.RejectedKeywords[e.Keyword]++
		}
	}
	return rep, nil
}

var _ batch.Recorder = (*Logger)(nil)
