// Package journal keeps a persistent history of executed batches in BadgerDB.
//
// Every batch the engine finishes, whatever its status, is stored with the
// block that produced it, a content fingerprint of that block, and the full
// report. The journal answers three questions: what happened in run X, what
// ran recently, and has this exact block been run before.
//
// Key layout (single-byte prefixes):
//
//	0x01 | recorded-at (8B big-endian nanos) | runID  -> Entry (JSON)
//	0x02 | runID                                    -> run key
//	0x03 | fingerprint | 0x00 | recorded-at | runID -> run key
//
// Run keys sort by time, so Recent is a reverse prefix scan.
package journal

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/cypherbatch/pkg/batch"
)

const (
	prefixRun         = byte(0x01)
	prefixRunID       = byte(0x02)
	prefixFingerprint = byte(0x03)
)

var (
	// ErrNotFound is returned by Get for an unknown run ID.
	ErrNotFound = errors.New("journal: run not found")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("journal: closed")
)

// Entry is one journaled batch.
type Entry struct {
	RunID       string        `json:"run_id"`
	Fingerprint string        `json:"fingerprint"`
	Block       string        `json:"block"`
	RecordedAt  time.Time     `json:"recorded_at"`
	Result      *batch.Result `json:"result"`
}

// Options configures a Journal.
type Options struct {
	// DataDir is the badger directory. Ignored when InMemory is set.
	DataDir string

	// InMemory keeps everything in RAM. For tests and dry runs.
	InMemory bool

	// SyncWrites fsyncs every record.
	SyncWrites bool

	// Retention expires entries after the given age. Zero keeps forever.
	Retention time.Duration

	// Logger receives badger's internal logs. Nil silences them.
	Logger *zap.Logger

	// Now overrides time.Now. For tests.
	Now func() time.Time
}

// Journal is a badger-backed batch.Recorder.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type Journal struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a journal.
func Open(opts Options) (*Journal, error) {
	if !opts.InMemory && opts.DataDir == "" {
		return nil, errors.New("journal: data directory required")
	}

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger == nil {
		badgerOpts = badgerOpts.WithLogger(nil)
	} else {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{opts.Logger.Sugar()})
	}

	// Reports are small; keep the footprint modest.
	badgerOpts = badgerOpts.
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(32 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("journal: opening badger: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Journal{
		db:        db,
		retention: opts.Retention,
		now:       now,
	}, nil
}

// OpenInMemory opens a throwaway in-memory journal.
func OpenInMemory() (*Journal, error) {
	return Open(Options{InMemory: true})
}

// Fingerprint is the hex blake2b-256 digest of a block with surrounding
// whitespace removed. Identical blocks always share a fingerprint.
func Fingerprint(block string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(block)))
	return hex.EncodeToString(sum[:])
}

// RecordBatch implements batch.Recorder.
func (j *Journal) RecordBatch(ctx context.Context, block string, res *batch.Result) error {
	if res == nil {
		return errors.New("journal: nil result")
	}
	if err := j.checkOpen(); err != nil {
		return err
	}

	entry := Entry{
		RunID:       res.RunID,
		Fingerprint: Fingerprint(block),
		Block:       block,
		RecordedAt:  j.now().UTC(),
		Result:      res,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: encoding run %s: %w", res.RunID, err)
	}

	rk := runKey(entry.RecordedAt, entry.RunID)
	return j.db.Update(func(txn *badger.Txn) error {
		for _, e := range []*badger.Entry{
			badger.NewEntry(rk, data),
			badger.NewEntry(runIDKey(entry.RunID), rk),
			badger.NewEntry(fingerprintKey(entry.Fingerprint, entry.RecordedAt, entry.RunID), rk),
		} {
			if j.retention > 0 {
				e = e.WithTTL(j.retention)
			}
			if err := txn.SetEntry(e); err != nil {
				return fmt.Errorf("journal: storing run %s: %w", entry.RunID, err)
			}
		}
		return nil
	})
}

// Get returns the entry for runID, or ErrNotFound.
func (j *Journal) Get(runID string) (*Entry, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runIDKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rk, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		entry, err = loadEntry(txn, rk)
		return err
	})
	return entry, err
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) Recent(limit int) ([]*Entry, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	var entries []*Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte{prefixRun + 1}); it.ValidForPrefix([]byte{prefixRun}); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("journal: decoding %x: %w", it.Item().Key(), err)
			}
			entries = append(entries, &e)
			if limit > 0 && len(entries) == limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// ByFingerprint returns every run of the block with fingerprint fp, newest
// first.
func (j *Journal) ByFingerprint(fp string) ([]*Entry, error) {
	if err := j.checkOpen(); err != nil {
		return nil, err
	}

	prefix := fingerprintPrefix(fp)
	var entries []*Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var runKeys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rk, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			runKeys = append(runKeys, rk)
		}

		for i := len(runKeys) - 1; i >= 0; i-- {
			e, err := loadEntry(txn, runKeys[i])
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Close flushes and closes the underlying database. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}

func (j *Journal) checkOpen() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}
	return nil
}

func loadEntry(txn *badger.Txn, rk []byte) (*Entry, error) {
	item, err := txn.Get(rk)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	}); err != nil {
		return nil, fmt.Errorf("journal: decoding %x: %w", rk, err)
	}
	return &e, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func appendTime(key []byte, t time.Time) []byte {
	return binary.BigEndian.AppendUint64(key, uint64(t.UnixNano()))
}

func runKey(at time.Time, runID string) []byte {
	key := appendTime([]byte{prefixRun}, at)
	return append(key, runID...)
}

func runIDKey(runID string) []byte {
	return append([]byte{prefixRunID}, runID...)
}

func fingerprintPrefix(fp string) []byte {
	key := append([]byte{prefixFingerprint}, fp...)
	return append(key, 0x00)
}

func fingerprintKey(fp string, at time.Time, runID string) []byte {
	key := appendTime(fingerprintPrefix(fp), at)
	return append(key, runID...)
}

// badgerLogger routes badger's printf-style logs into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

var _ batch.Recorder = (*Journal)(nil)
