package inflight

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/wardenlabs/warden/internal/logging"
)

// OrphanRecord is the durable, handle-less projection of an in-flight
// entry. It carries just enough to find the placeholder message again
// after an unclean restart.
type OrphanRecord struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// Log mirrors the registry's entry set to a single JSON file. Every
// mutation funnels through one worker goroutine, so concurrent
// register/dispose calls can never interleave their read-modify-write
// cycles and corrupt the file. Each write goes to a temp path and is
// renamed over the real one, so a crash mid-write never leaves a
// half-written log.
type Log struct {
	path string

	ops    chan func()
	wg     sync.WaitGroup
	closed sync.Once

	// stale holds whatever the file contained when the process started,
	// i.e. the orphans of the previous run. The live record set always
	// starts empty.
	stale []OrphanRecord

	// records is owned by the worker goroutine; no lock needed.
	records []OrphanRecord

	log logging.ComponentLogger
}

// NewLog opens the durable log at path. A missing file or one that fails
// the structural shape check (non-array content) is treated as an empty
// previous set, never as an error.
func NewLog(path string) *Log {
	l := &Log{
		path: path,
		ops:  make(chan func(), 64),
		log:  logging.For("InFlightLog"),
	}
	l.stale = readRecords(path)
	l.wg.Add(1)
	go l.worker()
	return l
}

func (l *Log) worker() {
	defer l.wg.Done()
	for op := range l.ops {
		op()
	}
}

// Stale returns the records left behind by the previous process run.
func (l *Log) Stale() []OrphanRecord {
	return l.stale
}

// Add appends a record and persists. Best-effort: a write failure is
// logged, never surfaced — persistence is an optimization for crash
// recovery, not a correctness requirement for the live path.
func (l *Log) Add(rec OrphanRecord) {
	l.enqueue(func() {
		l.records = append(l.records, rec)
		l.persist()
	})
}

// Remove deletes a record and persists. A record that is not in the live
// set (e.g. a disposer firing after drain already cleared the log) is a
// no-op; persisting would recreate the file that Clear just removed.
func (l *Log) Remove(rec OrphanRecord) {
	l.enqueue(func() {
		for i, r := range l.records {
			if r == rec {
				l.records = append(l.records[:i], l.records[i+1:]...)
				l.persist()
				return
			}
		}
	})
}

// Clear empties the record set and removes the file (absence means empty
// set to the next reader). Blocks until the worker has applied it, so the
// caller can rely on the file being gone. Safe to call repeatedly.
func (l *Log) Clear() {
	done := make(chan struct{})
	if !l.enqueue(func() {
		l.records = nil
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.log.Errorf("failed to remove log file: %v", err)
		}
		close(done)
	}) {
		return
	}
	<-done
}

// Sync rewrites the file from the live record set, dropping any stale
// content left by a previous run while preserving records added since this
// process started. Blocks until the worker has applied it.
func (l *Log) Sync() {
	done := make(chan struct{})
	if !l.enqueue(func() {
		if len(l.records) == 0 {
			if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
				l.log.Errorf("failed to remove log file: %v", err)
			}
		} else {
			l.persist()
		}
		close(done)
	}) {
		return
	}
	<-done
}

// Wait blocks until every previously enqueued mutation has been applied.
func (l *Log) Wait() {
	done := make(chan struct{})
	if !l.enqueue(func() { close(done) }) {
		return
	}
	<-done
}

// Close drains pending mutations and stops the worker.
func (l *Log) Close() {
	l.closed.Do(func() { close(l.ops) })
	l.wg.Wait()
}

func (l *Log) enqueue(op func()) (ok bool) {
	defer func() {
		// Enqueue after Close is a no-op rather than a panic; it can
		// happen when a disposer fires during process teardown.
		if recover() != nil {
			l.log.Warnf("mutation dropped: log already closed")
			ok = false
		}
	}()
	l.ops <- op
	return true
}

// persist writes the current record set atomically: temp file, then rename.
func (l *Log) persist() {
	data, err := json.Marshal(l.records)
	if err != nil {
		l.log.Errorf("failed to encode log: %v", err)
		return
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		l.log.Errorf("failed to write log: %v", err)
		return
	}
	if err := os.Rename(tmp, l.path); err != nil {
		l.log.Errorf("failed to replace log: %v", err)
	}
}

// readRecords loads the log file. Absence or non-array content means an
// empty set.
func readRecords(path string) []OrphanRecord {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var records []OrphanRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil
	}
	return records
}
