// Package tailer follows a single append-only JSONL log file, handing
// complete lines to the record parser as they arrive.
package tailer

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sessiontrace/backend/internal/record"
)

// defaultPollInterval is the fallback wake cadence, and also catches
// fsnotify events that arrive coalesced.
const defaultPollInterval = 2 * time.Second

// Batch is one non-empty group of records read off the file in a single
// wake, destined for the Registry.
type Batch struct {
	SessionID string
	Records   []record.Record
}

// Tailer owns one growing log file's (offset, remainder) pair and wakes
// on native file-change notifications or a periodic poll, whichever
// comes first.
type Tailer struct {
	sessionID string
	path      string
	offset    int64
	remainder []byte

	pollInterval time.Duration
	out          chan<- Batch
	signals      chan struct{}
	done         chan struct{}
}

// New returns a Tailer for path, starting at offset 0. Batches are sent
// to out, which the caller owns and must keep drained. A non-positive
// pollInterval takes the default.
func New(sessionID, path string, pollInterval time.Duration, out chan<- Batch) *Tailer {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Tailer{
		sessionID:    sessionID,
		path:         path,
		pollInterval: pollInterval,
		out:          out,
		signals:      make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Stop requests cooperative shutdown. Safe to call once.
func (t *Tailer) Stop() {
	close(t.done)
}

func (t *Tailer) wake() {
	select {
	case t.signals <- struct{}{}:
	default:
	}
}

// Run watches the file and blocks until Stop is called. If the file
// watcher cannot be established it logs that and wakes on the poll
// ticker only. Intended to run as a goroutine.
func (t *Tailer) Run() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("tailer %s: fsnotify unavailable, falling back to poll only: %v", t.sessionID, err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(t.path); err != nil {
			log.Printf("tailer %s: watch add failed, falling back to poll only: %v", t.sessionID, err)
		}
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.readAndEmit() // catch up on anything written before Run started

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	for {
		select {
		case <-t.done:
			return

		case <-t.signals:
			t.readAndEmit()

		case <-ticker.C:
			t.readAndEmit()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == t.path && (ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				t.wake()
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("tailer %s: watch error: %v", t.sessionID, err)
		}
	}
}

// readAndEmit performs one wake cycle: stat, read new bytes, parse, emit.
func (t *Tailer) readAndEmit() {
	info, err := os.Stat(t.path)
	if err != nil {
		// Missing file: rotated or temporarily absent. Non-fatal.
		return
	}

	size := info.Size()
	if size <= t.offset {
		// No new data, or the file shrank. The Tailer never rewinds on
		// truncation -- treated as no new data.
		return
	}

	f, err := os.Open(t.path)
	if err != nil {
		log.Printf("tailer %s: open failed: %v", t.sessionID, err)
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		log.Printf("tailer %s: seek failed: %v", t.sessionID, err)
		return
	}

	buf := make([]byte, size-t.offset)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		log.Printf("tailer %s: read failed: %v", t.sessionID, err)
		return
	}
	t.offset += int64(n)

	recs, newRemainder := record.ParseBatch(buf[:n], t.remainder)
	t.remainder = newRemainder

	if len(recs) > 0 {
		select {
		case t.out <- Batch{SessionID: t.sessionID, Records: recs}:
		case <-t.done:
		}
	}
}
