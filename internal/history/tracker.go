// Package history records the status of every step plus the chronological
// completion log that undo walks backwards through.
//
// The record is a single JSON object persisted after every mutation:
//
//	{
//	  "fetch": "completed",
//	  "clean": "pending",
//	  "_completion_order": ["fetch"]
//	}
//
// The completion log allows repeats: a step that ran three times appears
// three times. Records written before the log existed load with an empty
// log. While a skip can still be undone, the record also carries a
// "_skips" list of what each skip overwrote.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
	"github.com/Iron-Ham/stepflow/internal/fsutil"
	"github.com/Iron-Ham/stepflow/internal/logging"
)

// CompletionOrderKey is the record key holding the completion log. It is
// never a step id.
const CompletionOrderKey = "_completion_order"

// SkipsKey is the record key holding undoable skips. It is never a step id.
const SkipsKey = "_skips"

// SkipRecord describes one skip: the safety archive taken before it, the
// statuses it overwrote, and the completion log length at the time.
type SkipRecord struct {
	Target      string            `json:"target"`
	Snapshot    string            `json:"snapshot"`
	Completions int               `json:"completions"`
	Previous    map[string]Status `json:"previous"`
}

// Tracker owns the history record of one project. Every mutation is
// written to disk before it returns.
type Tracker struct {
	mu       sync.Mutex
	path     string
	order    []string
	statuses map[string]Status
	log      []string
	skips    []SkipRecord
	logger   *logging.Logger
}

// Open loads the record at path. Steps in stepIDs that the record doesn't
// mention start as pending; ids in the record that aren't in stepIDs are
// kept so that nothing is lost on rewrite. A missing file is an empty
// record.
func Open(path string, stepIDs []string, logger *logging.Logger) (*Tracker, error) {
	t := &Tracker{
		path:     path,
		statuses: make(map[string]Status, len(stepIDs)),
		log:      []string{},
		logger:   logging.OrNop(logger).WithComponent("history"),
	}
	for _, id := range stepIDs {
		if _, dup := t.statuses[id]; dup {
			continue
		}
		t.order = append(t.order, id)
		t.statuses[id] = StatusPending
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.logger.Debug("no history record, starting fresh", "path", path)
			return t, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if err := t.decode(data); err != nil {
		return nil, err
	}

	t.logger.Debug("history loaded",
		"path", path,
		"steps", len(t.statuses),
		"completions", len(t.log),
	)
	return t, nil
}

func (t *Tracker) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %w", sferrors.ErrHistoryCorrupted, err)
	}

	var extra []string
	for key, value := range raw {
		if key == CompletionOrderKey {
			var log []string
			if err := json.Unmarshal(value, &log); err != nil {
				return fmt.Errorf("%w: %s: %w", sferrors.ErrHistoryCorrupted, CompletionOrderKey, err)
			}
			if log != nil {
				t.log = log
			}
			continue
		}
		if key == SkipsKey {
			var skips []SkipRecord
			if err := json.Unmarshal(value, &skips); err != nil {
				return fmt.Errorf("%w: %s: %w", sferrors.ErrHistoryCorrupted, SkipsKey, err)
			}
			t.skips = skips
			continue
		}

		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			return fmt.Errorf("%w: step %q: %w", sferrors.ErrHistoryCorrupted, key, err)
		}
		st, err := ParseStatus(s)
		if err != nil {
			return fmt.Errorf("%w: step %q: %w", sferrors.ErrHistoryCorrupted, key, err)
		}
		if _, known := t.statuses[key]; !known {
			extra = append(extra, key)
		}
		t.statuses[key] = st
	}

	sort.Strings(extra)
	t.order = append(t.order, extra...)
	return nil
}

// encode renders the record with steps in definition order followed by
// the completion log.
func (t *Tracker) encode() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for _, id := range t.order {
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(string(t.statuses[id]))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "  %s: %s,\n", key, value)
	}
	if len(t.skips) > 0 {
		skips, err := json.Marshal(t.skips)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "  %q: %s,\n", SkipsKey, skips)
	}
	log, err := json.Marshal(t.log)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(&buf, "  %q: %s\n}\n", CompletionOrderKey, log)
	return buf.Bytes(), nil
}

func (t *Tracker) save() error {
	data, err := t.encode()
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := fsutil.AtomicWriteFile(t.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

func (t *Tracker) checkStep(id string) error {
	if _, ok := t.statuses[id]; !ok {
		return sferrors.NewStepError("unknown step", sferrors.ErrStepNotFound).WithStepID(id)
	}
	return nil
}

// SetStatus records status for id. Setting completed also appends id to
// the completion log, so every re-run is counted.
func (t *Tracker) SetStatus(id string, status Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkStep(id); err != nil {
		return err
	}
	if !status.Valid() {
		return sferrors.NewValidationError("invalid status").WithField("status").WithValue(string(status))
	}

	prevStatus, prevLog := t.statuses[id], t.log
	t.statuses[id] = status
	if status == StatusCompleted {
		t.log = append(append([]string{}, prevLog...), id)
	}
	if err := t.save(); err != nil {
		t.statuses[id], t.log = prevStatus, prevLog
		return err
	}

	t.logger.Info("status changed", "step_id", id, "from", prevStatus.String(), "to", status.String())
	return nil
}

// Status returns the status of id.
func (t *Tracker) Status(id string) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkStep(id); err != nil {
		return "", err
	}
	return t.statuses[id], nil
}

// Statuses returns a copy of every step status.
func (t *Tracker) Statuses() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Status, len(t.statuses))
	for id, st := range t.statuses {
		out[id] = st
	}
	return out
}

// StepIDs returns the ids in record order.
func (t *Tracker) StepIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.order...)
}

// CompletionLog returns a copy of the completion log, oldest first.
func (t *Tracker) CompletionLog() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.log...)
}

// LastCompletedChronological returns the most recently completed step.
func (t *Tracker) LastCompletedChronological() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.log) == 0 {
		return "", false
	}
	return t.log[len(t.log)-1], true
}

// CompletionCount returns how many times id appears in the log.
func (t *Tracker) CompletionCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, entry := range t.log {
		if entry == id {
			n++
		}
	}
	return n
}

// PopLastCompletion removes the final occurrence of id from the log. It
// reports false, without writing, when id isn't in the log.
func (t *Tracker) PopLastCompletion(id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := -1
	for i := len(t.log) - 1; i >= 0; i-- {
		if t.log[i] == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	prev := t.log
	next := make([]string, 0, len(prev)-1)
	next = append(next, prev[:idx]...)
	next = append(next, prev[idx+1:]...)
	t.log = next
	if err := t.save(); err != nil {
		t.log = prev
		return false, err
	}

	t.logger.Debug("completion popped", "step_id", id, "remaining", len(next))
	return true, nil
}

// RecordSkip applies statuses in one write and remembers what they
// overwrote, keyed by target and the archive taken before the skip. It
// never touches the completion log, and a batch naming an unknown step is
// rejected whole.
func (t *Tracker) RecordSkip(target, snapshot string, statuses map[string]Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, st := range statuses {
		if err := t.checkStep(id); err != nil {
			return err
		}
		if !st.Valid() {
			return sferrors.NewValidationError("invalid status").WithField("status").WithValue(string(st))
		}
	}

	rec := SkipRecord{
		Target:      target,
		Snapshot:    snapshot,
		Completions: len(t.log),
		Previous:    make(map[string]Status, len(statuses)),
	}
	for id, st := range statuses {
		rec.Previous[id] = t.statuses[id]
		t.statuses[id] = st
	}
	prevSkips := t.skips
	t.skips = append(append([]SkipRecord{}, prevSkips...), rec)
	if err := t.save(); err != nil {
		for id, st := range rec.Previous {
			t.statuses[id] = st
		}
		t.skips = prevSkips
		return err
	}

	t.logger.Info("skip recorded", "target", target, "snapshot", snapshot, "count", len(statuses))
	return nil
}

// Skips returns a copy of the recorded skips, oldest first.
func (t *Tracker) Skips() []SkipRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SkipRecord(nil), t.skips...)
}

// PendingSkip returns the newest skip when no completion has been logged
// since it, which makes it the most recent change.
func (t *Tracker) PendingSkip() (SkipRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.skips) == 0 {
		return SkipRecord{}, false
	}
	rec := t.skips[len(t.skips)-1]
	if rec.Completions < len(t.log) {
		return SkipRecord{}, false
	}
	return rec, true
}

// RevertSkip puts back the statuses the newest skip overwrote and drops
// its record.
func (t *Tracker) RevertSkip() (SkipRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.skips) == 0 {
		return SkipRecord{}, sferrors.NewNotFoundError("skip", "latest")
	}
	rec := t.skips[len(t.skips)-1]

	prevStatuses := make(map[string]Status, len(rec.Previous))
	for id, st := range rec.Previous {
		if _, ok := t.statuses[id]; !ok {
			continue
		}
		prevStatuses[id] = t.statuses[id]
		t.statuses[id] = st
	}
	prevSkips := t.skips
	t.skips = t.skips[:len(t.skips)-1:len(t.skips)-1]
	if err := t.save(); err != nil {
		for id, st := range prevStatuses {
			t.statuses[id] = st
		}
		t.skips = prevSkips
		return SkipRecord{}, err
	}

	t.logger.Info("skip reverted", "target", rec.Target, "snapshot", rec.Snapshot)
	return rec, nil
}
