package syncmirror

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/stepflow/internal/fsutil"
)

// LogEntry is one line of the sync log.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	Details   string `json:"details"`
}

func (m *Mirror) logPath() string {
	return filepath.Join(m.local, SyncLogName)
}

// SyncLog returns the recorded entries, oldest first. A missing or
// unreadable log is empty.
func (m *Mirror) SyncLog() []LogEntry {
	data, err := os.ReadFile(m.logPath())
	if err != nil {
		return nil
	}
	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		m.logger.Warn("sync log unreadable, starting over", "error", err.Error())
		return nil
	}
	return entries
}

// record appends an entry and trims the log to its limit. Failures are
// logged only.
func (m *Mirror) record(operation, details string) {
	entries := append(m.SyncLog(), LogEntry{
		Timestamp: time.Now().Format(time.RFC3339),
		Operation: operation,
		Details:   details,
	})
	if len(entries) > m.logLimit {
		entries = entries[len(entries)-m.logLimit:]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		m.logger.Warn("failed to encode sync log", "error", err.Error())
		return
	}
	if err := fsutil.AtomicWriteFile(m.logPath(), data, 0644); err != nil {
		m.logger.Warn("failed to write sync log", "error", err.Error())
	}
}
