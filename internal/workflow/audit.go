package workflow

import (
	"sync"
	"time"
)

// AuditEntry is one line of the audit trail.
type AuditEntry struct {
	WorkflowID string    `json:"workflow_id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
	Summary    string    `json:"summary"`
}

// AuditLog is an append-only audit trail. Timestamps never decrease: an
// entry stamped before its predecessor takes the predecessor's timestamp.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Append adds e to the end of the log and returns the stored entry.
func (l *AuditLog) Append(e AuditEntry) AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.entries); n > 0 {
		if last := l.entries[n-1].Timestamp; e.Timestamp.Before(last) {
			e.Timestamp = last
		}
	}
	l.entries = append(l.entries, e)
	return e
}

// Entries returns a copy of the log in append order.
func (l *AuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Count returns the number of entries with the given action for a workflow.
// An empty workflowID counts across all workflows.
func Count(entries []AuditEntry, workflowID, action string) int {
	n := 0
	for _, e := range entries {
		if e.Action == action && (workflowID == "" || e.WorkflowID == workflowID) {
			n++
		}
	}
	return n
}

// Ordered reports whether the timestamps of entries never decrease.
func Ordered(entries []AuditEntry) bool {
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			return false
		}
	}
	return true
}
