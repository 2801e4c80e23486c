package model

import "time"

// NoBackend is recorded as the audit backend when no backend name could be parsed.
const NoBackend = "none"

// AuditEntry is one append-only record of a proxied or denied request.
// Status and DurationMs stay nil for denials that never reach the upstream.
type AuditEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Backend    string    `json:"backend"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     *int      `json:"status,omitempty"`
	DurationMs *int64    `json:"durationMs,omitempty"`
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
}

// WithOutcome returns a copy of e with status and duration set.
func (e AuditEntry) WithOutcome(status int, d time.Duration) AuditEntry {
	ms := d.Milliseconds()
	e.Status = &status
	e.DurationMs = &ms
	return e
}
