package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Clock returns the current time. Tests replace it for stable log output.
type Clock func() time.Time

// ProcessingLog is an ordered, append-only audit trail. It is a value type:
// Append returns a new log and never mutates the receiver's backing array.
type ProcessingLog struct {
	entries []string
	clock   Clock
}

// NewProcessingLog returns an empty log using clock (time.Now when nil).
func NewProcessingLog(clock Clock) ProcessingLog {
	return ProcessingLog{clock: clock}
}

func (l ProcessingLog) now() time.Time {
	if l.clock == nil {
		return time.Now()
	}
	return l.clock()
}

// Append returns a copy of the log with one timestamped entry added.
func (l ProcessingLog) Append(format string, args ...any) ProcessingLog {
	entry := fmt.Sprintf("[%s] %s", l.now().Format("15:04:05"), fmt.Sprintf(format, args...))
	next := make([]string, len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	return ProcessingLog{entries: append(next, entry), clock: l.clock}
}

// Extend returns a copy of the log followed by every entry of other.
func (l ProcessingLog) Extend(other ProcessingLog) ProcessingLog {
	next := make([]string, 0, len(l.entries)+len(other.entries))
	next = append(next, l.entries...)
	next = append(next, other.entries...)
	return ProcessingLog{entries: next, clock: l.clock}
}

// Entries returns a copy of the entries.
func (l ProcessingLog) Entries() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l ProcessingLog) Len() int { return len(l.entries) }

// MarshalJSON encodes the log as a JSON array of strings.
func (l ProcessingLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes a JSON array of strings.
func (l *ProcessingLog) UnmarshalJSON(data []byte) error {
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	l.entries = entries
	return nil
}
