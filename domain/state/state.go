package state

import (
	"fmt"
	"maps"
	"net"
	"strings"
	"time"
)

const (
	// naive local time with optional microseconds, the format existing state files use
	isoLayout = "2006-01-02T15:04:05.999999"
)

var acceptedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

type BlockRecord struct {
	Address      string
	BlockedFrom  time.Time
	BlockedUntil time.Time
}

func (br BlockRecord) Validate() error {
	if net.ParseIP(br.Address) == nil {
		return fmt.Errorf("invalid address '%s'", br.Address)
	}
	if !br.BlockedUntil.After(br.BlockedFrom) {
		return fmt.Errorf("address '%s', block end %s is not after block start %s", br.Address,
			FormatTime(br.BlockedUntil), FormatTime(br.BlockedFrom))
	}
	return nil
}

type UnblockRecord struct {
	Address     string
	UnblockedAt time.Time
}

func (ur UnblockRecord) Validate() error {
	if net.ParseIP(ur.Address) == nil {
		return fmt.Errorf("invalid address '%s'", ur.Address)
	}
	if ur.UnblockedAt.IsZero() {
		return fmt.Errorf("address '%s', empty unblock time", ur.Address)
	}
	return nil
}

// Snapshot is the in-memory form of both persisted collections. An address is present in
// at most one of the two maps.
type Snapshot struct {
	Blocked   map[string]BlockRecord
	Unblocked map[string]UnblockRecord
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Blocked:   make(map[string]BlockRecord),
		Unblocked: make(map[string]UnblockRecord),
	}
}

func (s Snapshot) Clone() Snapshot {
	c := NewSnapshot()
	maps.Copy(c.Blocked, s.Blocked)
	maps.Copy(c.Unblocked, s.Unblocked)
	return c
}

func FormatTime(t time.Time) string {
	return t.Local().Format(isoLayout)
}

func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range acceptedLayouts {
		t, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp '%s'", s)
}
