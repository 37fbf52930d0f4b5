package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string, string) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "ips_bloqueadas.json")
	unblocked := filepath.Join(dir, "ips_desbloqueadas.json")
	return NewStore(blocked, unblocked), blocked, unblocked
}

func TestStoreRoundTrip(t *testing.T) {
	s, _, _ := newTestStore(t)
	now := time.Date(2024, time.March, 7, 14, 2, 11, 0, time.Local)

	snap := NewSnapshot()
	snap.Blocked["10.0.0.5"] = BlockRecord{Address: "10.0.0.5", BlockedFrom: now, BlockedUntil: now.Add(time.Hour)}
	snap.Blocked["10.0.0.7"] = BlockRecord{Address: "10.0.0.7", BlockedFrom: now.Add(-30 * time.Minute), BlockedUntil: now.Add(30 * time.Minute)}
	snap.Unblocked["10.0.0.9"] = UnblockRecord{Address: "10.0.0.9", UnblockedAt: now.Add(-5 * time.Minute)}
	require.NoError(t, s.Save(snap))

	loaded := s.Load()
	require.Len(t, loaded.Blocked, 2)
	require.Len(t, loaded.Unblocked, 1)
	for addr, want := range snap.Blocked {
		got := loaded.Blocked[addr]
		assert.True(t, want.BlockedFrom.Equal(got.BlockedFrom), addr)
		assert.True(t, want.BlockedUntil.Equal(got.BlockedUntil), addr)
	}
	assert.True(t, snap.Unblocked["10.0.0.9"].UnblockedAt.Equal(loaded.Unblocked["10.0.0.9"].UnblockedAt))
}

func TestStoreRoundTripKeepsSubSecondPrecision(t *testing.T) {
	s, _, _ := newTestStore(t)
	at := time.Date(2024, time.March, 7, 14, 2, 11, 123456000, time.Local)
	snap := NewSnapshot()
	snap.Unblocked["10.0.0.9"] = UnblockRecord{Address: "10.0.0.9", UnblockedAt: at}
	require.NoError(t, s.Save(snap))

	loaded := s.LoadUnblocked()
	assert.True(t, at.Equal(loaded["10.0.0.9"].UnblockedAt))
}

func TestStoreWireFormat(t *testing.T) {
	s, blocked, unblocked := newTestStore(t)
	now := time.Date(2024, time.March, 7, 14, 2, 11, 0, time.Local)
	snap := NewSnapshot()
	snap.Blocked["10.0.0.5"] = BlockRecord{Address: "10.0.0.5", BlockedFrom: now, BlockedUntil: now.Add(time.Hour)}
	snap.Unblocked["10.0.0.9"] = UnblockRecord{Address: "10.0.0.9", UnblockedAt: now}
	require.NoError(t, s.Save(snap))

	b, err := os.ReadFile(blocked)
	require.NoError(t, err)
	assert.Equal(t, `[
    {
        "ip": "10.0.0.5",
        "bloqueado_desde": "2024-03-07T14:02:11",
        "bloqueado_hasta": "2024-03-07T15:02:11"
    }
]
`, string(b))

	b, err = os.ReadFile(unblocked)
	require.NoError(t, err)
	assert.Equal(t, `[
    {
        "ip": "10.0.0.9",
        "desbloqueada": "2024-03-07T14:02:11"
    }
]
`, string(b))
}

func TestStoreSaveEmptyWritesEmptyArray(t *testing.T) {
	s, blocked, _ := newTestStore(t)
	require.NoError(t, s.Save(NewSnapshot()))
	b, err := os.ReadFile(blocked)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(b))
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	s, blocked, _ := newTestStore(t)
	require.NoError(t, os.WriteFile(blocked, []byte("old content"), 0644))
	require.NoError(t, s.Save(NewSnapshot()))
	require.NoError(t, s.Save(NewSnapshot()))

	entries, err := os.ReadDir(filepath.Dir(blocked))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"ips_bloqueadas.json", "ips_desbloqueadas.json"}, names)
}

func TestStoreSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s := NewStore(filepath.Join(dir, "b.json"), filepath.Join(dir, "u.json"))
	require.NoError(t, s.Save(NewSnapshot()))
	assert.FileExists(t, filepath.Join(dir, "b.json"))
	assert.FileExists(t, filepath.Join(dir, "u.json"))
}

func TestStoreLoadMissingFiles(t *testing.T) {
	s, _, _ := newTestStore(t)
	snap := s.Load()
	assert.Empty(t, snap.Blocked)
	assert.Empty(t, snap.Unblocked)
	assert.NotNil(t, snap.Blocked)
	assert.NotNil(t, snap.Unblocked)
}

func TestStoreLoadMalformedFiles(t *testing.T) {
	s, blocked, unblocked := newTestStore(t)
	require.NoError(t, os.WriteFile(blocked, []byte(`{"ip": "10.0.0.5"`), 0644))
	require.NoError(t, os.WriteFile(unblocked, []byte(`{"not": "a list"}`), 0644))
	snap := s.Load()
	assert.Empty(t, snap.Blocked)
	assert.Empty(t, snap.Unblocked)
}

func TestStoreLoadSkipsBadRecords(t *testing.T) {
	s, blocked, unblocked := newTestStore(t)
	require.NoError(t, os.WriteFile(blocked, []byte(`[
		{"ip": "10.0.0.5", "bloqueado_desde": "2024-03-07T14:02:11.500000", "bloqueado_hasta": "2024-03-07T15:02:11.500000"},
		{"ip": "not-an-ip", "bloqueado_desde": "2024-03-07T14:02:11", "bloqueado_hasta": "2024-03-07T15:02:11"},
		{"ip": "10.0.0.6", "bloqueado_desde": "yesterday", "bloqueado_hasta": "2024-03-07T15:02:11"},
		{"ip": "10.0.0.7", "bloqueado_desde": "2024-03-07T15:02:11", "bloqueado_hasta": "2024-03-07T15:02:11"},
		{"ip": "10.0.0.8", "bloqueado_hasta": "2024-03-07T15:02:11"},
		"garbage",
		{"ip": "10.0.0.10", "bloqueado_desde": "2024-03-07T10:02:11+00:00", "bloqueado_hasta": "2024-03-08 15:02:11"}
	]`), 0644))
	require.NoError(t, os.WriteFile(unblocked, []byte(`[
		{"ip": "10.0.0.9", "desbloqueada": "2024-03-07T14:02:11.123456"},
		{"ip": "10.0.0.11", "desbloqueada": ""},
		{"ip": 12, "desbloqueada": "2024-03-07T14:02:11"}
	]`), 0644))

	snap := s.Load()
	assert.Len(t, snap.Blocked, 2)
	assert.Contains(t, snap.Blocked, "10.0.0.5")
	assert.Contains(t, snap.Blocked, "10.0.0.10")
	assert.Len(t, snap.Unblocked, 1)
	assert.Contains(t, snap.Unblocked, "10.0.0.9")

	want := time.Date(2024, time.March, 7, 14, 2, 11, 500000000, time.Local)
	assert.True(t, want.Equal(snap.Blocked["10.0.0.5"].BlockedFrom))
}

func TestStoreLoadRepairsInvariants(t *testing.T) {
	s, blocked, unblocked := newTestStore(t)
	require.NoError(t, os.WriteFile(blocked, []byte(`[
		{"ip": "10.0.0.5", "bloqueado_desde": "2024-03-07T14:00:00", "bloqueado_hasta": "2024-03-07T16:00:00"},
		{"ip": "10.0.0.5", "bloqueado_desde": "2024-03-07T13:00:00", "bloqueado_hasta": "2024-03-07T14:00:00"}
	]`), 0644))
	require.NoError(t, os.WriteFile(unblocked, []byte(`[
		{"ip": "10.0.0.5", "desbloqueada": "2024-03-07T12:00:00"},
		{"ip": "10.0.0.9", "desbloqueada": "2024-03-07T12:00:00"},
		{"ip": "10.0.0.9", "desbloqueada": "2024-03-07T13:00:00"}
	]`), 0644))

	snap := s.Load()
	require.Len(t, snap.Blocked, 1)
	assert.Equal(t, 16, snap.Blocked["10.0.0.5"].BlockedUntil.Hour())
	require.Len(t, snap.Unblocked, 1)
	assert.Equal(t, 13, snap.Unblocked["10.0.0.9"].UnblockedAt.Hour())
}

func TestSnapshotClone(t *testing.T) {
	snap := NewSnapshot()
	snap.Unblocked["10.0.0.9"] = UnblockRecord{Address: "10.0.0.9", UnblockedAt: time.Now()}
	c := snap.Clone()
	delete(c.Unblocked, "10.0.0.9")
	assert.Contains(t, snap.Unblocked, "10.0.0.9")
}

func TestParseTime(t *testing.T) {
	for _, s := range []string{
		"2024-03-07T14:02:11",
		"2024-03-07T14:02:11.123456",
		"2024-03-07 14:02:11.123456",
		"2024-03-07T14:02:11Z",
		"2024-03-07T14:02:11.5+01:00",
	} {
		_, err := ParseTime(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseTime("07/03/2024")
	assert.Error(t, err)
}
