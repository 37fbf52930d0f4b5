package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Murilovisque/logs/v3"
	"github.com/google/renameio/v2"
)

type blockRecordJson struct {
	IP             string `json:"ip"`
	BloqueadoDesde string `json:"bloqueado_desde"`
	BloqueadoHasta string `json:"bloqueado_hasta"`
}

type unblockRecordJson struct {
	IP           string `json:"ip"`
	Desbloqueada string `json:"desbloqueada"`
}

// Store persists the blocked and unblocked collections as two JSON array files. Loading is
// best-effort: unreadable files or records are logged and skipped, never returned as errors.
type Store struct {
	blockedPath   string
	unblockedPath string
	logger        logs.Logger
}

func NewStore(blockedPath, unblockedPath string) *Store {
	return &Store{
		blockedPath:   blockedPath,
		unblockedPath: unblockedPath,
		logger:        logs.NewChildLogger(logs.FixedFieldValue("store", filepath.Dir(blockedPath))),
	}
}

func (s *Store) Load() Snapshot {
	snap := Snapshot{
		Blocked:   s.LoadBlocked(),
		Unblocked: s.LoadUnblocked(),
	}
	for addr := range snap.Blocked {
		if _, ok := snap.Unblocked[addr]; ok {
			s.logger.Errorf("address '%s' is both blocked and unblocked, keeping the block", addr)
			delete(snap.Unblocked, addr)
		}
	}
	return snap
}

func (s *Store) LoadBlocked() map[string]BlockRecord {
	out := make(map[string]BlockRecord)
	for i, raw := range s.readRecords(s.blockedPath) {
		var rj blockRecordJson
		if err := json.Unmarshal(raw, &rj); err != nil {
			s.logger.Errorf("blocked record %d skipped, invalid format. Error: %s", i, err)
			continue
		}
		br, err := rj.decode()
		if err != nil {
			s.logger.Errorf("blocked record %d skipped. Error: %s", i, err)
			continue
		}
		if prev, ok := out[br.Address]; ok && prev.BlockedUntil.After(br.BlockedUntil) {
			continue
		}
		out[br.Address] = br
	}
	return out
}

func (s *Store) LoadUnblocked() map[string]UnblockRecord {
	out := make(map[string]UnblockRecord)
	for i, raw := range s.readRecords(s.unblockedPath) {
		var rj unblockRecordJson
		if err := json.Unmarshal(raw, &rj); err != nil {
			s.logger.Errorf("unblocked record %d skipped, invalid format. Error: %s", i, err)
			continue
		}
		ur, err := rj.decode()
		if err != nil {
			s.logger.Errorf("unblocked record %d skipped. Error: %s", i, err)
			continue
		}
		if prev, ok := out[ur.Address]; ok && prev.UnblockedAt.After(ur.UnblockedAt) {
			continue
		}
		out[ur.Address] = ur
	}
	return out
}

func (s *Store) Save(snap Snapshot) error {
	if err := s.SaveBlocked(snap.Blocked); err != nil {
		return err
	}
	return s.SaveUnblocked(snap.Unblocked)
}

func (s *Store) SaveBlocked(records map[string]BlockRecord) error {
	out := make([]blockRecordJson, 0, len(records))
	for _, addr := range sortedKeys(records) {
		br := records[addr]
		out = append(out, blockRecordJson{
			IP:             br.Address,
			BloqueadoDesde: FormatTime(br.BlockedFrom),
			BloqueadoHasta: FormatTime(br.BlockedUntil),
		})
	}
	if err := writeJSONAtomic(s.blockedPath, out); err != nil {
		return fmt.Errorf("save blocked state failed. Error: %w", err)
	}
	return nil
}

func (s *Store) SaveUnblocked(records map[string]UnblockRecord) error {
	out := make([]unblockRecordJson, 0, len(records))
	for _, addr := range sortedKeys(records) {
		ur := records[addr]
		out = append(out, unblockRecordJson{
			IP:           ur.Address,
			Desbloqueada: FormatTime(ur.UnblockedAt),
		})
	}
	if err := writeJSONAtomic(s.unblockedPath, out); err != nil {
		return fmt.Errorf("save unblocked state failed. Error: %w", err)
	}
	return nil
}

func (s *Store) readRecords(path string) []json.RawMessage {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Infof("state file '%s' not found, starting empty", path)
		} else {
			s.logger.Errorf("state file '%s' unreadable, starting empty. Error: %s", path, err)
		}
		return nil
	}
	var records []json.RawMessage
	if err := json.Unmarshal(b, &records); err != nil {
		s.logger.Errorf("state file '%s' malformed, starting empty. Error: %s", path, err)
		return nil
	}
	return records
}

func (rj blockRecordJson) decode() (BlockRecord, error) {
	addr, err := canonicalAddress(rj.IP)
	if err != nil {
		return BlockRecord{}, err
	}
	from, err := ParseTime(rj.BloqueadoDesde)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("address '%s', block start: %w", addr, err)
	}
	until, err := ParseTime(rj.BloqueadoHasta)
	if err != nil {
		return BlockRecord{}, fmt.Errorf("address '%s', block end: %w", addr, err)
	}
	br := BlockRecord{Address: addr, BlockedFrom: from, BlockedUntil: until}
	return br, br.Validate()
}

func (rj unblockRecordJson) decode() (UnblockRecord, error) {
	addr, err := canonicalAddress(rj.IP)
	if err != nil {
		return UnblockRecord{}, err
	}
	at, err := ParseTime(rj.Desbloqueada)
	if err != nil {
		return UnblockRecord{}, fmt.Errorf("address '%s', unblock time: %w", addr, err)
	}
	ur := UnblockRecord{Address: addr, UnblockedAt: at}
	return ur, ur.Validate()
}

func canonicalAddress(s string) (string, error) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return "", fmt.Errorf("invalid address '%s'", s)
	}
	return ip.String(), nil
}

// writeJSONAtomic replaces path with the encoded value, readers see either the previous or
// the new content.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0644, renameio.WithTempDir(dir))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
