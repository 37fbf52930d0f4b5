package blocker

import (
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strings"
)

type BlockerType string

const (
	IptablesBlockerType BlockerType = "IPTABLES_BLOCKER"
	UfwBlockerType      BlockerType = "UFW_BLOCKER"
	LogOnlyBlockerType  BlockerType = "LOG_ONLY_BLOCKER"
)

type BlockerConfig struct {
	Name          string
	Type          BlockerType
	Specification json.RawMessage
}

// Blocker installs and removes a drop rule for a single address. Implementations tolerate
// duplicate blocks and unblocks of addresses that are not blocked.
type Blocker interface {
	GetName() string
	DecodeConfig(c BlockerConfig) error
	Block(ip net.IP) error
	Unblock(ip net.IP) error
}

// CommandRunner runs an external command and returns its combined output.
type CommandRunner func(name string, args ...string) ([]byte, error)

func execRunner(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

func New(c BlockerConfig) (Blocker, error) {
	var b Blocker
	switch c.Type {
	case IptablesBlockerType, "":
		b = NewIptablesBlocker()
	case UfwBlockerType:
		b = NewUfwBlocker()
	case LogOnlyBlockerType:
		b = NewLogOnlyBlocker()
	default:
		return nil, fmt.Errorf("invalid blocker type '%s'", c.Type)
	}
	if err := b.DecodeConfig(c); err != nil {
		return nil, err
	}
	return b, nil
}

func decodeSpecification(c BlockerConfig, v any) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("blocker with empty name")
	}
	if len(c.Specification) > 0 && string(c.Specification) != "null" {
		if err := json.Unmarshal(c.Specification, v); err != nil {
			return "", fmt.Errorf("blocker '%s', fail to decode. Error: %w", name, err)
		}
	}
	return name, nil
}

func ParseAddress(addr string) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP '%s'", addr)
	}
	return ip, nil
}

func containsAny(out []byte, fragments ...string) bool {
	s := string(out)
	for _, f := range fragments {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
