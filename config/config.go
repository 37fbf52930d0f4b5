package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"authlog-blocker/domain/blocker"
	"authlog-blocker/domain/decision"
	"authlog-blocker/domain/monitor"
)

const (
	DefaultLogFile            = "/var/log/maillog"
	DefaultBlockedStateFile   = "/var/lib/authlog-blocker/ips_bloqueadas.json"
	DefaultUnblockedStateFile = "/var/lib/authlog-blocker/ips_desbloqueadas.json"
	DefaultAuditFile          = "/var/log/authlog-blocker/bloqueo_debug.log"
)

// Config is the decoded and validated configuration of one process.
type Config struct {
	LogFile            string
	BlockedStateFile   string
	UnblockedStateFile string
	AuditFile          string
	AllowList          *monitor.AllowList
	Policy             decision.Policy
	// RunInterval enables periodic mode; zero means a single pass.
	RunInterval    time.Duration
	MetricsAddress string
	Blocker        blocker.BlockerConfig
	// DryRun logs firewall changes instead of applying them and leaves the state files untouched.
	DryRun bool
}

func (c *Config) EnableDryRun() {
	c.DryRun = true
	c.Blocker = blocker.BlockerConfig{Name: c.Blocker.Name, Type: blocker.LogOnlyBlockerType}
}

type configJson struct {
	LogFile                 string
	BlockedStateFile        string
	UnblockedStateFile      string
	AuditFile               *string
	AllowList               []string
	FailedAttemptsThreshold *int
	BlockDuration           string
	ReblockAfter            string
	UnblockedRetention      string
	RunInterval             string
	MetricsAddress          string
	Blocker                 *blocker.BlockerConfig
}

func Load(configPath string) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("open config failed. Error: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cj configJson
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cj); err != nil {
		return nil, fmt.Errorf("load config failed. Error: %w", err)
	}
	return cj.build()
}

func (cj configJson) build() (*Config, error) {
	c := &Config{
		LogFile:            orDefault(cj.LogFile, DefaultLogFile),
		BlockedStateFile:   orDefault(cj.BlockedStateFile, DefaultBlockedStateFile),
		UnblockedStateFile: orDefault(cj.UnblockedStateFile, DefaultUnblockedStateFile),
		AuditFile:          DefaultAuditFile,
		MetricsAddress:     strings.TrimSpace(cj.MetricsAddress),
		Policy:             decision.DefaultPolicy(),
		Blocker:            blocker.BlockerConfig{Name: "firewall", Type: blocker.IptablesBlockerType},
	}
	if cj.AuditFile != nil {
		c.AuditFile = strings.TrimSpace(*cj.AuditFile)
	}
	if c.BlockedStateFile == c.UnblockedStateFile {
		return nil, fmt.Errorf("blocked and unblocked state files must differ, both are '%s'", c.BlockedStateFile)
	}
	al, err := monitor.NewAllowList(cj.AllowList)
	if err != nil {
		return nil, err
	}
	c.AllowList = al
	if cj.FailedAttemptsThreshold != nil {
		c.Policy.FailedAttemptsThreshold = *cj.FailedAttemptsThreshold
	}
	if err := parseDuration("BlockDuration", cj.BlockDuration, &c.Policy.BlockDuration); err != nil {
		return nil, err
	}
	if err := parseDuration("ReblockAfter", cj.ReblockAfter, &c.Policy.ReblockAfter); err != nil {
		return nil, err
	}
	if err := parseDuration("UnblockedRetention", cj.UnblockedRetention, &c.Policy.UnblockedRetention); err != nil {
		return nil, err
	}
	if err := c.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy. Error: %w", err)
	}
	if err := parseDuration("RunInterval", cj.RunInterval, &c.RunInterval); err != nil {
		return nil, err
	}
	if c.RunInterval < 0 {
		return nil, fmt.Errorf("RunInterval must not be negative, got %v", c.RunInterval)
	}
	if c.MetricsAddress != "" && c.RunInterval == 0 {
		return nil, fmt.Errorf("MetricsAddress requires RunInterval, a single pass exits before it can be scraped")
	}
	if cj.Blocker != nil {
		c.Blocker = *cj.Blocker
	}
	return c, nil
}

func parseDuration(field, value string, dst *time.Duration) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid %s format '%s'", field, value)
	}
	*dst = d
	return nil
}

func orDefault(v, def string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return def
	}
	return v
}
