package blocker

import (
	"fmt"
	"net"
	"strings"

	"github.com/Murilovisque/logs/v3"
)

const (
	defaultIptablesBinary = "/usr/sbin/iptables"
	defaultIptablesChain  = "INPUT"
)

func NewIptablesBlocker() *IptablesBlocker {
	return &IptablesBlocker{run: execRunner}
}

// IptablesBlocker manages rules of the shape `-s <ip> -j DROP` in one chain.
type IptablesBlocker struct {
	name   string
	binary string
	chain  string
	run    CommandRunner
	logger logs.Logger
}

func (ib *IptablesBlocker) GetName() string {
	return ib.name
}

func (ib *IptablesBlocker) DecodeConfig(c BlockerConfig) error {
	var ibj iptablesBlockerJson
	name, err := decodeSpecification(c, &ibj)
	if err != nil {
		return err
	}
	ibj.Binary = strings.TrimSpace(ibj.Binary)
	if ibj.Binary == "" {
		ibj.Binary = defaultIptablesBinary
	}
	ibj.Chain = strings.TrimSpace(ibj.Chain)
	if ibj.Chain == "" {
		ibj.Chain = defaultIptablesChain
	}
	ib.name = name
	ib.binary = ibj.Binary
	ib.chain = ibj.Chain
	ib.logger = logs.NewChildLogger(logs.FixedFieldValue("blocker", ib.name))
	ib.logger.Infof("iptables blocker config loaded, chain %s", ib.chain)
	return nil
}

// SetCommandRunner replaces the command execution, mainly for tests.
func (ib *IptablesBlocker) SetCommandRunner(r CommandRunner) {
	ib.run = r
}

func (ib *IptablesBlocker) Block(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("iptables received an invalid IP")
	}
	ipStr := ip.String()
	if _, err := ib.run(ib.binary, ib.ruleArgs("-C", ipStr)...); err == nil {
		ib.logger.Infof("iptables rule for IP '%s' already present", ipStr)
		return nil
	}
	out, err := ib.run(ib.binary, ib.ruleArgs("-I", ipStr)...)
	if err != nil {
		return fmt.Errorf("iptables failed to block IP '%s'. Cmd %s. Error: %w", ipStr, strings.TrimSpace(string(out)), err)
	}
	ib.logger.Infof("iptables rule created for IP '%s'", ipStr)
	return nil
}

func (ib *IptablesBlocker) Unblock(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("iptables received an invalid IP")
	}
	ipStr := ip.String()
	out, err := ib.run(ib.binary, ib.ruleArgs("-D", ipStr)...)
	if err != nil {
		if containsAny(out, "Bad rule", "does a matching rule exist", "No chain/target/match") {
			ib.logger.Infof("iptables rule for IP '%s' was not present", ipStr)
			return nil
		}
		return fmt.Errorf("iptables failed to unblock IP '%s'. Cmd %s. Error: %w", ipStr, strings.TrimSpace(string(out)), err)
	}
	ib.logger.Infof("iptables rule deleted for IP '%s'", ipStr)
	return nil
}

func (ib *IptablesBlocker) ruleArgs(op, ip string) []string {
	return []string{op, ib.chain, "-s", ip, "-j", "DROP"}
}

type iptablesBlockerJson struct {
	Binary string
	Chain  string
}
