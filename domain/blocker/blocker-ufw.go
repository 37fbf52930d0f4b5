package blocker

import (
	"fmt"
	"net"
	"strings"

	"github.com/Murilovisque/logs/v3"
)

const ufwRuleComment = "authlog-blocker"

func NewUfwBlocker() *UfwBlocker {
	return &UfwBlocker{run: execRunner}
}

// UfwBlocker is the substitute for hosts managed through ufw. With ports configured, one
// deny rule per port is managed instead of a single any-port rule.
type UfwBlocker struct {
	name   string
	binary string
	ports  []uint
	run    CommandRunner
	logger logs.Logger
}

func (ub *UfwBlocker) GetName() string {
	return ub.name
}

func (ub *UfwBlocker) DecodeConfig(c BlockerConfig) error {
	var ubj ufwBlockerJson
	name, err := decodeSpecification(c, &ubj)
	if err != nil {
		return err
	}
	for _, p := range ubj.Ports {
		if p == 0 || p > 65535 {
			return fmt.Errorf("blocker '%s', invalid port %d", name, p)
		}
	}
	ubj.Binary = strings.TrimSpace(ubj.Binary)
	if ubj.Binary == "" {
		ubj.Binary = "ufw"
	}
	ub.name = name
	ub.binary = ubj.Binary
	ub.ports = ubj.Ports
	ub.logger = logs.NewChildLogger(logs.FixedFieldValue("blocker", ub.name))
	ub.logger.Info("ufw blocker config loaded")
	return nil
}

func (ub *UfwBlocker) SetCommandRunner(r CommandRunner) {
	ub.run = r
}

func (ub *UfwBlocker) Block(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("ufw received an invalid IP")
	}
	ipStr := ip.String()
	var errs []string
	for _, target := range ub.targets(ipStr) {
		args := append([]string{"prepend", "deny"}, target...)
		args = append(args, "comment", ufwRuleComment)
		out, err := ub.run(ub.binary, args...)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Cmd %s. Error: %s", strings.TrimSpace(string(out)), err))
			continue
		}
		if containsAny(out, "Skipping") {
			ub.logger.Infof("ufw rule '%s' already present", strings.Join(target, " "))
		} else {
			ub.logger.Infof("ufw rule '%s' created", strings.Join(target, " "))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("ufw failed to block IP '%s'. %s", ipStr, strings.Join(errs, "; "))
	}
	return nil
}

func (ub *UfwBlocker) Unblock(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("ufw received an invalid IP")
	}
	ipStr := ip.String()
	var errs []string
	for _, target := range ub.targets(ipStr) {
		args := append([]string{"--force", "delete", "deny"}, target...)
		out, err := ub.run(ub.binary, args...)
		if err != nil {
			if containsAny(out, "Could not delete non-existent rule") {
				continue
			}
			errs = append(errs, fmt.Sprintf("Cmd %s. Error: %s", strings.TrimSpace(string(out)), err))
			continue
		}
		ub.logger.Infof("ufw rule '%s' deleted", strings.Join(target, " "))
	}
	if len(errs) > 0 {
		return fmt.Errorf("ufw failed to unblock IP '%s'. %s", ipStr, strings.Join(errs, "; "))
	}
	return nil
}

func (ub *UfwBlocker) targets(ipStr string) [][]string {
	if len(ub.ports) == 0 {
		return [][]string{{"from", ipStr, "to", "any"}}
	}
	var out [][]string
	for _, port := range ub.ports {
		out = append(out, []string{"from", ipStr, "to", "any", "port", fmt.Sprint(port)})
	}
	return out
}

type ufwBlockerJson struct {
	Binary string
	Ports  []uint
}
