package blocker

import (
	"fmt"
	"net"

	"github.com/Murilovisque/logs/v3"
)

func NewLogOnlyBlocker() *LogOnlyBlocker {
	return &LogOnlyBlocker{}
}

// LogOnlyBlocker touches no firewall, it only reports what would be done.
type LogOnlyBlocker struct {
	name   string
	logger logs.Logger
}

func (lb *LogOnlyBlocker) GetName() string {
	return lb.name
}

func (lb *LogOnlyBlocker) DecodeConfig(c BlockerConfig) error {
	var ignored struct{}
	name, err := decodeSpecification(c, &ignored)
	if err != nil {
		return err
	}
	lb.name = name
	lb.logger = logs.NewChildLogger(logs.FixedFieldValue("blocker", lb.name))
	lb.logger.Info("log only blocker config loaded, no firewall rule will be changed")
	return nil
}

func (lb *LogOnlyBlocker) Block(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("log only blocker received an invalid IP")
	}
	lb.logger.Infof("would block IP '%s'", ip)
	return nil
}

func (lb *LogOnlyBlocker) Unblock(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("log only blocker received an invalid IP")
	}
	lb.logger.Infof("would unblock IP '%s'", ip)
	return nil
}
