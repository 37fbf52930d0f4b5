package monitor

import (
	"fmt"
	"iter"
	"net"
	"strings"
	"time"
)

type FailureEvent struct {
	Address    string
	OccurredAt time.Time
}

// AllowList holds addresses and networks that are never blocked.
// The zero value and a nil *AllowList allow nothing.
type AllowList struct {
	addrs map[string]struct{}
	nets  []*net.IPNet
}

func NewAllowList(entries []string) (*AllowList, error) {
	al := &AllowList{addrs: make(map[string]struct{})}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			_, n, err := net.ParseCIDR(e)
			if err != nil {
				return nil, fmt.Errorf("allow list, invalid network '%s'. Error: %w", e, err)
			}
			al.nets = append(al.nets, n)
			continue
		}
		ip := net.ParseIP(e)
		if ip == nil {
			return nil, fmt.Errorf("allow list, invalid address '%s'", e)
		}
		al.addrs[ip.String()] = struct{}{}
	}
	return al, nil
}

func (al *AllowList) Contains(addr string) bool {
	if al == nil {
		return false
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		_, ok := al.addrs[addr]
		return ok
	}
	if _, ok := al.addrs[ip.String()]; ok {
		return true
	}
	for _, n := range al.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (al *AllowList) Len() int {
	if al == nil {
		return 0
	}
	return len(al.addrs) + len(al.nets)
}

// GroupByAddress drains events and buckets them per source address, keeping log order.
func GroupByAddress(events iter.Seq[FailureEvent]) map[string][]FailureEvent {
	grouped := make(map[string][]FailureEvent)
	for ev := range events {
		grouped[ev.Address] = append(grouped[ev.Address], ev)
	}
	return grouped
}
