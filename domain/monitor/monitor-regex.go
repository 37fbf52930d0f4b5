package monitor

import (
	"fmt"
	"iter"
	"net"
	"regexp"
	"strconv"
	"time"
)

var (
	regexAuthFailed = regexp.MustCompile(`^(\w{3})\s+(\d{1,2})\s+(\d{2}:\d{2}:\d{2}) .*?warning: unknown\[(\d{1,3}(?:\.\d{1,3}){3})\]: SASL LOGIN authentication failed`)

	months = map[string]time.Month{
		"Jan": time.January,
		"Feb": time.February,
		"Mar": time.March,
		"Apr": time.April,
		"May": time.May,
		"Jun": time.June,
		"Jul": time.July,
		"Aug": time.August,
		"Sep": time.September,
		"Oct": time.October,
		"Nov": time.November,
		"Dec": time.December,
	}
)

// ParseLine extracts a failure event from a syslog line. Syslog omits the year, so the
// caller supplies it; the timestamp is built in the local zone. ok is false for lines that
// do not match or carry an impossible date or address.
func ParseLine(line string, year int) (ev FailureEvent, ok bool) {
	matchStrings := regexAuthFailed.FindStringSubmatch(line)
	if len(matchStrings) != 5 {
		return FailureEvent{}, false
	}
	month, found := months[matchStrings[1]]
	if !found {
		return FailureEvent{}, false
	}
	day, err := strconv.Atoi(matchStrings[2])
	if err != nil {
		return FailureEvent{}, false
	}
	s := fmt.Sprintf("%04d-%02d-%02d %s", year, int(month), day, matchStrings[3])
	occurredAt, err := time.ParseInLocation(time.DateTime, s, time.Local)
	if err != nil {
		return FailureEvent{}, false
	}
	ip := net.ParseIP(matchStrings[4])
	if ip == nil {
		return FailureEvent{}, false
	}
	return FailureEvent{Address: ip.String(), OccurredAt: occurredAt}, true
}

type Extractor struct {
	allowList *AllowList
}

func NewExtractor(allowList *AllowList) *Extractor {
	return &Extractor{allowList: allowList}
}

// Events lazily turns log lines into failure events, dropping allow-listed sources.
func (e *Extractor) Events(lines iter.Seq[string], year int) iter.Seq[FailureEvent] {
	return func(yield func(FailureEvent) bool) {
		for ln := range lines {
			ev, ok := ParseLine(ln, year)
			if !ok || e.allowList.Contains(ev.Address) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}
