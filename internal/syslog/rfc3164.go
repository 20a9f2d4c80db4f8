package syslog

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// parseRFC3164 decodes a legacy BSD syslog message after "<PRI>".
// Layout: TIMESTAMP SP HOSTNAME SP TAG[PID]: SP MSG
// The timestamp is "Mmm dd hh:mm:ss" with no year; the year is taken from
// now, minus one if the result lands more than an hour in the future.
func parseRFC3164(pri int, s string, now time.Time) (*Message, error) {
	m := &Message{
		Facility: pri / 8,
		Severity: pri % 8,
		Version:  0,
	}

	if len(s) < 15 {
		return nil, fmt.Errorf("%w: truncated RFC3164 header", model.ErrMalformedFrame)
	}
	stamp := s[:15]
	ts, err := time.ParseInLocation(time.Stamp, stamp, now.Location())
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", model.ErrMalformedFrame, stamp)
	}
	ts = ts.AddDate(now.Year(), 0, 0)
	if ts.After(now.Add(time.Hour)) {
		ts = ts.AddDate(-1, 0, 0)
	}
	m.Time = ts
	s = strings.TrimPrefix(s[15:], " ")

	host, rest, err := nextField(s)
	if err != nil {
		return nil, err
	}
	m.Hostname = host

	// TAG is up to the first ':' or '['; "sshd[123]:" yields app sshd, pid 123.
	if i := strings.IndexAny(rest, ":["); i > 0 {
		m.AppName = rest[:i]
		if rest[i] == '[' {
			if j := strings.IndexByte(rest[i:], ']'); j > 1 {
				m.ProcID = rest[i+1 : i+j]
				rest = rest[i+j+1:]
			} else {
				rest = rest[i:]
			}
		} else {
			rest = rest[i:]
		}
		rest = strings.TrimPrefix(rest, ":")
		rest = strings.TrimPrefix(rest, " ")
	}
	m.Text = rest
	return m, nil
}
