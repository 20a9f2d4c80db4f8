// Package syslog parses RFC5424 and RFC3164 syslog messages and serializes
// the canonical RFC5424 subset back to wire form.
package syslog

import (
	"time"
)

// Message is a parsed syslog message. Version is 1 for RFC5424 and 0 for
// RFC3164. Fields absent on the wire (NILVALUE "-") are empty strings.
type Message struct {
	Facility int
	Severity int
	Version  int
	Time     time.Time
	Hostname string
	AppName  string
	ProcID   string
	MsgID    string
	SD       []SDElement
	Text     string

	// rawTimestamp preserves the exact wire form of the timestamp so that
	// Format round-trips byte-identically.
	rawTimestamp string
}

// SDElement is one RFC5424 structured-data element. Param order is
// preserved from the wire.
type SDElement struct {
	ID     string
	Params []SDParam
}

// SDParam is one structured-data name/value pair.
type SDParam struct {
	Name  string
	Value string
}

// Pri returns the encoded priority value.
func (m *Message) Pri() int {
	return m.Facility*8 + m.Severity
}

// Param returns the first structured-data parameter with the given name
// across all elements, or "".
func (m *Message) Param(name string) string {
	for _, el := range m.SD {
		for _, p := range el.Params {
			if p.Name == name {
				return p.Value
			}
		}
	}
	return ""
}
