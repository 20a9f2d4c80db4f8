package syslog

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// parseRFC5424 decodes the header after "<PRI>1 ".
// Layout: TIMESTAMP SP HOSTNAME SP APP-NAME SP PROCID SP MSGID SP SD [SP MSG]
func parseRFC5424(pri int, s string) (*Message, error) {
	m := &Message{
		Facility: pri / 8,
		Severity: pri % 8,
		Version:  1,
	}

	tok, rest, err := nextField(s)
	if err != nil {
		return nil, err
	}
	if tok == "-" {
		return nil, fmt.Errorf("%w: nil timestamp", model.ErrMalformedFrame)
	}
	ts, err := time.Parse(time.RFC3339Nano, tok)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp %q", model.ErrMalformedFrame, tok)
	}
	m.Time = ts
	m.rawTimestamp = tok

	if tok, rest, err = nextField(rest); err != nil {
		return nil, err
	}
	m.Hostname = nilValue(tok)
	if tok, rest, err = nextField(rest); err != nil {
		return nil, err
	}
	m.AppName = nilValue(tok)
	if tok, rest, err = nextField(rest); err != nil {
		return nil, err
	}
	m.ProcID = nilValue(tok)
	if tok, rest, err = nextField(rest); err != nil {
		return nil, err
	}
	m.MsgID = nilValue(tok)

	rest, err = parseStructuredData(m, rest)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(rest, " ") {
		rest = rest[1:]
	}
	m.Text = rest
	return m, nil
}

// parseStructuredData consumes "-" or one or more [id k="v" ...] elements
// and returns the unconsumed remainder (the free-form MSG).
func parseStructuredData(m *Message, s string) (string, error) {
	if strings.HasPrefix(s, "-") {
		return s[1:], nil
	}
	for strings.HasPrefix(s, "[") {
		var el SDElement
		var err error
		s, err = parseSDElement(&el, s[1:])
		if err != nil {
			return "", err
		}
		m.SD = append(m.SD, el)
	}
	if len(m.SD) == 0 {
		return "", fmt.Errorf("%w: bad structured data", model.ErrMalformedFrame)
	}
	return s, nil
}

func parseSDElement(el *SDElement, s string) (string, error) {
	end := strings.IndexAny(s, " ]")
	if end < 1 {
		return "", fmt.Errorf("%w: unterminated SD element", model.ErrMalformedFrame)
	}
	el.ID = s[:end]
	s = s[end:]
	for strings.HasPrefix(s, " ") {
		s = s[1:]
		eq := strings.IndexByte(s, '=')
		if eq < 1 || len(s) < eq+2 || s[eq+1] != '"' {
			return "", fmt.Errorf("%w: bad SD param", model.ErrMalformedFrame)
		}
		name := s[:eq]
		s = s[eq+2:]
		var val strings.Builder
		i := 0
		for ; i < len(s); i++ {
			c := s[i]
			if c == '\\' && i+1 < len(s) {
				i++
				val.WriteByte(s[i])
				continue
			}
			if c == '"' {
				break
			}
			val.WriteByte(c)
		}
		if i >= len(s) {
			return "", fmt.Errorf("%w: unterminated SD value", model.ErrMalformedFrame)
		}
		el.Params = append(el.Params, SDParam{Name: name, Value: val.String()})
		s = s[i+1:]
	}
	if !strings.HasPrefix(s, "]") {
		return "", fmt.Errorf("%w: unterminated SD element", model.ErrMalformedFrame)
	}
	return s[1:], nil
}

// Format serializes an RFC5424 message back to wire form. For messages
// produced by Parse, the result is byte-identical to the input within the
// canonical subset (version 1, RFC3339 timestamps, escaped SD values).
func (m *Message) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<%d>1 ", m.Pri())
	ts := m.rawTimestamp
	if ts == "" {
		ts = m.Time.Format(time.RFC3339Nano)
	}
	b.WriteString(ts)
	for _, f := range []string{m.Hostname, m.AppName, m.ProcID, m.MsgID} {
		b.WriteByte(' ')
		if f == "" {
			b.WriteByte('-')
		} else {
			b.WriteString(f)
		}
	}
	b.WriteByte(' ')
	if len(m.SD) == 0 {
		b.WriteByte('-')
	} else {
		for _, el := range m.SD {
			b.WriteByte('[')
			b.WriteString(el.ID)
			for _, p := range el.Params {
				fmt.Fprintf(&b, " %s=\"%s\"", p.Name, escapeSDValue(p.Value))
			}
			b.WriteByte(']')
		}
	}
	if m.Text != "" {
		b.WriteByte(' ')
		b.WriteString(m.Text)
	}
	return b.String()
}

func escapeSDValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `]`, `\]`)
	return r.Replace(v)
}
