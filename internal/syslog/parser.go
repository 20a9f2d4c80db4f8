package syslog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// Parse decodes a syslog frame. RFC5424 is preferred; frames without the
// VERSION field fall back to RFC3164. now anchors RFC3164 timestamps,
// which carry no year.
func Parse(frame []byte, now time.Time) (*Message, error) {
	s := strings.TrimRight(string(frame), "\r\n\x00")
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: empty frame", model.ErrMalformedFrame)
	}
	pri, rest, err := parsePri(s)
	if err != nil {
		return nil, err
	}
	// RFC5424 starts with "1 " (VERSION SP); anything else is legacy BSD.
	if strings.HasPrefix(rest, "1 ") {
		return parseRFC5424(pri, rest[2:])
	}
	return parseRFC3164(pri, rest, now)
}

// parsePri extracts "<PRI>" from the head of the frame. PRI is 1-3 digits,
// 0-191, with no leading zeros other than "0" itself.
func parsePri(s string) (int, string, error) {
	if len(s) < 3 || s[0] != '<' {
		return 0, "", fmt.Errorf("%w: missing PRI", model.ErrMalformedFrame)
	}
	end := strings.IndexByte(s, '>')
	if end < 2 || end > 4 {
		return 0, "", fmt.Errorf("%w: bad PRI delimiter", model.ErrMalformedFrame)
	}
	digits := s[1:end]
	if len(digits) > 1 && digits[0] == '0' {
		return 0, "", fmt.Errorf("%w: PRI leading zero", model.ErrMalformedFrame)
	}
	pri, err := strconv.Atoi(digits)
	if err != nil || pri < 0 || pri > 191 {
		return 0, "", fmt.Errorf("%w: PRI out of range", model.ErrMalformedFrame)
	}
	return pri, s[end+1:], nil
}

// nextField splits the leading space-delimited token off s.
func nextField(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: truncated frame", model.ErrMalformedFrame)
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], s[i+1:], nil
	}
	return s, "", nil
}

func nilValue(tok string) string {
	if tok == "-" {
		return ""
	}
	return tok
}
