// Package ingest implements the syslog receivers: UDP, TCP, and TLS
// listeners, RFC6587 framing, tenant attribution, and the bounded handoff
// queue into the normalizer.
package ingest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// ReadFrame reads one syslog frame from a stream connection. Octet-counted
// framing ("N msg", RFC6587) is used when the first non-whitespace byte is a
// digit; otherwise the frame runs to the next newline.
func ReadFrame(r *bufio.Reader, maxFrame int) ([]byte, error) {
	// Skip inter-frame whitespace left by newline-framed senders.
	var c byte
	for {
		var err error
		c, err = r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c != '\n' && c != '\r' && c != ' ' {
			break
		}
	}

	if c >= '0' && c <= '9' {
		return readOctetCounted(r, c, maxFrame)
	}
	return readLineFramed(r, c, maxFrame)
}

func readOctetCounted(r *bufio.Reader, first byte, maxFrame int) ([]byte, error) {
	digits := []byte{first}
	for {
		c, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if c == ' ' {
			break
		}
		if c < '0' || c > '9' || len(digits) > 7 {
			return nil, fmt.Errorf("%w: bad octet count", model.ErrMalformedFrame)
		}
		digits = append(digits, c)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%w: bad octet count", model.ErrMalformedFrame)
	}
	if n > maxFrame {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds cap", model.ErrMalformedFrame, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated octet-counted frame", model.ErrMalformedFrame)
	}
	return buf, nil
}

func readLineFramed(r *bufio.Reader, first byte, maxFrame int) ([]byte, error) {
	buf := []byte{first}
	for {
		c, err := r.ReadByte()
		if err != nil {
			// A final unterminated line is still a frame.
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		if c == '\n' {
			return buf, nil
		}
		buf = append(buf, c)
		if len(buf) > maxFrame {
			return nil, fmt.Errorf("%w: line frame exceeds cap", model.ErrMalformedFrame)
		}
	}
}
