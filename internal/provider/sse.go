package provider

import (
	"bufio"
	"bytes"
	"io"
)

// SSEEvent is one dispatched server-sent event.
type SSEEvent struct {
	Event string
	Data  []byte
}

// SSEReader decodes a text/event-stream body. Multi-line data fields are
// joined with newlines; comments and id/retry fields are ignored.
type SSEReader struct {
	scanner *bufio.Scanner
}

func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	// Upstream chunks can be large (tool arguments, images).
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 4*1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next returns the next event, or io.EOF at the end of the stream.
func (r *SSEReader) Next() (SSEEvent, error) {
	var (
		ev      SSEEvent
		data    bytes.Buffer
		hasData bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if hasData {
				ev.Data = append([]byte(nil), data.Bytes()...)
				return ev, nil
			}
			ev = SSEEvent{}
			continue
		}
		if line[0] == ':' {
			continue
		}

		field, value := line, []byte(nil)
		if i := bytes.IndexByte(line, ':'); i >= 0 {
			field, value = line[:i], line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch string(field) {
		case "event":
			ev.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return SSEEvent{}, err
	}
	if hasData {
		ev.Data = append([]byte(nil), data.Bytes()...)
		return ev, nil
	}
	return SSEEvent{}, io.EOF
}
