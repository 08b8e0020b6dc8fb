// Package stream maintains the resumable live event subscription.
package stream

import (
	"bufio"
	"io"
	"strings"
)

// WireEvent is one decoded server-sent event.
type WireEvent struct {
	Name string // the "event:" field, empty for unnamed events
	Data string // joined "data:" lines
}

// Decoder reads server-sent events off a wire stream. Comment lines
// (leading ':', used by the server as keep-alives) are skipped.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r in an SSE decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete event, or an error when the stream ends.
// An event is terminated by a blank line.
func (d *Decoder) Next() (WireEvent, error) {
	var evt WireEvent
	var dataLines []string

	for {
		line, err := d.r.ReadString('\n')
		if err != nil {
			// A final unterminated event is still delivered.
			if err == io.EOF && len(dataLines) > 0 {
				evt.Data = strings.Join(dataLines, "\n")
				return evt, nil
			}
			return WireEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(dataLines) == 0 {
				// Blank line with no pending data: keep reading.
				evt.Name = ""
				continue
			}
			evt.Data = strings.Join(dataLines, "\n")
			return evt, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.Index(line, ":"); idx >= 0 {
			field, value = line[:idx], line[idx+1:]
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			evt.Name = value
		case "data":
			dataLines = append(dataLines, value)
		}
	}
}
