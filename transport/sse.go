package transport

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// EventReader splits a text/event-stream body into event payloads.
type EventReader struct {
	scanner *bufio.Scanner
}

func NewEventReader(r io.Reader) *EventReader {
	scanner := bufio.NewScanner(r)
	// diagnostics for a large file easily exceed the default token size
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &EventReader{scanner: scanner}
}

// Next returns the data of the next event. Multi-line data fields are
// joined with newlines. Comments and events without data are skipped.
func (r *EventReader) Next() ([]byte, error) {
	var data bytes.Buffer
	hasData := false
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if hasData {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		if field != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.WriteString(value)
		hasData = true
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.ErrUnexpectedEOF
}
