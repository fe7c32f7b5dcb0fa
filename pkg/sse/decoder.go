package sse

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Decoder reads events from a byte stream incrementally.
// Blocks may arrive split across arbitrary read boundaries.
type Decoder struct {
	br *bufio.Reader

	name      string
	dataLines []string
	hasData   bool
	done      bool
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// Next returns the next complete event, or io.EOF once the stream is exhausted.
// A trailing block without a blank line is still returned if it carried data.
func (d *Decoder) Next() (Event, error) {
	for {
		if d.done {
			return Event{}, io.EOF
		}

		line, err := d.br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		atEOF := err != nil

		if line != "" {
			if ev, ok := d.processLine(strings.TrimRight(line, "\r\n")); ok {
				if atEOF {
					d.done = true
				}
				return ev, nil
			}
		}

		if atEOF {
			d.done = true
			if ev, ok := d.flush(); ok {
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}

func (d *Decoder) processLine(line string) (Event, bool) {
	switch {
	case line == "":
		return d.flush()
	case strings.HasPrefix(line, ":"):
	case strings.HasPrefix(line, "event:"):
		d.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
	case strings.HasPrefix(line, "data:"):
		d.dataLines = append(d.dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		d.hasData = true
	}
	return Event{}, false
}

func (d *Decoder) flush() (Event, bool) {
	defer func() {
		d.name = ""
		d.dataLines = nil
		d.hasData = false
	}()
	if !d.hasData {
		return Event{}, false
	}
	return Event{Name: d.name, Data: strings.Join(d.dataLines, "\n")}, true
}

// Decode unmarshals the event data as a gateway payload
func (e Event) Decode() (Payload, error) {
	var p Payload
	err := json.Unmarshal([]byte(e.Data), &p)
	return p, err
}
