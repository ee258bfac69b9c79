// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Event names of the chat stream.
const (
	EventSessionID = "session_id"
	EventTextDelta = "text_delta"
	EventError     = "error"
	EventDone      = "done"
	eventMessage   = "message"
)

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data string
	ID   string
}

// Decoder reads server-sent events from a text/event-stream body.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next complete event. It returns io.EOF once the body ends;
// a trailing event without its terminating blank line is discarded.
func (d *Decoder) Next() (Event, error) {
	var (
		ev      Event
		data    strings.Builder
		hasData bool
		pending bool
	)

	for {
		line, err := d.r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// Any unterminated line belongs to an incomplete frame.
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, err
		}

		line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

		if line == "" {
			if !pending {
				continue
			}
			if ev.Name == "" {
				ev.Name = eventMessage
			}
			if hasData {
				ev.Data = data.String()
			}
			return ev, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "event":
			ev.Name = value
			pending = true
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
			pending = true
		case "id":
			ev.ID = value
		}
	}
}
