package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const maxLineBytes = 1 << 20

// Message is one dispatched SSE message.
type Message struct {
	Name string
	Data string
}

// Decoder reads SSE messages from a stream. Comment lines, including the
// heartbeat, are skipped.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &Decoder{scanner: s}
}

// Next returns the next message with a data field. It returns io.EOF once
// the stream ends; a trailing message without a blank line is discarded, as
// SSE clients do.
func (d *Decoder) Next() (Message, error) {
	var (
		msg     Message
		data    []string
		hasData bool
	)
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if hasData {
				msg.Data = strings.Join(data, "\n")
				if msg.Name == "" {
					msg.Name = "message"
				}
				return msg, nil
			}
			msg = Message{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			msg.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := d.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read event stream: %w", err)
	}
	return Message{}, io.EOF
}

// NextEvent returns the next `progress` message decoded as an Event. Other
// message types are skipped.
func (d *Decoder) NextEvent() (Event, error) {
	for {
		msg, err := d.Next()
		if err != nil {
			return Event{}, err
		}
		if msg.Name != eventName {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(msg.Data), &evt); err != nil {
			return Event{}, err
		}
		return evt, nil
	}
}
