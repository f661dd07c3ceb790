// ABOUTME: Minimal Server-Sent Events reader for streaming completion responses
// ABOUTME: Assembles data lines into events and skips comments and unknown fields

package assistant

import (
	"bufio"
	"io"
	"strings"
)

type sseEvent struct {
	Type string
	Data string
}

// sseReader yields events separated by blank lines.
type sseReader struct {
	r       *bufio.Reader
	current sseEvent
	err     error
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event, returning false at end of stream.
func (s *sseReader) Next() bool {
	if s.err != nil {
		return false
	}
	var (
		data      []string
		eventType string
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if len(data) > 0 {
				s.current = sseEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				s.current = sseEvent{Type: eventType, Data: strings.Join(data, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			eventType = value
		}
	}
}

func (s *sseReader) Event() sseEvent { return s.current }

// Err returns the read error that ended the stream, or nil on clean EOF.
func (s *sseReader) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
