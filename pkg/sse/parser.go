package sse

import "strings"

// parser is the line-based SSE field accumulator described in spec.md
// §4.C12, grounded on original_source/sse_client.cpp's SseParser.
type parser struct {
	buffer  strings.Builder
	current Event
}

// feed appends chunk to the buffer, consumes it line by line, and invokes
// dispatch for each complete (non-empty) event an empty line terminates.
func (p *parser) feed(chunk []byte, dispatch func(Event)) {
	p.buffer.Write(chunk)
	buf := p.buffer.String()

	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := buf[:idx]
		buf = buf[idx+1:]
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if !p.current.IsEmpty() {
				dispatch(p.current)
			}
			p.current = Event{}
			continue
		}
		p.processLine(line)
	}

	p.buffer.Reset()
	p.buffer.WriteString(buf)
}

func (p *parser) processLine(line string) {
	name, value := line, ""
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		name, value = line[:idx], line[idx+1:]
		value = strings.TrimPrefix(value, " ")
	}
	p.processField(name, value)
}

func (p *parser) processField(name, value string) {
	switch name {
	case "event":
		p.current.Type = value
	case "data":
		if p.current.Data != "" {
			p.current.Data += "\n"
		}
		p.current.Data += value
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.current.ID = value
		}
	case "retry":
		if ms, ok := parsePositiveInt(value); ok {
			p.current.Retry = ms
		}
	}
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}
