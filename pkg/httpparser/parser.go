// Package httpparser implements spec.md's C8: an incremental HTTP/1.1
// message parser that consumes byte chunks and emits callbacks as soon as
// each piece of the message becomes available, so a socket's arbitrary
// chunking of bytes on the wire never changes what gets parsed out of it.
package httpparser

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/fastpath/netkit/internal/xerrors"
)

// Mode selects which half of an HTTP/1.1 message the parser expects.
type Mode int

const (
	ModeRequest Mode = iota
	ModeResponse
)

type parseState int

const (
	stateFirstLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkCRLF
	stateChunkTrailer
	stateDone
	stateError
)

// Header is a single name/value pair; names are lower-cased on insertion.
// Repeated names are preserved as separate entries (a multimap), matching
// spec.md's header model.
type Header struct {
	Name  string
	Value string
}

// Headers preserves insertion order while supporting name lookups.
type Headers []Header

// Get returns the first value for name (case-insensitive), or "" if absent.
func (h Headers) Get(name string) string {
	name = strings.ToLower(name)
	for _, kv := range h {
		if kv.Name == name {
			return kv.Value
		}
	}
	return ""
}

// Values returns every value for name, in insertion order.
func (h Headers) Values(name string) []string {
	name = strings.ToLower(name)
	var out []string
	for _, kv := range h {
		if kv.Name == name {
			out = append(out, kv.Value)
		}
	}
	return out
}

// FirstLine captures either a request or response status line.
type FirstLine struct {
	// Request fields.
	Method string
	Target string
	// Response fields.
	StatusCode int
	Reason     string
	// Shared.
	Version string
}

// Callbacks receives parser events. Any nil field is simply not invoked.
type Callbacks struct {
	OnHeadersComplete func(first FirstLine, headers Headers)
	OnBody            func(chunk []byte)
	OnMessageComplete func()
	OnError           func(err error)
}

// Parser is a single-message incremental HTTP/1.1 parser. Reset for reuse
// across the next message on the same connection.
type Parser struct {
	mode  Mode
	cb    Callbacks
	state parseState

	lineBuf []byte

	first       FirstLine
	headers     Headers
	sawHeaders  bool
	contentLen  int64
	haveLength  bool
	chunked     bool
	bodyRead    int64
	chunkLeft   int64
}

// New creates a Parser in the given mode.
func New(mode Mode, cb Callbacks) *Parser {
	p := &Parser{mode: mode, cb: cb}
	p.reset()
	return p
}

// Reset prepares the parser for the next message on the same connection.
func (p *Parser) Reset() { p.reset() }

func (p *Parser) reset() {
	p.state = stateFirstLine
	p.lineBuf = p.lineBuf[:0]
	p.first = FirstLine{}
	p.headers = nil
	p.sawHeaders = false
	p.contentLen = -1
	p.haveLength = false
	p.chunked = false
	p.bodyRead = 0
	p.chunkLeft = 0
}

// ContentLength returns the declared body length, or -1 if unknown
// (no Content-Length and not chunked) or chunked.
func (p *Parser) ContentLength() int64 {
	if p.chunked {
		return -1
	}
	if !p.haveLength {
		return -1
	}
	return p.contentLen
}

// IsChunked reports whether Transfer-Encoding named the "chunked" token.
func (p *Parser) IsChunked() bool { return p.chunked }

func (p *Parser) fail(kind xerrors.Kind, msg string) {
	p.state = stateError
	if p.cb.OnError != nil {
		p.cb.OnError(xerrors.New(kind, "httpparser", msg))
	}
}

// Feed consumes a chunk of bytes, possibly spanning many parser states, and
// returns the number of bytes actually consumed from data (Feed never
// consumes bytes belonging to a subsequent message — the caller is
// expected to pass any trailing bytes, e.g. the start of a WebSocket frame
// stream, to its own next consumer).
func (p *Parser) Feed(data []byte) (consumed int) {
	for len(data) > 0 && p.state != stateDone && p.state != stateError {
		switch p.state {
		case stateFirstLine, stateHeaders:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.lineBuf = append(p.lineBuf, data...)
				return consumed + len(data)
			}
			line := append(p.lineBuf, data[:i]...)
			p.lineBuf = p.lineBuf[:0]
			data = data[i+1:]
			consumed += i + 1

			line = bytes.TrimSuffix(line, []byte{'\r'})
			if p.state == stateFirstLine {
				if !p.parseFirstLine(string(line)) {
					return consumed
				}
				p.state = stateHeaders
				continue
			}
			// stateHeaders
			if len(line) == 0 {
				p.onHeadersDone()
				continue
			}
			if !p.parseHeaderLine(string(line)) {
				return consumed
			}

		case stateBody:
			remaining := p.contentLen - p.bodyRead
			n := int64(len(data))
			if n > remaining {
				n = remaining
			}
			if n > 0 && p.cb.OnBody != nil {
				p.cb.OnBody(data[:n])
			}
			p.bodyRead += n
			data = data[n:]
			consumed += int(n)
			if p.bodyRead >= p.contentLen {
				p.finish()
			}

		case stateChunkSize:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.lineBuf = append(p.lineBuf, data...)
				return consumed + len(data)
			}
			line := append(p.lineBuf, data[:i]...)
			p.lineBuf = p.lineBuf[:0]
			data = data[i+1:]
			consumed += i + 1

			line = bytes.TrimSuffix(line, []byte{'\r'})
			sizeStr := string(line)
			if idx := strings.IndexByte(sizeStr, ';'); idx >= 0 {
				sizeStr = sizeStr[:idx]
			}
			sizeStr = strings.TrimSpace(sizeStr)
			size, err := strconv.ParseInt(sizeStr, 16, 64)
			if err != nil || size < 0 {
				p.fail(xerrors.KindHTTPParseError, "invalid chunk size")
				return consumed
			}
			if size == 0 {
				p.state = stateChunkTrailer
				continue
			}
			p.chunkLeft = size
			p.state = stateChunkData

		case stateChunkData:
			n := int64(len(data))
			if n > p.chunkLeft {
				n = p.chunkLeft
			}
			if n > 0 && p.cb.OnBody != nil {
				p.cb.OnBody(data[:n])
			}
			p.chunkLeft -= n
			data = data[n:]
			consumed += int(n)
			if p.chunkLeft == 0 {
				p.state = stateChunkCRLF
			}

		case stateChunkCRLF:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.lineBuf = append(p.lineBuf, data...)
				return consumed + len(data)
			}
			data = data[i+1:]
			consumed += i + 1
			p.lineBuf = p.lineBuf[:0]
			p.state = stateChunkSize

		case stateChunkTrailer:
			i := bytes.IndexByte(data, '\n')
			if i < 0 {
				p.lineBuf = append(p.lineBuf, data...)
				return consumed + len(data)
			}
			line := append(p.lineBuf, data[:i]...)
			p.lineBuf = p.lineBuf[:0]
			data = data[i+1:]
			consumed += i + 1
			if len(bytes.TrimSuffix(line, []byte{'\r'})) == 0 {
				p.finish()
				continue
			}
			// trailer headers are parsed but not surfaced separately;
			// spec.md's C8 doesn't call for exposing them.
		}
	}
	return consumed
}

func (p *Parser) parseFirstLine(line string) bool {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		p.fail(xerrors.KindHTTPParseError, "malformed first line")
		return false
	}
	if p.mode == ModeRequest {
		p.first.Method = parts[0]
		p.first.Target = parts[1]
		p.first.Version = parts[2]
	} else {
		p.first.Version = parts[0]
		code, err := strconv.Atoi(parts[1])
		if err != nil {
			p.fail(xerrors.KindHTTPParseError, "malformed status code")
			return false
		}
		p.first.StatusCode = code
		p.first.Reason = parts[2]
	}
	return true
}

func (p *Parser) parseHeaderLine(line string) bool {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		p.fail(xerrors.KindHTTPParseError, "malformed header line")
		return false
	}
	name := strings.ToLower(strings.TrimSpace(line[:idx]))
	value := strings.TrimSpace(line[idx+1:])
	p.headers = append(p.headers, Header{Name: name, Value: value})
	return true
}

func (p *Parser) onHeadersDone() {
	p.sawHeaders = true

	if te := p.headers.Get("transfer-encoding"); te != "" {
		for _, tok := range strings.Split(te, ",") {
			if strings.EqualFold(strings.TrimSpace(tok), "chunked") {
				p.chunked = true
			}
		}
	}
	if cl := p.headers.Get("content-length"); cl != "" && !p.chunked {
		if n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64); err == nil && n >= 0 {
			p.contentLen = n
			p.haveLength = true
		}
	}

	if p.cb.OnHeadersComplete != nil {
		p.cb.OnHeadersComplete(p.first, p.headers)
	}

	switch {
	case p.chunked:
		p.state = stateChunkSize
	case p.haveLength && p.contentLen > 0:
		p.state = stateBody
	case p.haveLength && p.contentLen == 0:
		p.finish()
	case p.mode == ModeRequest:
		// Requests with neither Content-Length nor chunked encoding have
		// no body.
		p.finish()
	default:
		// A response with no declared length and no chunking reads until
		// connection close; callers drive that by feeding bytes until EOF
		// and then calling Finish explicitly.
		p.state = stateBody
		p.contentLen = 1 << 62
	}
}

// Finish is called by the transport layer when the connection has closed
// and the parser was waiting on a read-until-close body (no
// Content-Length, not chunked). It is a no-op once the message is already
// complete.
func (p *Parser) Finish() {
	if p.state == stateBody && !p.haveLength && !p.chunked {
		p.finish()
	}
}

func (p *Parser) finish() {
	p.state = stateDone
	if p.cb.OnMessageComplete != nil {
		p.cb.OnMessageComplete()
	}
}

// Done reports whether the current message has been fully parsed.
func (p *Parser) Done() bool { return p.state == stateDone }

// Failed reports whether the parser hit malformed input.
func (p *Parser) Failed() bool { return p.state == stateError }
