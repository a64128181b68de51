package relay

import "bytes"

var dataPrefix = []byte("data:")

// Parser splits an upstream byte stream into complete frames and hands
// each one to the provider grammar. Upstream bytes arrive in fragments of
// arbitrary size that do not align with frame boundaries, so the parser
// keeps a carry-over buffer: a frame is only parsed once it is provably
// complete. Each concurrent stream owns its own Parser.
type Parser struct {
	grammar Grammar
	carry   []byte
}

// NewParser creates a parser for the given provider grammar.
func NewParser(g Grammar) *Parser {
	return &Parser{grammar: g}
}

// Feed consumes the next byte fragment and returns the normalized events
// for every frame it completed. The trailing partial frame, if any, is
// retained and re-examined on the next call.
func (p *Parser) Feed(fragment []byte) []Event {
	p.carry = append(p.carry, fragment...)

	var events []Event
	for {
		end, next := findFrameEnd(p.carry)
		if end < 0 {
			return events
		}
		frame := p.carry[:end]
		p.carry = p.carry[next:]
		events = append(events, p.parseFrame(frame)...)
	}
}

// findFrameEnd locates the blank line separating frames: a newline followed
// by an empty line, where either line ending may be LF or CRLF. Returns the
// frame end offset and the offset past the delimiter, or -1 when no complete
// delimiter is buffered yet. A trailing partial delimiter is never consumed,
// so feeding fragments of any size yields identical events.
func findFrameEnd(buf []byte) (end, next int) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		rest := buf[i+1:]
		if len(rest) > 0 && rest[0] == '\n' {
			return i, i + 2
		}
		if len(rest) > 1 && rest[0] == '\r' && rest[1] == '\n' {
			return i, i + 3
		}
	}
	return -1, -1
}

// Flush parses whatever remains in the carry-over buffer as a final
// frame. Called when the upstream closes without a sentinel so trailing
// content is recovered rather than silently dropped.
func (p *Parser) Flush() []Event {
	frame := p.carry
	p.carry = nil
	if len(bytes.TrimSpace(frame)) == 0 {
		return nil
	}
	return p.parseFrame(frame)
}

// parseFrame extracts the data payload from one complete frame and runs
// it through the grammar. Frames without a data line contribute nothing.
func (p *Parser) parseFrame(frame []byte) []Event {
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, dataPrefix) {
			// event:, id: and other fields carry no payload here.
			continue
		}
		value := bytes.TrimPrefix(line, dataPrefix)
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		data = append(data, value)
	}
	if len(data) == 0 {
		return nil
	}
	return p.grammar.Parse(bytes.Join(data, []byte("\n")))
}
