// Package sections incrementally extracts the four tagged sections of a
// generated article from a byte stream that arrives in arbitrary chunks.
package sections

import "bytes"

// Name identifies one of the four required article sections.
type Name string

const (
	Opening Name = "opening"
	Title   Name = "title"
	Content Name = "content"
	Closing Name = "closing"
)

// Canonical is the declared section order used for diagnostics.
var Canonical = []Name{Opening, Title, Content, Closing}

// State describes how far a section's extraction has progressed.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in_progress"
	case StateComplete:
		return "complete"
	default:
		return "not_started"
	}
}

// section tracks one tagged section independently of the others. Sections
// are matched by delimiter pattern, not by a shared cursor, because model
// output is not guaranteed to be well-nested or strictly sequential.
type section struct {
	open     []byte
	close    []byte
	openIdx  int // buffer offset of the opening delimiter, -1 until found
	closeIdx int // buffer offset of the closing delimiter, -1 until found
	cursor   int // next scan offset into the buffer
}

// Parser recognizes the four sections inside a chunked byte stream. The
// buffer is append-only: a closing delimiter may arrive many chunks after
// its opening, so earlier bytes stay addressable. Feeding the same total
// byte sequence in any chunking yields the same final state.
type Parser struct {
	buf      bytes.Buffer
	sections map[Name]*section
}

// NewParser returns a Parser with no bytes consumed.
func NewParser() *Parser {
	p := &Parser{sections: make(map[Name]*section, len(Canonical))}
	for _, n := range Canonical {
		p.sections[n] = &section{
			open:     []byte("<" + n + ">"),
			close:    []byte("</" + n + ">"),
			openIdx:  -1,
			closeIdx: -1,
		}
	}
	return p
}

// Feed appends one chunk and returns the sections that became complete as a
// result, in canonical order. It never fails: malformed or missing tags are
// reported through Complete and Missing, not through errors.
func (p *Parser) Feed(chunk []byte) []Name {
	p.buf.Write(chunk)
	data := p.buf.Bytes()

	var done []Name
	for _, n := range Canonical {
		s := p.sections[n]
		if s.closeIdx >= 0 {
			continue
		}
		if s.advance(data) {
			done = append(done, n)
		}
	}
	return done
}

// advance moves one section forward over the buffer. On a miss the cursor is backed
// off by one less than the delimiter length so a delimiter split exactly at
// a chunk boundary is still found on the next Feed. The first opening
// delimiter pairs with the first closing delimiter after it; cursors only
// move forward, so discovery order across chunks cannot change the pairing.
func (s *section) advance(data []byte) bool {
	if s.openIdx < 0 {
		i := bytes.Index(data[s.cursor:], s.open)
		if i < 0 {
			s.cursor = retreat(len(data), s.cursor, len(s.open))
			return false
		}
		s.openIdx = s.cursor + i
		s.cursor = s.openIdx + len(s.open)
	}
	i := bytes.Index(data[s.cursor:], s.close)
	if i < 0 {
		s.cursor = retreat(len(data), s.cursor, len(s.close))
		return false
	}
	s.closeIdx = s.cursor + i
	return true
}

// retreat positions the cursor to keep a partial-delimiter overlap at the
// buffer tail without ever moving backwards past already-scanned bytes.
func retreat(bufLen, cursor, delimLen int) int {
	tail := bufLen - (delimLen - 1)
	if tail < cursor {
		return cursor
	}
	return tail
}

// HasOpeningTag reports whether the opening section's start delimiter
// appears within the first n accumulated bytes. Used as a cheap early
// structure check before the stream ends.
func (p *Parser) HasOpeningTag(n int) bool {
	data := p.buf.Bytes()
	if n > len(data) {
		n = len(data)
	}
	s := p.sections[Opening]
	if s.openIdx >= 0 {
		return s.openIdx+len(s.open) <= n
	}
	return bytes.Contains(data[:n], s.open)
}

// Complete reports whether all four sections have been opened and closed.
func (p *Parser) Complete() bool {
	for _, s := range p.sections {
		if s.closeIdx < 0 {
			return false
		}
	}
	return true
}

// Missing returns the sections not yet closed, in canonical order.
func (p *Parser) Missing() []Name {
	var missing []Name
	for _, n := range Canonical {
		if p.sections[n].closeIdx < 0 {
			missing = append(missing, n)
		}
	}
	return missing
}

// Status returns a per-section diagnostic snapshot.
func (p *Parser) Status() map[Name]State {
	st := make(map[Name]State, len(Canonical))
	for _, n := range Canonical {
		s := p.sections[n]
		switch {
		case s.closeIdx >= 0:
			st[n] = StateComplete
		case s.openIdx >= 0:
			st[n] = StateInProgress
		default:
			st[n] = StateNotStarted
		}
	}
	return st
}

// Section returns the extracted text of a completed section. ok is false
// until the section has closed.
func (p *Parser) Section(n Name) (string, bool) {
	s, found := p.sections[n]
	if !found || s.closeIdx < 0 {
		return "", false
	}
	data := p.buf.Bytes()
	return string(data[s.openIdx+len(s.open) : s.closeIdx]), true
}

// BytesProcessed returns the total number of bytes fed so far.
func (p *Parser) BytesProcessed() int {
	return p.buf.Len()
}
