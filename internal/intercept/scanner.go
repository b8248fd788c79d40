package intercept

// ObjectScanner incrementally extracts complete top-level JSON objects from
// a chunked UTF-8 stream. It tracks string-quote and escape state so braces
// inside string literals never count as structural, and it carries state
// across chunk boundaries, so an object split over many reads still comes
// out whole. Bytes outside top-level objects (whitespace, array commas,
// stream framing) are discarded.
type ObjectScanner struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
}

// NewObjectScanner creates an empty scanner
func NewObjectScanner() *ObjectScanner {
	return &ObjectScanner{}
}

// Feed consumes the next chunk and invokes emit once per completed
// top-level object, in order of completion.
func (s *ObjectScanner) Feed(chunk []byte, emit func(obj []byte)) {
	for _, ch := range chunk {
		if s.depth == 0 {
			if ch == '{' {
				s.depth = 1
				s.buf = append(s.buf[:0], ch)
			}
			continue
		}

		s.buf = append(s.buf, ch)

		if s.escaped {
			s.escaped = false
			continue
		}
		if ch == '\\' && s.inString {
			s.escaped = true
			continue
		}
		if ch == '"' {
			s.inString = !s.inString
			continue
		}
		if s.inString {
			continue
		}

		switch ch {
		case '{':
			s.depth++
		case '}':
			s.depth--
			if s.depth == 0 {
				obj := make([]byte, len(s.buf))
				copy(obj, s.buf)
				s.buf = s.buf[:0]
				emit(obj)
			}
		}
	}
}

// Pending reports whether an object is still open mid-stream
func (s *ObjectScanner) Pending() bool {
	return s.depth > 0
}

// Reset discards any partial object state
func (s *ObjectScanner) Reset() {
	s.buf = s.buf[:0]
	s.depth = 0
	s.inString = false
	s.escaped = false
}
