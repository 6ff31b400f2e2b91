package canvas

import (
	"strings"
)

// Accumulator cap. Past this, input is dropped silently; the completed tool
// call still carries the full payload through the normal path.
const (
	maxAccumBytes = 100 * 1024
	accumSlack    = 1024
)

// Accumulator reassembles the streamed argument string of one canvas tool
// call and incrementally extracts the "content" field so it can render while
// the model is still typing. Not safe for concurrent use.
type Accumulator struct {
	buf      strings.Builder
	emitted  string
	overflow bool
}

// Feed appends an argument fragment and returns the newly decoded content
// delta, which may be empty.
//
// The returned deltas concatenate to a prefix of the final content field:
// decoding a longer accumulated input never rewrites previously emitted text.
func (a *Accumulator) Feed(fragment string) string {
	if a.overflow {
		return ""
	}
	if a.buf.Len()+len(fragment) > maxAccumBytes+accumSlack {
		a.overflow = true
		return ""
	}
	a.buf.WriteString(fragment)

	decoded := ExtractContent(a.buf.String())
	if len(decoded) <= len(a.emitted) {
		return ""
	}
	delta := decoded[len(a.emitted):]
	a.emitted = decoded
	return delta
}

// Content returns everything emitted so far.
func (a *Accumulator) Content() string { return a.emitted }

// ExtractContent decodes the value of the "content" key from a partial,
// still-growing JSON object. A general JSON parser rejects incomplete input,
// so this is a small hand-rolled scanner over the exact subset needed.
// Returns the decoded prefix available so far; empty when the content value
// has not started yet.
func ExtractContent(partial string) string {
	idx := strings.Index(partial, `"content"`)
	if idx < 0 {
		return ""
	}
	i := idx + len(`"content"`)

	i = skipSpace(partial, i)
	if i >= len(partial) || partial[i] != ':' {
		return ""
	}
	i++
	i = skipSpace(partial, i)
	if i >= len(partial) || partial[i] != '"' {
		return ""
	}
	i++

	var out strings.Builder
	for i < len(partial) {
		c := partial[i]
		if c == '"' {
			break
		}
		if c != '\\' {
			out.WriteByte(c)
			i++
			continue
		}

		// Escape sequence. A trailing backslash means the escape is split
		// across chunks; stop and wait for more bytes.
		if i+1 >= len(partial) {
			break
		}
		esc := partial[i+1]
		switch esc {
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case '"':
			out.WriteByte('"')
		case '\\':
			out.WriteByte('\\')
		case '/':
			out.WriteByte('/')
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case 'u':
			if i+6 > len(partial) {
				// Fewer than 4 hex digits so far; wait for more bytes.
				return out.String()
			}
			r, ok := parseHex4(partial[i+2 : i+6])
			if ok {
				out.WriteRune(r)
			}
			i += 6
			continue
		default:
			out.WriteByte(esc)
		}
		i += 2
	}
	return out.String()
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}

func parseHex4(s string) (rune, bool) {
	var r rune
	for i := 0; i < 4; i++ {
		r <<= 4
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, false
		}
	}
	return r, true
}
