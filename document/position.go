package document

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/parley-ls/parley/protocol"
)

// LSP positions count lines and UTF-16 code units within a line. The same
// convention is used for edit application and for every consumer of
// document text, so offsets computed here are valid anywhere in the server.

// OffsetAt converts an LSP Position to a byte offset in text. Positions
// past the end of a line or the document clamp to the nearest valid offset.
func OffsetAt(text string, pos protocol.Position) int {
	offset := 0
	for l := uint32(0); l < pos.Line; l++ {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
	}

	line := text[offset:]
	if nl := strings.IndexByte(line, '\n'); nl >= 0 {
		line = line[:nl]
	}
	return offset + utf16ToByteOffset(line, int(pos.Character))
}

// PositionAt converts a byte offset in text to an LSP Position.
func PositionAt(text string, offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}

	line := uint32(0)
	lineStart := 0
	for i := 0; i < offset; i++ {
		if text[i] == '\n' {
			line++
			lineStart = i + 1
		}
	}

	return protocol.Position{
		Line:      line,
		Character: uint32(utf16Length(text[lineStart:offset])),
	}
}

// utf16ToByteOffset converts a UTF-16 code unit offset within a line to a
// byte offset, clamping at the line's end.
func utf16ToByteOffset(line string, units int) int {
	u16 := 0
	b := 0
	for b < len(line) && u16 < units {
		r, size := utf8.DecodeRuneInString(line[b:])
		if r == utf8.RuneError && size == 1 {
			u16++
			b++
			continue
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		u16 += n
		b += size
	}
	return b
}

// utf16Length returns the UTF-16 code unit count of s.
func utf16Length(s string) int {
	u16 := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			u16++
			i++
			continue
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		u16 += n
		i += size
	}
	return u16
}

// WordAt returns the word at the given position. A word is delimited by
// anything that is not a letter, digit, or underscore.
func WordAt(text string, pos protocol.Position) string {
	offset := OffsetAt(text, pos)
	if offset < 0 || offset >= len(text) {
		return ""
	}

	start := offset
	for start > 0 && isWordByte(text[start-1]) {
		start--
	}
	end := offset
	for end < len(text) && isWordByte(text[end]) {
		end++
	}
	return text[start:end]
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
