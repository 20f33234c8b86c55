// Intervene is an interactive feedback relay for AI coding agents.
// Copyright (C) 2026 The Intervene Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

// stripJSONC removes line (//) and block (/* */) comments from a JSONC
// document, leaving valid JSON. String-literal content is left untouched,
// including any "//" or "/*" that happens to appear inside a quoted string.
// No library in the reference corpus offers a JSONC dialect reader (the
// corpus's JSON handling is all encoding/json against plain JSON), so this
// is a small hand-written scanner rather than a borrowed one.
func stripJSONC(src []byte) []byte {
	out := make([]byte, 0, len(src))
	inString := false
	inLineComment := false
	inBlockComment := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		var next byte
		if i+1 < len(src) {
			next = src[i+1]
		}

		switch {
		case inLineComment:
			if c == '\n' {
				inLineComment = false
				out = append(out, c)
			}
			continue
		case inBlockComment:
			if c == '*' && next == '/' {
				inBlockComment = false
				i++
			}
			continue
		case inString:
			out = append(out, c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		default:
			if c == '"' {
				inString = true
				out = append(out, c)
				continue
			}
			if c == '/' && next == '/' {
				inLineComment = true
				i++
				continue
			}
			if c == '/' && next == '*' {
				inBlockComment = true
				i++
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

// skipWSAndComments advances i past any run of whitespace, line comments,
// and block comments, returning the index of the next meaningful byte (or
// len(src) if none remains).
func skipWSAndComments(src []byte, i int) int {
	for i < len(src) {
		switch {
		case src[i] == ' ' || src[i] == '\t' || src[i] == '\n' || src[i] == '\r':
			i++
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '/':
			i += 2
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case src[i] == '/' && i+1 < len(src) && src[i+1] == '*':
			i += 2
			for i+1 < len(src) && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i = min(i+2, len(src))
		default:
			return i
		}
	}
	return i
}

// skipString returns the index just past the closing quote of the JSON
// string literal starting at src[i] (src[i] must be '"').
func skipString(src []byte, i int) int {
	i++
	for i < len(src) {
		if src[i] == '\\' {
			i += 2
			continue
		}
		if src[i] == '"' {
			return i + 1
		}
		i++
	}
	return i
}

// skipValue returns the index just past the JSON value (object, array,
// string, or bare literal) starting at the first meaningful byte at or
// after src[i], tolerating embedded comments the same way stripJSONC does.
func skipValue(src []byte, i int) int {
	i = skipWSAndComments(src, i)
	if i >= len(src) {
		return i
	}
	if src[i] == '"' {
		return skipString(src, i)
	}
	if src[i] == '{' || src[i] == '[' {
		depth := 0
		for i < len(src) {
			c := src[i]
			switch {
			case c == '"':
				i = skipString(src, i)
				continue
			case c == '/' && i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*'):
				i = skipWSAndComments(src, i)
				continue
			case c == '{' || c == '[':
				depth++
			case c == '}' || c == ']':
				depth--
				if depth == 0 {
					return i + 1
				}
			}
			i++
		}
		return i
	}
	// number, true, false, null: run to the next structural delimiter.
	for i < len(src) {
		c := src[i]
		if c == ',' || c == '}' || c == ']' {
			break
		}
		if c == '/' && i+1 < len(src) && (src[i+1] == '/' || src[i+1] == '*') {
			break
		}
		i++
	}
	return i
}

// findTopLevelKey locates the value span [valStart, valEnd) of key at the
// top level of a JSONC object, so writeBack can splice in only that span
// and leave every comment, every other key, and all surrounding formatting
// byte-for-byte untouched (spec §4.1: write-back "formats only the changed
// keys"). ok is false if the document isn't a top-level object or key is
// not present there.
func findTopLevelKey(src []byte, key string) (valStart, valEnd int, ok bool) {
	i := skipWSAndComments(src, 0)
	if i >= len(src) || src[i] != '{' {
		return 0, 0, false
	}
	i++
	want := `"` + key + `"`
	for {
		i = skipWSAndComments(src, i)
		if i >= len(src) || src[i] == '}' {
			return 0, 0, false
		}
		if src[i] == ',' {
			i++
			continue
		}
		if src[i] != '"' {
			return 0, 0, false
		}
		keyStart := i
		keyEnd := skipString(src, i)
		i = skipWSAndComments(src, keyEnd)
		if i >= len(src) || src[i] != ':' {
			return 0, 0, false
		}
		i++
		vStart := skipWSAndComments(src, i)
		vEnd := skipValue(src, vStart)
		if string(src[keyStart:keyEnd]) == want {
			return vStart, vEnd, true
		}
		i = skipWSAndComments(src, vEnd)
		if i < len(src) && src[i] == ',' {
			i++
		}
	}
}

// insertTopLevelKey appends "key": value as a new member of src's top-level
// object, used when a document was hand-edited to omit a section entirely.
// It does not otherwise touch the document's bytes.
func insertTopLevelKey(src []byte, key string, value []byte) ([]byte, bool) {
	i := skipWSAndComments(src, 0)
	if i >= len(src) || src[i] != '{' {
		return nil, false
	}
	depth := 0
	closeIdx := -1
	for j := i; j < len(src); j++ {
		c := src[j]
		switch {
		case c == '"':
			j = skipString(src, j) - 1
			continue
		case c == '/' && j+1 < len(src) && (src[j+1] == '/' || src[j+1] == '*'):
			j = skipWSAndComments(src, j) - 1
			continue
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			depth--
			if depth == 0 {
				closeIdx = j
			}
		}
		if closeIdx >= 0 {
			break
		}
	}
	if closeIdx < 0 {
		return nil, false
	}

	hasKeys := skipWSAndComments(src, i+1) < closeIdx
	var ins []byte
	if hasKeys {
		ins = append(ins, ",\n  \""+key+"\": "...)
	} else {
		ins = append(ins, "\n  \""+key+"\": "...)
	}
	ins = append(ins, value...)
	ins = append(ins, '\n')

	out := make([]byte, 0, len(src)+len(ins))
	out = append(out, src[:closeIdx]...)
	out = append(out, ins...)
	out = append(out, src[closeIdx:]...)
	return out, true
}

// replaceTopLevelKey splices newValue in place of key's current value if
// key exists at the top level, or appends it as a new member otherwise.
func replaceTopLevelKey(src []byte, key string, newValue []byte) []byte {
	if vStart, vEnd, ok := findTopLevelKey(src, key); ok {
		out := make([]byte, 0, len(src)-(vEnd-vStart)+len(newValue))
		out = append(out, src[:vStart]...)
		out = append(out, newValue...)
		out = append(out, src[vEnd:]...)
		return out
	}
	if out, ok := insertTopLevelKey(src, key, newValue); ok {
		return out
	}
	return src
}
