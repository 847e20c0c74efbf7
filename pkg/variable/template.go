// Package variable parses and resolves {{ nodeName.field }} references between
// node params and upstream node outputs.
//
// Resolution is total: it never fails and never panics. A reference that cannot
// be resolved yields a warning and either stays in the text verbatim (unknown
// node) or becomes the empty string (missing output).
package variable

import (
	"strings"
)

// Reference is one {{ name.field }} token found in a template.
type Reference struct {
	NodeName string
	Field    string
	// Raw is the token exactly as written, braces and whitespace included.
	Raw string
	// Start and End are byte offsets of Raw in the source text.
	Start int
	End   int
}

// Segment is either literal text or a reference. Exactly one is set.
type Segment struct {
	Literal string
	Ref     *Reference
}

// Template is a parsed template string.
type Template struct {
	Source   string
	Segments []Segment
}

// Parse tokenizes text. Tokens are matched leftmost-first and never overlap. A
// backslash immediately before "{{" escapes it: "\{{" is the literal "{{".
// A "{{" that does not start a well-formed token is kept as literal text.
func Parse(text string) Template {
	t := Template{Source: text}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.Segments = append(t.Segments, Segment{Literal: lit.String()})
			lit.Reset()
		}
	}

	n := len(text)
	i := 0
	for i < n {
		if text[i] == '\\' && strings.HasPrefix(text[i+1:], "{{") {
			lit.WriteString("{{")
			i += 3
			continue
		}
		if text[i] == '{' && strings.HasPrefix(text[i:], "{{") {
			if ref, ok := matchToken(text, i); ok {
				flush()
				t.Segments = append(t.Segments, Segment{Ref: &ref})
				i = ref.End
				continue
			}
		}
		lit.WriteByte(text[i])
		i++
	}
	flush()
	return t
}

// References returns every reference in the template, in source order.
func (t Template) References() []Reference {
	var refs []Reference
	for _, s := range t.Segments {
		if s.Ref != nil {
			refs = append(refs, *s.Ref)
		}
	}
	return refs
}

// HasReferences reports whether the template contains at least one token.
func (t Template) HasReferences() bool {
	for _, s := range t.Segments {
		if s.Ref != nil {
			return true
		}
	}
	return false
}

// ExtractReferences parses text and returns its references in source order.
// Text without tokens yields nil.
func ExtractReferences(text string) []Reference {
	if !strings.Contains(text, "{{") {
		return nil
	}
	return Parse(text).References()
}

// matchToken tries to read "{{ name.field }}" starting at text[start].
func matchToken(text string, start int) (Reference, bool) {
	n := len(text)
	i := start + 2
	i = skipSpace(text, i)

	nameStart := i
	if i >= n || !isNameStart(text[i]) {
		return Reference{}, false
	}
	for i < n && isNameChar(text[i]) {
		i++
	}
	name := text[nameStart:i]

	if i >= n || text[i] != '.' {
		return Reference{}, false
	}
	i++

	fieldStart := i
	for {
		segStart := i
		for i < n && isNameChar(text[i]) {
			i++
		}
		if i == segStart {
			return Reference{}, false
		}
		if i < n && text[i] == '.' {
			i++
			continue
		}
		break
	}
	field := text[fieldStart:i]

	i = skipSpace(text, i)
	if !strings.HasPrefix(text[i:], "}}") {
		return Reference{}, false
	}
	i += 2

	return Reference{
		NodeName: name,
		Field:    field,
		Raw:      text[start:i],
		Start:    start,
		End:      i,
	}, true
}

func skipSpace(text string, i int) int {
	for i < len(text) && (text[i] == ' ' || text[i] == '\t' || text[i] == '\n' || text[i] == '\r') {
		i++
	}
	return i
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || c == '-' || (c >= '0' && c <= '9')
}
