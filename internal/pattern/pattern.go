// Package pattern translates between file names and tag fields using a
// user-defined template such as "%ARTIST% - %TITLE%".
package pattern

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/unidecode"

	"tagify/internal/metadata"
)

const (
	// MaxLength is the longest file name Sanitize produces, in bytes.
	MaxLength = 255
	// Invalid replaces names that cannot be used at all.
	Invalid = "(INVALID)"
)

var ErrUnterminated = errors.New("unterminated field placeholder")

// Tokenize splits a pattern into its placeholder names and the literal
// separators between them, in order. Leading and trailing literals are
// included in seps.
func Tokenize(pattern string) (fields, seps []string, err error) {
	var field, sep strings.Builder
	inField := false
	for _, r := range pattern {
		if r == '%' {
			if sep.Len() > 0 {
				seps = append(seps, sep.String())
				sep.Reset()
			}
			if inField {
				fields = append(fields, field.String())
				field.Reset()
			}
			inField = !inField
			continue
		}
		if inField {
			field.WriteRune(r)
		} else {
			sep.WriteRune(r)
		}
	}
	if inField {
		return nil, nil, ErrUnterminated
	}
	if sep.Len() > 0 {
		seps = append(seps, sep.String())
	}
	return fields, seps, nil
}

// Pattern is a compiled file name template. Literal i precedes field i;
// Tail follows the last field.
type Pattern struct {
	raw      string
	fields   []metadata.Field
	literals []string
	tail     string
}

// Compile parses a template, rejecting unknown placeholders.
func Compile(s string) (*Pattern, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty pattern")
	}
	if _, _, err := Tokenize(s); err != nil {
		return nil, err
	}

	p := &Pattern{raw: s}
	var lit strings.Builder
	rest := s
	for {
		i := strings.IndexByte(rest, '%')
		if i < 0 {
			lit.WriteString(rest)
			break
		}
		lit.WriteString(rest[:i])
		rest = rest[i+1:]
		j := strings.IndexByte(rest, '%')
		name := rest[:j]
		rest = rest[j+1:]

		f, ok := metadata.ParseField(name)
		if !ok || f == metadata.FieldPicture || name != string(f) {
			return nil, fmt.Errorf("unknown field %%%s%% in pattern", name)
		}
		p.fields = append(p.fields, f)
		p.literals = append(p.literals, lit.String())
		lit.Reset()
	}
	p.tail = lit.String()
	return p, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(s string) *Pattern {
	p, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) String() string { return p.raw }

// Fields returns the placeholders in pattern order.
func (p *Pattern) Fields() []metadata.Field {
	return append([]metadata.Field(nil), p.fields...)
}

// Format builds a file name (without extension) from tag values. It fails
// when any referenced field is blank. The result is sanitized.
func (p *Pattern) Format(values map[metadata.Field]string) (string, bool) {
	var b strings.Builder
	for i, f := range p.fields {
		v := strings.TrimSpace(values[f])
		if v == "" {
			return "", false
		}
		if f == metadata.FieldYear && len(v) > 4 {
			v = v[:4]
		}
		b.WriteString(p.literals[i])
		b.WriteString(v)
	}
	b.WriteString(p.tail)

	name := b.String()
	if strings.TrimSpace(name) == "" {
		return "", false
	}
	return Sanitize(name), true
}

// Parse extracts field values from a file name (without extension). Every
// literal must match verbatim and every field must be non-blank; otherwise
// the parse fails as a whole.
func (p *Pattern) Parse(name string) (map[metadata.Field]string, bool) {
	if len(p.fields) == 0 {
		return nil, false
	}
	values := make(map[metadata.Field]string, len(p.fields))

	rest := name
	if !strings.HasPrefix(rest, p.literals[0]) {
		return nil, false
	}
	rest = rest[len(p.literals[0]):]

	for i, f := range p.fields {
		var value string
		if i == len(p.fields)-1 {
			if !strings.HasSuffix(rest, p.tail) {
				return nil, false
			}
			value = rest[:len(rest)-len(p.tail)]
			rest = ""
		} else {
			sep := p.literals[i+1]
			if sep == "" {
				return nil, false
			}
			j := strings.Index(rest, sep)
			if j < 0 {
				return nil, false
			}
			value = rest[:j]
			rest = rest[j+len(sep):]
		}

		value = strings.TrimSpace(value)
		if value == "" {
			return nil, false
		}
		values[f] = value
	}
	return values, true
}

// Sanitize makes name safe as a single path component.
func Sanitize(name string) string {
	if name == "" || name == "." || name == ".." {
		return Invalid
	}
	if len(name) > MaxLength {
		name = truncate(name, MaxLength)
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '_'
		}
		return r
	}, name)
}

// ASCII transliterates name to plain ASCII.
func ASCII(name string) string {
	return unidecode.Unidecode(name)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for i := range s {
		if i > n {
			break
		}
		cut = i
	}
	return s[:cut]
}
