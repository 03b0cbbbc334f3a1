// Package parser extracts structured data from generative model replies.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

type ParseError struct {
	Reason  string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return "parse reply: " + e.Reason
	}
	return fmt.Sprintf("parse reply: %s (near %q)", e.Reason, e.Snippet)
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)```")

// ExtractJSON locates the first JSON object in s and repairs the common
// model mistakes: markdown fences, surrounding prose, trailing commas and
// raw control characters inside strings. ExtractJSON(ExtractJSON(s)) equals
// ExtractJSON(s).
func ExtractJSON(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", &ParseError{Reason: "empty reply"}
	}
	candidates := []string{}
	for _, m := range fenceRe.FindAllStringSubmatch(s, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, s)

	for _, c := range candidates {
		// Prose may carry stray braces before the real object, so every
		// opening brace is a possible start.
		for start := strings.IndexByte(c, '{'); start >= 0; {
			if obj, ok := balancedObject(c, start); ok {
				obj = escapeControlChars(removeTrailingCommas(obj))
				if gjson.Valid(obj) {
					return obj, nil
				}
			}
			next := strings.IndexByte(c[start+1:], '{')
			if next < 0 {
				break
			}
			start += next + 1
		}
	}
	return "", &ParseError{Reason: "no JSON object found", Snippet: snippet(s)}
}

// Parse extracts and parses the first JSON object in s.
func Parse(s string) (gjson.Result, error) {
	obj, err := ExtractJSON(s)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.Parse(obj), nil
}

// balancedObject returns the substring from the '{' at start to its
// matching '}', honouring string literals.
func balancedObject(s string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}
		if ch == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func escapeControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inString {
			if ch == '"' {
				inString = true
			}
			b.WriteByte(ch)
			continue
		}
		switch {
		case escaped:
			escaped = false
			b.WriteByte(ch)
		case ch == '\\':
			escaped = true
			b.WriteByte(ch)
		case ch == '"':
			inString = false
			b.WriteByte(ch)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\r':
			b.WriteString(`\r`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20:
			fmt.Fprintf(&b, `\u%04x`, ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80]
	}
	return s
}
