package parser

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Number reads a numeric value that a model may have written as a number,
// a numeric string, a percentage ("85%") or a ratio ("8/10", numerator
// returned).
func Number(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		s = strings.TrimSuffix(s, "%")
		if i := strings.IndexByte(s, '/'); i >= 0 {
			s = s[:i]
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	default:
		return 0, false
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Strings reads an array of strings, or a single string, skipping blanks.
func Strings(r gjson.Result) []string {
	var out []string
	add := func(v gjson.Result) {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	if r.IsArray() {
		for _, v := range r.Array() {
			add(v)
		}
		return out
	}
	if r.Type == gjson.String {
		add(r)
	}
	return out
}

// FloatMap reads an object of numeric values; non-numeric members are
// dropped.
func FloatMap(r gjson.Result) map[string]float64 {
	if !r.IsObject() {
		return nil
	}
	out := map[string]float64{}
	r.ForEach(func(k, v gjson.Result) bool {
		if n, ok := Number(v); ok {
			out[k.String()] = n
		}
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// FirstSentences returns up to n sentences of text.
func FirstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	if text == "" || n <= 0 {
		return ""
	}
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}

func WordCount(s string) int {
	return len(strings.Fields(s))
}
