package llm

import (
	"bytes"
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/credit-pipeline/internal/resilience"
)

// FirstJSONObject returns the first balanced {...} object in text that is
// valid JSON. Braces inside string literals are ignored. ok is false when no
// complete object exists. The text is scanned once; unmatched opening braces
// stay on the stack and never trigger a rescan.
func FirstJSONObject(text string) (obj string, ok bool) {
	var open []int
	var closed [][2]int
	inString, escaped := false, false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = len(open) > 0
		case '{':
			open = append(open, i)
		case '}':
			if len(open) == 0 {
				continue
			}
			closed = append(closed, [2]int{open[len(open)-1], i})
			open = open[:len(open)-1]
			if len(open) == 0 {
				if obj, ok := firstValid(text, closed); ok {
					return obj, true
				}
				closed = closed[:0]
			}
		}
	}
	return firstValid(text, closed)
}

// firstValid returns the valid object among spans with the earliest start.
func firstValid(text string, spans [][2]int) (string, bool) {
	slices.SortFunc(spans, func(a, b [2]int) int { return cmp.Compare(a[0], b[0]) })
	for _, sp := range spans {
		if candidate := text[sp[0] : sp[1]+1]; json.Valid([]byte(candidate)) {
			return candidate, true
		}
	}
	return "", false
}

// ClipText returns at most n bytes of s, cut back to a rune boundary.
func ClipText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Schema is a compiled JSON schema for model responses.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document. It panics on an invalid
// schema since schemas are package constants.
func CompileSchema(name, doc string) *Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(eris.Wrapf(err, "llm: add schema %s", name))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(eris.Wrapf(err, "llm: compile schema %s", name))
	}
	return &Schema{name: name, schema: s}
}

// Validate checks raw JSON against the schema.
func (s *Schema) Validate(raw []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return resilience.Parse(eris.Wrap(err, "llm: unmarshal response"))
	}
	if err := s.schema.Validate(v); err != nil {
		return resilience.Parse(eris.Wrapf(err, "llm: response does not match %s", s.name))
	}
	return nil
}

// DecodeResponse extracts the first JSON object from a model response,
// validates it against schema, and returns the raw object. Every failure is
// a parse error.
func DecodeResponse(text string, schema *Schema) (json.RawMessage, error) {
	obj, ok := FirstJSONObject(text)
	if !ok {
		return nil, resilience.Parse(eris.New("llm: response contains no JSON object"))
	}
	if err := schema.Validate([]byte(obj)); err != nil {
		return nil, err
	}
	return json.RawMessage(obj), nil
}
