package diagnosis

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Models drift from the requested schema: numbers arrive quoted ("1.5",
// "45%", "$120"), single values stand in for lists. The lenient types below
// accept those shapes so one off-type field does not discard the payload.
// Syntax errors still fail the decode.

var jsonNull = []byte("null")

// number decodes a JSON number or a numeric string. Anything else is 0.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*n = number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = number(parseLooseNumber(s))
		return nil
	}
	*n = 0
	return nil
}

// parseLooseNumber reads the leading number of s after dropping currency
// signs, percent signs and thousands separators. "1.5 hours" is 1.5.
func parseLooseNumber(s string) float64 {
	s = strings.NewReplacer("$", "", "%", "", ",", "").Replace(strings.TrimSpace(s))
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || (end == 0 && (c == '-' || c == '+')) {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	return f
}

// text decodes a string, or the literal text of a number or boolean.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = text(s)
		return nil
	}
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] != '{' && b[0] != '[' && !bytes.Equal(b, jsonNull) {
		*t = text(b)
		return nil
	}
	*t = ""
	return nil
}

// flag decodes a boolean or the strings "true"/"yes".
type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = flag(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			*f = true
			return nil
		}
	}
	*f = false
	return nil
}

// list decodes an array, treating a lone value as a one-element array.
// Elements that do not decode as T are dropped.
type list[T any] []T

func (l *list[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, jsonNull) {
		*l = nil
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		raws = []json.RawMessage{b}
	}

	out := make(list[T], 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// texts flattens a list of text values into plain strings, dropping blanks.
func texts(in list[text]) []string {
	out := make([]string, 0, len(in))
	for _, t := range in {
		if s := strings.TrimSpace(string(t)); s != "" {
			out = append(out, string(t))
		}
	}
	return out
}
