// Package tags extracts structured directives that generated replies embed
// in free text: [MEM: key=value], [PPV: tag] and [CUSTOM_REQ: description].
//
// Keywords match case-insensitively, whitespace around the colon is
// optional, and a payload runs to the first ']' without crossing a '[' or a
// newline. Recognized tags are always removed from the visible text, even
// when their payload is malformed or they repeat a singleton tag. Unknown
// bracket constructs are left as they are.
package tags

import (
	"strings"
)

// Fact is one memory entry extracted from a [MEM: key=value] tag.
type Fact struct {
	Key   string
	Value string
}

// Result is the outcome of scanning one generated reply.
type Result struct {
	// Text is the input with every recognized tag removed. Whitespace is
	// left as is; see Collapse.
	Text string
	// Facts holds well-formed memory tags in order of appearance.
	Facts []Fact
	// Offer is the payload of the first [PPV: ...] tag.
	Offer    string
	HasOffer bool
	// CustomOrder is the payload of the first [CUSTOM_REQ: ...] tag.
	CustomOrder    string
	HasCustomOrder bool
}

const (
	keywordMemory      = "MEM"
	keywordOffer       = "PPV"
	keywordCustomOrder = "CUSTOM_REQ"
)

// Scan walks raw once, collecting tags and building the stripped text.
func Scan(raw string) Result {
	var (
		res Result
		out strings.Builder
	)
	out.Grow(len(raw))

	for i := 0; i < len(raw); {
		if raw[i] != '[' {
			out.WriteByte(raw[i])
			i++
			continue
		}
		keyword, payload, next, ok := parseTag(raw, i)
		if !ok {
			out.WriteByte('[')
			i++
			continue
		}
		res.apply(keyword, payload)
		i = next
	}

	res.Text = out.String()
	return res
}

func (r *Result) apply(keyword, payload string) {
	switch keyword {
	case keywordMemory:
		k, v, found := strings.Cut(payload, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !found || k == "" {
			return
		}
		r.Facts = append(r.Facts, Fact{Key: k, Value: strings.TrimSpace(v)})
	case keywordOffer:
		if r.HasOffer || payload == "" {
			return
		}
		r.Offer, r.HasOffer = payload, true
	case keywordCustomOrder:
		if r.HasCustomOrder || payload == "" {
			return
		}
		r.CustomOrder, r.HasCustomOrder = payload, true
	}
}

// parseTag tries to read a recognized tag starting at the '[' at start.
// It returns the upper-cased keyword, the trimmed payload and the index
// just past the closing bracket.
func parseTag(s string, start int) (keyword, payload string, next int, ok bool) {
	i := start + 1
	kwStart := i
	for i < len(s) && isKeywordByte(s[i]) {
		i++
	}
	keyword = strings.ToUpper(s[kwStart:i])
	switch keyword {
	case keywordMemory, keywordOffer, keywordCustomOrder:
	default:
		return "", "", 0, false
	}

	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	if i >= len(s) || s[i] != ':' {
		return "", "", 0, false
	}
	i++

	payloadStart := i
	for i < len(s) {
		switch s[i] {
		case ']':
			return keyword, strings.TrimSpace(s[payloadStart:i]), i + 1, true
		case '[', '\n', '\r':
			return "", "", 0, false
		}
		i++
	}
	return "", "", 0, false
}

func isKeywordByte(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// Collapse replaces every whitespace run with a single space and trims the ends.
func Collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MergeFacts applies facts onto dst in order, later keys overwriting earlier ones.
// It reports whether anything was applied.
func MergeFacts(dst map[string]string, facts []Fact) bool {
	for _, f := range facts {
		dst[f.Key] = f.Value
	}
	return len(facts) > 0
}
