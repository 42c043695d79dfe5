package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when no valid JSON object/array is found in the input
var ErrNoJSONFound = errors.New("no valid JSON object or array found in response")

// parseStrategy is one recovery attempt over a raw LLM response. Strategies
// are tried in order; the first one yielding valid JSON wins.
type parseStrategy struct {
	name string
	fn   func(string) string
}

var parseStrategies = []parseStrategy{
	{"direct", func(s string) string { return strings.TrimSpace(s) }},
	{"strip-fences", stripMarkdownFences},
	{"sanitize-escapes", func(s string) string { return SanitizeEscapes(stripMarkdownFences(s)) }},
	{"bracket-scan", func(s string) string { return extractJSONByBrackets(stripMarkdownFences(s)) }},
	{"bracket-scan-sanitized", func(s string) string {
		return extractJSONByBrackets(SanitizeEscapes(stripMarkdownFences(s)))
	}},
}

// ExtractJSON extracts and validates JSON from LLM responses that may contain
// garbage characters, markdown formatting, or invalid escape sequences.
//
// Returns the cleaned JSON string or an error if no strategy recovers valid JSON.
func ExtractJSON(response string) (string, error) {
	if response == "" {
		return "", ErrNoJSONFound
	}

	for _, strategy := range parseStrategies {
		candidate := strategy.fn(response)
		if candidate == "" {
			continue
		}
		if json.Valid([]byte(candidate)) {
			if strategy.name != "direct" {
				log.Printf("[JSON Extractor] Recovered valid JSON via %s (%d chars)", strategy.name, len(candidate))
			}
			return candidate, nil
		}
	}

	log.Printf("[JSON Extractor] No valid JSON found in response (length=%d)", len(response))
	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// ExtractJSONTo extracts JSON from response and unmarshals it into the target
func ExtractJSONTo(response string, target interface{}) error {
	jsonStr, err := ExtractJSON(response)
	if err != nil {
		return err
	}

	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		log.Printf("[JSON Extractor] Unmarshal failed: %v", err)
		return err
	}
	return nil
}

// ExtractKeyedArray locates a `"key": [...]` array inside a possibly broken
// response by bracket-balance scanning and returns just the array substring.
// Useful when the surrounding object is corrupted but the array itself parses.
func ExtractKeyedArray(response, key string) (string, error) {
	idx := strings.Index(response, `"`+key+`"`)
	if idx == -1 {
		return "", fmt.Errorf("%w: key %q not present", ErrNoJSONFound, key)
	}

	start := strings.Index(response[idx:], "[")
	if start == -1 {
		return "", fmt.Errorf("%w: key %q has no array value", ErrNoJSONFound, key)
	}
	start += idx

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				candidate := response[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, nil
				}
				sanitized := SanitizeEscapes(candidate)
				if json.Valid([]byte(sanitized)) {
					return sanitized, nil
				}
				return "", fmt.Errorf("%w: located array is not valid JSON", ErrNoJSONFound)
			}
		}
	}

	return "", fmt.Errorf("%w: unbalanced array for key %q", ErrNoJSONFound, key)
}

// SanitizeEscapes repairs invalid backslash escape sequences that LLMs emit
// when document text contains mathematical notation, e.g. `\underline` or
// `\frac`. Invalid escapes are doubled so they survive JSON decoding as
// literal backslashes; valid escapes are left untouched.
func SanitizeEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		if i+1 >= len(s) {
			b.WriteString(`\\`)
			break
		}

		next := s[i+1]
		switch next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't':
			b.WriteByte(c)
			b.WriteByte(next)
			i++
		case 'u':
			// \u must be followed by exactly 4 hex digits
			if i+5 < len(s) && isHexDigits(s[i+2:i+6]) {
				b.WriteString(s[i : i+6])
				i += 5
			} else {
				b.WriteString(`\\u`)
				i++
			}
		default:
			b.WriteString(`\\`)
			b.WriteByte(next)
			i++
		}
	}

	return b.String()
}

func isHexDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}

var fenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.+?)\\s*```")

// stripMarkdownFences removes markdown code block formatting
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fenceRegex.FindStringSubmatch(s); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSuffix(s, "```")
	}

	return strings.TrimSpace(s)
}

// extractJSONByBrackets uses bracket matching to find the first complete
// JSON object or array embedded in mixed content
func extractJSONByBrackets(s string) string {
	startObj := strings.Index(s, "{")
	startArr := strings.Index(s, "[")

	var start int
	var openChar, closeChar byte

	switch {
	case startObj == -1 && startArr == -1:
		return ""
	case startArr == -1 || (startObj != -1 && startObj < startArr):
		start = startObj
		openChar, closeChar = '{', '}'
	default:
		start = startArr
		openChar, closeChar = '[', ']'
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		if c == openChar {
			depth++
		} else if c == closeChar {
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
