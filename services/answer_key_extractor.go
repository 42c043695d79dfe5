package services

import (
	"log"
	"regexp"
	"strconv"
	"strings"
)

const (
	// answerKeyTailWindow is the fallback search window when no answer-key
	// header is found. Keys are almost always near the end of the booklet.
	answerKeyTailWindow = 80000

	// maxAnswerQuestionNumber bounds accepted question numbers; anything
	// outside [1, maxAnswerQuestionNumber] is OCR noise
	maxAnswerQuestionNumber = 300

	// tableLineThreshold is the number of pipe-delimited lines above which
	// the region is treated as a markdown-style table first
	tableLineThreshold = 5
)

// codedAnswerLetters maps the numeric option codes printed by some answer
// keys onto option letters. The code sequence starts at 2, matching the
// source booklets this parser was built against.
var codedAnswerLetters = map[string]string{
	"2": "A",
	"3": "B",
	"4": "C",
	"5": "D",
}

// answerKeyHeaders are section headers that mark where the answer key
// begins, including the Hindi variant seen in bilingual booklets.
var answerKeyHeaders = []string{
	"answer key",
	"answer-key",
	"answers key",
	"answer sheet",
	"correct answers",
	"hints & solutions",
	"उत्तर कुंजी",
}

// answerInterpreter turns a (number, value) capture into a map entry.
// Returning ok=false discards the match.
type answerInterpreter func(number, value string) (n int, answer string, ok bool)

// answerPattern pairs a regex with the interpretation of its captures.
// Pattern family determines interpretation: the same literal digits mean a
// letter code in the coded family and a verbatim value in the integer family.
type answerPattern struct {
	name      string
	re        *regexp.Regexp
	interpret answerInterpreter
}

// answerKeyPatterns is the ordered strategy table. Earlier patterns take
// precedence: a later pattern's match for a number already present is
// discarded, so noisy fallbacks cannot overwrite confident matches.
var answerKeyPatterns = []answerPattern{
	// Lettered MCQ family: N.(A), N: A, Q.N: A, Ans N: A, tables, N=A, bare N A
	{"dot-paren-letter", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[.)][ \t]*\(([A-Da-d])\)`), interpretLetter},
	{"colon-letter", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[:.][ \t]*([A-Da-d])\b`), interpretLetter},
	{"q-prefix-letter", regexp.MustCompile(`(?mi)^[ \t]*Q\.?[ \t]*(\d{1,3})[ \t]*[:.)-][ \t]*\(?([A-Da-d])\)?`), interpretLetter},
	{"ans-prefix-letter", regexp.MustCompile(`(?i)\bAns(?:wer)?\.?[ \t]*(\d{1,3})[ \t]*[:.=-]?[ \t]*\(?([A-Da-d])\)?\b`), interpretLetter},
	{"whitespace-table-letter", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]+\(([A-Da-d])\)[ \t]*$`), interpretLetter},
	{"equals-letter", regexp.MustCompile(`(?m)\b(\d{1,3})[ \t]*=[ \t]*([A-Da-d])\b`), interpretLetter},
	{"bare-letter", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]+([A-D])\b`), interpretLetter},

	// Numeric-coded MCQ family: digit codes stand in for option letters
	{"dot-paren-coded", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[.)][ \t]*\(([2-5])\)`), interpretCoded},
	{"colon-coded", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[:.][ \t]*([2-5])[ \t]*$`), interpretCoded},

	// Integer-answer family: multi-digit values stored verbatim
	{"dot-paren-integer", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[.)][ \t]*\((\d{2,6})\)`), interpretInteger},
	{"colon-integer", regexp.MustCompile(`(?m)^[ \t]*(\d{1,3})[ \t]*[:.][ \t]*(\d{2,6})[ \t]*$`), interpretInteger},
}

// tablePatterns run first when the region looks like a markdown table:
// a primary N. (value) row pattern and a simple two-column pipe fallback.
var tablePatterns = []answerPattern{
	{"table-primary", regexp.MustCompile(`(\d{1,3})[ \t]*[.)][ \t]*\(([A-Da-d0-9]+)\)`), interpretTableValue},
	{"table-pipe", regexp.MustCompile(`(?m)^[ \t]*\|?[ \t]*(\d{1,3})[ \t]*\|[ \t]*\(?([A-Da-d]|\d{1,6})\)?[ \t]*\|?[ \t]*$`), interpretTableValue},
}

// ExtractAnswerKey parses the authoritative answer key out of the full
// document text, returning a sparse map from question number to answer
// value (a letter A-D or a verbatim integer string).
//
// This never fails: an empty map is a valid, if degenerate, result.
func ExtractAnswerKey(text string) map[int]string {
	answers := make(map[int]string)
	if text == "" {
		return answers
	}

	region := locateAnswerKeyRegion(text)

	if countPipeLines(region) > tableLineThreshold {
		applyAnswerPatterns(region, tablePatterns, answers)
	}

	// The regex battery always runs, even after table parsing; existing
	// entries are never overwritten (first successful match per number wins).
	applyAnswerPatterns(region, answerKeyPatterns, answers)

	log.Printf("AnswerKeyExtractor: found %d answers in %d char region", len(answers), len(region))
	return answers
}

// locateAnswerKeyRegion narrows the search to the text following an
// answer-key header, or the trailing window when no header is present.
func locateAnswerKeyRegion(text string) string {
	lower := strings.ToLower(text)
	for _, header := range answerKeyHeaders {
		if idx := strings.LastIndex(lower, header); idx != -1 && idx < len(text) {
			return text[idx:]
		}
	}

	if len(text) > answerKeyTailWindow {
		return text[len(text)-answerKeyTailWindow:]
	}
	return text
}

func countPipeLines(region string) int {
	count := 0
	for _, line := range strings.Split(region, "\n") {
		if strings.Contains(line, "|") {
			count++
		}
	}
	return count
}

func applyAnswerPatterns(region string, patterns []answerPattern, answers map[int]string) {
	for _, p := range patterns {
		matches := p.re.FindAllStringSubmatch(region, -1)
		for _, m := range matches {
			n, answer, ok := p.interpret(m[1], m[2])
			if !ok {
				continue
			}
			if _, exists := answers[n]; exists {
				continue
			}
			answers[n] = answer
		}
	}
}

func parseQuestionNumber(number string) (int, bool) {
	n, err := strconv.Atoi(number)
	if err != nil || n < 1 || n > maxAnswerQuestionNumber {
		return 0, false
	}
	return n, true
}

func interpretLetter(number, value string) (int, string, bool) {
	n, ok := parseQuestionNumber(number)
	if !ok {
		return 0, "", false
	}
	return n, strings.ToUpper(value), true
}

func interpretCoded(number, value string) (int, string, bool) {
	n, ok := parseQuestionNumber(number)
	if !ok {
		return 0, "", false
	}
	letter, ok := codedAnswerLetters[value]
	if !ok {
		return 0, "", false
	}
	return n, letter, true
}

func interpretInteger(number, value string) (int, string, bool) {
	n, ok := parseQuestionNumber(number)
	if !ok {
		return 0, "", false
	}
	return n, value, true
}

// interpretTableValue handles mixed table cells: letters map directly,
// single digits go through the coded-letter map, multi-digit values are
// kept verbatim as integer answers.
func interpretTableValue(number, value string) (int, string, bool) {
	n, ok := parseQuestionNumber(number)
	if !ok {
		return 0, "", false
	}

	if len(value) == 1 && value[0] >= 'A' && value[0] <= 'd' && !isDigit(value[0]) {
		return n, strings.ToUpper(value), true
	}
	if len(value) == 1 {
		letter, ok := codedAnswerLetters[value]
		if !ok {
			return 0, "", false
		}
		return n, letter, true
	}
	if isAllDigits(value) {
		return n, value, true
	}
	return 0, "", false
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAllDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
