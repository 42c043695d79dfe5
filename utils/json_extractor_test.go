package utils

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractJSONDirect(t *testing.T) {
	input := `{"questions": [{"question_number": 1}]}`

	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != input {
		t.Errorf("Expected input unchanged, got %q", out)
	}
}

func TestExtractJSONStripsMarkdownFences(t *testing.T) {
	input := "```json\n{\"a\": 1}\n```"

	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"a": 1}` {
		t.Errorf("Expected fences removed, got %q", out)
	}
}

func TestExtractJSONRepairsInvalidEscapes(t *testing.T) {
	// LLMs emit LaTeX commands like \underline unescaped inside strings.
	input := "{\"question_text\": \"Find \\underline{x} in the figure\"}"
	if json.Valid([]byte(input)) {
		t.Fatal("Fixture should be invalid JSON before repair")
	}

	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Repaired JSON does not unmarshal: %v", err)
	}
	if decoded["question_text"] != `Find \underline{x} in the figure` {
		t.Errorf("Backslash not preserved as literal: %q", decoded["question_text"])
	}
}

func TestExtractJSONBracketScan(t *testing.T) {
	input := `The extracted data is: {"a": [1, 2, {"b": "c"}]} hope that helps!`

	out, err := ExtractJSON(input)
	if err != nil {
		t.Fatalf("ExtractJSON failed: %v", err)
	}
	if out != `{"a": [1, 2, {"b": "c"}]}` {
		t.Errorf("Expected embedded object, got %q", out)
	}
}

func TestExtractJSONNoJSON(t *testing.T) {
	for _, input := range []string{"", "there is no json here", "{broken"} {
		_, err := ExtractJSON(input)
		if !errors.Is(err, ErrNoJSONFound) {
			t.Errorf("Input %q: expected ErrNoJSONFound, got %v", input, err)
		}
	}
}

func TestSanitizeEscapesPreservesValid(t *testing.T) {
	input := `{"a": "line\nbreak \"quoted\" \u0041 \\ \t"}`

	out := SanitizeEscapes(input)

	if out != input {
		t.Errorf("Valid escapes must pass through untouched:\n in: %q\nout: %q", input, out)
	}
}

func TestSanitizeEscapesDoublesInvalid(t *testing.T) {
	cases := map[string]string{
		`\underline`: `\\underline`,
		`\frac{1}`:   `\\frac{1}`,
		`\uZZZZ`:     `\\uZZZZ`,
		`tail\`:      `tail\\`,
	}
	for in, want := range cases {
		if got := SanitizeEscapes(in); got != want {
			t.Errorf("SanitizeEscapes(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestExtractJSONTo(t *testing.T) {
	var target struct {
		Count int `json:"count"`
	}
	if err := ExtractJSONTo("```json\n{\"count\": 7}\n```", &target); err != nil {
		t.Fatalf("ExtractJSONTo failed: %v", err)
	}
	if target.Count != 7 {
		t.Errorf("Expected count 7, got %d", target.Count)
	}
}

func TestExtractKeyedArrayFromBrokenObject(t *testing.T) {
	// The surrounding object is truncated but the array itself is complete.
	input := `{"questions": [{"question_number": 1, "question_text": "t"}], "metadata": {"truncated`

	out, err := ExtractKeyedArray(input, "questions")
	if err != nil {
		t.Fatalf("ExtractKeyedArray failed: %v", err)
	}

	var questions []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &questions); err != nil {
		t.Fatalf("Located array does not unmarshal: %v", err)
	}
	if len(questions) != 1 {
		t.Errorf("Expected 1 element, got %d", len(questions))
	}
}

func TestExtractKeyedArraySanitizesEscapes(t *testing.T) {
	input := "{\"questions\": [{\"question_text\": \"solve \\alpha\"}]} trailing garbage {"

	out, err := ExtractKeyedArray(input, "questions")
	if err != nil {
		t.Fatalf("ExtractKeyedArray failed: %v", err)
	}
	if !json.Valid([]byte(out)) {
		t.Errorf("Expected valid JSON after sanitizing, got %q", out)
	}
}

func TestExtractKeyedArrayMissingKey(t *testing.T) {
	_, err := ExtractKeyedArray(`{"answers": []}`, "questions")
	if !errors.Is(err, ErrNoJSONFound) {
		t.Errorf("Expected ErrNoJSONFound, got %v", err)
	}
}

func TestExtractKeyedArrayIgnoresBracketsInStrings(t *testing.T) {
	input := `{"questions": [{"question_text": "array notation a[1] and ] bracket"}]}`

	out, err := ExtractKeyedArray(input, "questions")
	if err != nil {
		t.Fatalf("ExtractKeyedArray failed: %v", err)
	}

	var questions []map[string]string
	if err := json.Unmarshal([]byte(out), &questions); err != nil {
		t.Fatalf("Located array does not unmarshal: %v", err)
	}
	if questions[0]["question_text"] != "array notation a[1] and ] bracket" {
		t.Errorf("String content mangled: %q", questions[0]["question_text"])
	}
}
