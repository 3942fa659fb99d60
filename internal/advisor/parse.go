package advisor

import (
	"encoding/json"
	"strings"

	"github.com/kalambet/jurist/internal/storage"
)

// DefaultConfidence is assigned when the provider does not report one.
const DefaultConfidence = 0.7

// Result is the provider's reply, either a well-formed answer object or raw
// text that could not be read as one.
type Result interface {
	isResult()
}

// Structured is a reply that decoded into an answer object.
type Structured struct {
	Answer storage.Answer
}

// Unstructured is a reply kept verbatim.
type Unstructured struct {
	Raw string
}

func (Structured) isResult()   {}
func (Unstructured) isResult() {}

type wireAnswer struct {
	Text            *string  `json:"text"`
	CitedLaws       []string `json:"cited_laws"`
	CitedCases      []string `json:"cited_cases"`
	Recommendations []string `json:"recommendations"`
	Confidence      *float64 `json:"confidence"`
}

// Parse classifies a raw completion. A JSON object (optionally inside a
// markdown code fence) with a string "text" field is Structured; anything
// else is Unstructured.
func Parse(raw string) Result {
	body := stripFence(raw)
	var w wireAnswer
	if err := json.Unmarshal([]byte(body), &w); err != nil || w.Text == nil {
		return Unstructured{Raw: raw}
	}

	confidence := DefaultConfidence
	if w.Confidence != nil {
		confidence = min(max(*w.Confidence, 0), 1)
	}
	return Structured{Answer: storage.Answer{
		Text:            *w.Text,
		CitedLaws:       w.CitedLaws,
		CitedCases:      w.CitedCases,
		Recommendations: w.Recommendations,
		Confidence:      confidence,
	}}
}

// ToAnswer converts any Result into a usable Answer. Unstructured text
// becomes the answer body with empty citations and DefaultConfidence.
func ToAnswer(r Result) storage.Answer {
	var a storage.Answer
	switch v := r.(type) {
	case Structured:
		a = v.Answer
	case Unstructured:
		a = storage.Answer{Text: v.Raw, Confidence: DefaultConfidence}
	}
	if a.CitedLaws == nil {
		a.CitedLaws = []string{}
	}
	if a.CitedCases == nil {
		a.CitedCases = []string{}
	}
	if a.Recommendations == nil {
		a.Recommendations = []string{}
	}
	return a
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
