// Package question loads the question bank consumed by the session engine.
//
// The bank is a flat text file with one blank-line-separated block per
// question: the prompt on the first line, one option per following line
// ("A) ..." through "D) ..."), and a final "ANSWER: <label>" line.
package question

import (
	"fmt"
	"os"
	"strings"

	"github.com/quizcast/quizcast/internal/domain"
)

const answerPrefix = "ANSWER:"

// LoadError identifies the malformed record that made the bank unusable.
// Loading is all-or-nothing: a bank with any bad record is not served.
type LoadError struct {
	File   string
	Record int
	Reason string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("question bank %s: record %d: %s", e.File, e.Record, e.Reason)
}

// Bank is an ordered, read-only set of questions.
type Bank struct {
	questions []domain.Question
}

// Load reads and validates a question bank file.
func Load(path string) (*Bank, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("question bank %s: %w", path, err)
	}

	blocks := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n\n")

	b := &Bank{}
	record := 0
	for _, block := range blocks {
		if strings.TrimSpace(block) == "" {
			continue
		}
		record++

		q, reason := parseRecord(block)
		if reason != "" {
			return nil, &LoadError{File: path, Record: record, Reason: reason}
		}

		q.Index = len(b.questions)
		b.questions = append(b.questions, q)
	}

	if len(b.questions) == 0 {
		return nil, fmt.Errorf("question bank %s: no questions", path)
	}

	return b, nil
}

func parseRecord(block string) (domain.Question, string) {
	var q domain.Question

	lines := strings.Split(strings.TrimSpace(block), "\n")
	q.Prompt = strings.TrimSpace(lines[0])
	if q.Prompt == "" {
		return q, "empty prompt"
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, answerPrefix); ok {
			if q.Answer != "" {
				return q, "multiple ANSWER lines"
			}
			q.Answer = strings.ToUpper(strings.TrimSpace(rest))
			continue
		}

		label, text, reason := parseOption(line)
		if reason != "" {
			return q, reason
		}
		for _, opt := range q.Options {
			if opt.Label == label {
				return q, fmt.Sprintf("duplicate option label %q", label)
			}
		}
		q.Options = append(q.Options, domain.Option{Label: label, Text: text})
	}

	if len(q.Options) < 2 {
		return q, "fewer than two options"
	}
	if q.Answer == "" {
		return q, "missing ANSWER line"
	}

	for _, opt := range q.Options {
		if opt.Label == q.Answer {
			return q, ""
		}
	}

	return q, fmt.Sprintf("answer %q is not an option label", q.Answer)
}

// parseOption splits a line like "A) Paris" or "B. London" into label and text.
func parseOption(line string) (label, text, reason string) {
	if len(line) < 2 {
		return "", "", fmt.Sprintf("malformed option line %q", line)
	}

	label = strings.ToUpper(line[:1])
	if label < "A" || label > "D" {
		return "", "", fmt.Sprintf("option label %q is not A-D", line[:1])
	}

	rest := line[1:]
	if rest[0] != ')' && rest[0] != '.' {
		return "", "", fmt.Sprintf("malformed option line %q", line)
	}

	text = strings.TrimSpace(rest[1:])
	if text == "" {
		return "", "", fmt.Sprintf("option %s has no text", label)
	}

	return label, text, ""
}

// Len returns the number of questions in the bank.
func (b *Bank) Len() int {
	return len(b.questions)
}

// Question returns the question at the given ordinal index.
func (b *Bank) Question(i int) (domain.Question, bool) {
	if i < 0 || i >= len(b.questions) {
		return domain.Question{}, false
	}

	return b.questions[i], true
}
