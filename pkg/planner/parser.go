package planner

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Parser coerces raw LLM completion text into a plan object. Models rarely
// emit clean JSON: the payload arrives wrapped in markdown fences, prefixed
// with prose, or with trailing commas. Parser applies a fixed sequence of
// increasingly aggressive recovery strategies and stops at the first one
// that yields a JSON object (or an array, which is wrapped as a bare step
// list).
type Parser struct {
	maxRetries int
	logErrors  bool
}

// ErrEmptyInput is returned when the input text is empty or whitespace-only.
// No recovery strategies are attempted in that case.
var ErrEmptyInput = errors.New("input is not a valid string")

type Option func(*Parser)

// WithMaxRetries bounds how many strategies from the recovery table are
// tried before giving up. Values below 1 are clamped to 1.
func WithMaxRetries(n int) Option {
	return func(p *Parser) {
		if n < 1 {
			n = 1
		}
		p.maxRetries = n
	}
}

// WithLogErrors controls whether failed strategies are logged. Parse results
// are unaffected.
func WithLogErrors(enabled bool) Option {
	return func(p *Parser) {
		p.logErrors = enabled
	}
}

func NewParser(opts ...Option) *Parser {
	p := &Parser{
		maxRetries: 3,
		logErrors:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse is a convenience wrapper around a default-configured Parser.
func Parse(text string) (map[string]any, error) {
	return NewParser().Parse(text)
}

var (
	fenceRe         = regexp.MustCompile("```(?:json)?\\s*")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)

	// Balanced to one nesting level only. Deeper plans must survive an
	// earlier strategy; see extractFirstJSONSpan.
	objectSpanRe = regexp.MustCompile(`\{(?:[^{}]|\{[^{}]*\})*\}`)
	arraySpanRe  = regexp.MustCompile(`\[(?:[^\[\]]|\[[^\[\]]*\])*\]`)
)

type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeRecoverable
	outcomeFatal
)

type attemptOutcome struct {
	kind   outcomeKind
	parsed map[string]any
	err    error
}

type strategy struct {
	name string
	// transform produces the candidate text to decode. It reports false
	// when it did not change anything, in which case decoding is skipped
	// because the previous strategy already tried the same bytes.
	transform func(string) (string, bool)
}

func recoveryStrategies() []strategy {
	return []strategy{
		{
			name: "direct",
			transform: func(text string) (string, bool) {
				return text, true
			},
		},
		{
			name:      "strip_markdown",
			transform: stripMarkdownFences,
		},
		{
			name: "trailing_commas",
			transform: func(text string) (string, bool) {
				stripped, _ := stripMarkdownFences(text)
				repaired := trailingCommaRe.ReplaceAllString(stripped, "$1")
				return repaired, repaired != text
			},
		},
		{
			name: "regex_extract",
			transform: func(text string) (string, bool) {
				return extractFirstJSONSpan(text)
			},
		},
	}
}

// Parse runs the recovery strategies in order and returns the first plan
// object obtained. The returned map and error are mutually exclusive.
func (p *Parser) Parse(text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	strategies := recoveryStrategies()
	attempts := p.maxRetries + 1
	if attempts > len(strategies) {
		attempts = len(strategies)
	}

	var lastErr error
	for _, strat := range strategies[:attempts] {
		candidate, changed := strat.transform(text)
		if !changed && lastErr != nil {
			continue
		}

		outcome := decodeCandidate(candidate)
		switch outcome.kind {
		case outcomeSuccess:
			return outcome.parsed, nil
		case outcomeRecoverable:
			lastErr = outcome.err
			if p.logErrors {
				log.Debug().
					Str("strategy", strat.name).
					Err(outcome.err).
					Msg("plan parse strategy failed")
			}
		case outcomeFatal:
			if p.logErrors {
				log.Debug().
					Str("strategy", strat.name).
					Err(outcome.err).
					Msg("plan parse aborted")
			}
			return nil, outcome.err
		}
	}

	if p.logErrors {
		log.Error().
			Int("attempts", attempts).
			Err(lastErr).
			Str("text", truncate(text, 1000)).
			Msg("failed to parse plan JSON")
	}
	return nil, errors.Wrapf(lastErr, "failed to parse JSON after %d attempts", attempts)
}

// decodeCandidate decodes one candidate string and classifies the result.
// JSON syntax problems are recoverable (the next strategy gets a shot);
// anything else aborts the whole parse.
func decodeCandidate(candidate string) attemptOutcome {
	var value any
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return attemptOutcome{kind: outcomeRecoverable, err: err}
		}
		return attemptOutcome{kind: outcomeFatal, err: errors.Wrap(err, "decode plan candidate")}
	}

	switch v := value.(type) {
	case map[string]any:
		return attemptOutcome{kind: outcomeSuccess, parsed: v}
	case []any:
		// Plans expressed as a bare step array are accepted and wrapped.
		return attemptOutcome{kind: outcomeSuccess, parsed: map[string]any{"steps": v}}
	default:
		return attemptOutcome{
			kind: outcomeRecoverable,
			err:  errors.Errorf("top-level JSON is %T, not an object or array", v),
		}
	}
}

func stripMarkdownFences(text string) (string, bool) {
	stripped := fenceRe.ReplaceAllString(text, "")
	return stripped, stripped != text
}

// extractFirstJSONSpan pulls the first {...} span out of surrounding prose,
// falling back to the first [...] span. The span regexes only balance one
// nesting level; commas inside string literals are not protected either.
func extractFirstJSONSpan(text string) (string, bool) {
	if span := objectSpanRe.FindString(text); span != "" {
		return span, true
	}
	if span := arraySpanRe.FindString(text); span != "" {
		return span, true
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
