package keywords

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/llm"
	"github.com/TobiSchelling/ArxivHarvester/internal/metrics"
)

// MaxKeywords is the most terms Generate returns.
const MaxKeywords = 5

// Defaults is returned whenever no usable keywords come back.
var Defaults = []string{
	"artificial intelligence",
	"machine learning",
	"control",
	"systems",
	"optimization",
}

const promptTemplate = `Analyze the following text and return EXACTLY a JSON list of 5 keywords.
- ONLY return a JSON list of strings, no explanations, no "keywords" key.
- Example of valid output: ["artificial intelligence", "machine learning", "optimal control", "adversarial attacks", "optimization"]

Text:
%s
`

// Source tells how a keyword list was obtained.
type Source string

const (
	SourceJSON    Source = "json"
	SourceSplit   Source = "split"
	SourceDefault Source = "default"
)

// Generator asks a text-generation provider for descriptive terms.
type Generator struct {
	provider  llm.Provider
	timeout   time.Duration
	maxTokens int
	log       *zap.Logger
}

// NewGenerator creates a Generator. A nil provider is allowed and always
// yields the defaults.
func NewGenerator(provider llm.Provider, timeout time.Duration, maxTokens int, log *zap.Logger) *Generator {
	if maxTokens <= 0 {
		maxTokens = 128
	}
	return &Generator{provider: provider, timeout: timeout, maxTokens: maxTokens, log: log.Named("keywords")}
}

// Generate never fails: provider errors, timeouts and unusable responses all
// produce Defaults.
func (g *Generator) Generate(ctx context.Context, digest string) []string {
	if g.provider == nil {
		metrics.IncreaseKeywordSourceMetric(string(SourceDefault))
		return defaults()
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	raw, err := g.provider.Generate(ctx, fmt.Sprintf(promptTemplate, digest), g.maxTokens)
	if err != nil {
		g.log.Warn("keyword generation failed, using defaults", zap.Error(err))
		metrics.IncreaseKeywordSourceMetric(string(SourceDefault))
		return defaults()
	}

	kws, src := Parse(raw)
	if src != SourceJSON {
		g.log.Debug("keyword response was not a JSON list", zap.String("source", string(src)), zap.String("raw", raw))
	}
	metrics.IncreaseKeywordSourceMetric(string(src))
	return kws
}

// Parse applies the response policy: a JSON array of strings (first five),
// otherwise comma/newline separated candidates longer than two characters,
// otherwise Defaults.
func Parse(raw string) ([]string, Source) {
	raw = strings.TrimSpace(raw)

	if items, ok := llm.ParseJSONArray(raw); ok {
		var out []string
		for _, it := range items {
			if it = strings.TrimSpace(it); it != "" {
				out = append(out, it)
			}
			if len(out) == MaxKeywords {
				break
			}
		}
		if len(out) > 0 {
			return out, SourceJSON
		}
	}

	var out []string
	for _, c := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' }) {
		c = strings.TrimSpace(c)
		if utf8.RuneCountInString(c) <= 2 {
			continue
		}
		out = append(out, c)
		if len(out) == MaxKeywords {
			break
		}
	}
	if len(out) > 0 {
		return out, SourceSplit
	}

	return defaults(), SourceDefault
}

func defaults() []string {
	return append([]string(nil), Defaults...)
}
