package ocr

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hiagors92/open-filter-challange/types"
)

// Text is one recognised text run.
type Text struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine recognises text in one frame.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, frame []byte, languages []string) ([]Text, error)
}

// EngineFactory creates an engine for the given minimum text length.
type EngineFactory func(minLength int) Engine

var engines = map[string]EngineFactory{
	"easyocr": func(minLength int) Engine {
		return &scanEngine{name: "easyocr", minLength: minLength, keep: isPhraseRune}
	},
	"tesseract": func(minLength int) Engine {
		return &scanEngine{name: "tesseract", minLength: minLength, keep: isWordRune, words: true}
	},
}

// Engines returns the supported engine names, sorted.
func Engines() []string {
	names := make([]string, 0, len(engines))
	for n := range engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewEngine returns the named engine. An unknown name is a configuration
// error.
func NewEngine(name string, minLength int) (Engine, error) {
	factory, ok := engines[strings.ToLower(name)]
	if !ok {
		return nil, types.ConfigError("unsupported ocr_engine %q (supported: %s)", name, strings.Join(Engines(), ", "))
	}
	return factory(minLength), nil
}

// scanEngine extracts runs of printable characters from the raw frame. It
// stands in for a model-backed recogniser: frames that embed captions as
// text yield those captions.
type scanEngine struct {
	name      string
	minLength int
	keep      func(rune) bool
	// words splits runs on spaces.
	words bool
}

func (e *scanEngine) Name() string { return e.name }

func (e *scanEngine) Recognize(ctx context.Context, frame []byte, _ []string) ([]Text, error) {
	var (
		out []Text
		run strings.Builder
	)
	flush := func() {
		s := strings.TrimSpace(run.String())
		run.Reset()
		if len(s) < e.minLength {
			return
		}
		out = append(out, Text{Text: s, Confidence: confidence(s)})
	}

	for i, b := range frame {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r := rune(b)
		if b < utf8.RuneSelf && e.keep(r) && !(e.words && r == ' ') {
			run.WriteByte(b)
			continue
		}
		flush()
	}
	flush()
	return out, nil
}

func isPhraseRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || strings.ContainsRune(".,:;!?-'\"()", r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// confidence scores a run by its share of letters and digits.
func confidence(s string) float64 {
	if s == "" {
		return 0
	}
	alnum := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(len(s))
}
