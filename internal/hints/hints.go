package hints

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/formsense/formsense/internal/library"
	"github.com/formsense/formsense/internal/scoring"
	"github.com/formsense/formsense/pkg/types"
)

// Score bands.
const (
	WeakBelow   = 0.60
	PraiseAbove = 0.85
	DefaultMax  = 5
)

// Ranking priorities; lower sorts first.
const (
	missingPriority = 0.05
	weakPriority    = 0.1
)

// Kind classifies a hint.
type Kind string

const (
	KindMissing Kind = "missing"
	KindWeak    Kind = "weak"
	KindPraise  Kind = "praise"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

var fallbacks = map[Kind]string{
	KindWeak:    "Work on your {{criterion}} ({{score_pct}}%)",
	KindPraise:  "Good {{criterion}}",
	KindMissing: "Your {{criterion}} could not be measured, check the camera framing",
}

// Hint is one ranked phrase.
type Hint struct {
	Criterion string  `json:"criterion"`
	Kind      Kind    `json:"kind"`
	Text      string  `json:"text"`
	Priority  float64 `json:"-"`
}

// Input is everything Rank needs for one frame.
type Input struct {
	Exercise     *library.Exercise
	Outcome      scoring.Outcome
	Measurements types.Measurements
	Phrases      library.Phrases
	Language     string
	// Max truncates the result; zero or less uses DefaultMax.
	Max int
}

// Generate returns the ranked hint texts.
func Generate(in Input) []string {
	hs := Rank(in)
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Text
	}
	return out
}

// Rank orders improvement hints first (missing criteria, then weakest
// scores) followed by praise for the best criteria. Duplicate texts are
// dropped.
func Rank(in Input) []Hint {
	if in.Exercise == nil {
		return nil
	}
	lang := in.Language
	if lang == "" {
		lang = library.DefaultLanguage
	}
	limit := in.Max
	if limit <= 0 {
		limit = DefaultMax
	}

	var fix, praise []Hint
	for _, cs := range in.Outcome.Criteria {
		switch {
		case !cs.Available:
			fix = append(fix, Hint{Criterion: cs.Name, Kind: KindMissing, Priority: missingPriority})
		case !cs.Scored:
		case cs.Score < WeakBelow:
			fix = append(fix, Hint{Criterion: cs.Name, Kind: KindWeak, Priority: weakPriority + cs.Score})
		case cs.Score >= PraiseAbove:
			praise = append(praise, Hint{Criterion: cs.Name, Kind: KindPraise, Priority: cs.Score})
		}
	}
	sort.SliceStable(fix, func(i, j int) bool { return fix[i].Priority < fix[j].Priority })
	sort.SliceStable(praise, func(i, j int) bool { return praise[i].Priority > praise[j].Priority })

	seen := make(map[string]bool)
	out := make([]Hint, 0, limit)
	for _, h := range append(fix, praise...) {
		if len(out) == limit {
			break
		}
		score, _ := in.Outcome.ScoreOf(h.Criterion)
		h.Text = render(in, lang, h, score)
		if h.Text == "" || seen[h.Text] {
			continue
		}
		seen[h.Text] = true
		out = append(out, h)
	}
	return out
}

func phraseKind(k Kind) string {
	switch k {
	case KindMissing:
		return library.PhraseMissing
	case KindWeak:
		return library.PhraseWeak
	default:
		return library.PhraseGood
	}
}

// render fills the phrase for h. A phrase with a placeholder that cannot be
// resolved falls back to the built-in English text.
func render(in Input, lang string, h Hint, score float64) string {
	section := h.Criterion
	if c, ok := in.Exercise.Criterion(h.Criterion); ok && c.HintSection != "" {
		section = c.HintSection
	}
	values := map[string]string{
		"criterion": strings.ReplaceAll(h.Criterion, "_", " "),
		"score_pct": strconv.Itoa(int(math.Round(score * 100))),
	}
	for name, v := range in.Exercise.Thresholds[section] {
		values["th."+name] = format(name, v)
	}

	if tmpl, ok := in.Phrases.Lookup(lang, section, phraseKind(h.Kind)); ok {
		if text, ok := fill(tmpl, values, in.Measurements); ok {
			return text
		}
	}
	text, _ := fill(fallbacks[h.Kind], values, in.Measurements)
	return text
}

func fill(tmpl string, values map[string]string, m types.Measurements) (string, bool) {
	complete := true
	text := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := placeholder.FindStringSubmatch(match)[1]
		if v, ok := values[key]; ok {
			return v
		}
		if v, ok := m[key]; ok && v.Finite() {
			if f, ok := v.Float(); ok && v.IsNumber() {
				return format(key, f)
			}
			return v.String()
		}
		complete = false
		return match
	})
	return text, complete
}

// format renders angles as whole degrees and everything else with two
// decimals.
func format(key string, v float64) string {
	if strings.HasSuffix(key, "_deg") || strings.HasSuffix(key, "_px") || v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
