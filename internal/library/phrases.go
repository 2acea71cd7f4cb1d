package library

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Phrase kinds within a section.
const (
	PhraseWeak    = "rep_weak"
	PhraseGood    = "rep_good"
	PhraseMissing = "rep_missing"
)

// DefaultLanguage is used when a caller does not ask for one.
const DefaultLanguage = "en"

// Phrases maps language -> section -> kind -> template.
type Phrases map[string]map[string]map[string]string

// ParsePhrases reads phrases.yaml. Entries that are not string templates at
// depth three are ignored.
func ParsePhrases(data []byte) (Phrases, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse phrases: %w", err)
	}
	out := make(Phrases, len(doc))
	for lang, v := range doc {
		sections, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for section, sv := range sections {
			kinds, ok := sv.(map[string]any)
			if !ok {
				continue
			}
			for kind, tv := range kinds {
				tmpl, ok := tv.(string)
				if !ok {
					continue
				}
				if out[lang] == nil {
					out[lang] = make(map[string]map[string]string)
				}
				if out[lang][section] == nil {
					out[lang][section] = make(map[string]string)
				}
				out[lang][section][kind] = tmpl
			}
		}
	}
	return out, nil
}

// Lookup returns the template for lang/section/kind, falling back to the
// default language.
func (p Phrases) Lookup(lang, section, kind string) (string, bool) {
	if t, ok := p[lang][section][kind]; ok {
		return t, true
	}
	if lang != DefaultLanguage {
		if t, ok := p[DefaultLanguage][section][kind]; ok {
			return t, true
		}
	}
	return "", false
}
