package library

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/formsense/formsense/internal/normalize"
)

// File layout of a library directory.
const (
	AliasesFile  = "aliases.yaml"
	PhrasesFile  = "phrases.yaml"
	ExercisesDir = "exercises"
)

// versionLen is the number of hex characters kept from the content hash.
const versionLen = 12

// Library is an immutable, fully resolved exercise library.
type Library struct {
	// Version identifies the exact file contents the library was built from.
	Version string

	Aliases *normalize.Aliases
	Phrases Phrases

	// Warnings lists non-fatal findings such as duplicate aliases.
	Warnings []string

	byID map[string]*Exercise
	ids  []string
}

// Exercise returns the exercise with the given id.
func (l *Library) Exercise(id string) (*Exercise, bool) {
	ex, ok := l.byID[id]
	return ex, ok
}

// Exercises returns every exercise ordered by id.
func (l *Library) Exercises() []*Exercise {
	out := make([]*Exercise, 0, len(l.ids))
	for _, id := range l.ids {
		out = append(out, l.byID[id])
	}
	return out
}

// Selectable returns the exercises the classifier may choose, ordered by id.
func (l *Library) Selectable() []*Exercise {
	var out []*Exercise
	for _, id := range l.ids {
		if ex := l.byID[id]; ex.Selectable {
			out = append(out, ex)
		}
	}
	return out
}

// Load reads the library rooted at dir.
func Load(dir string) (*Library, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads a library from fsys. Paths are relative to the library root.
func LoadFS(fsys fs.FS) (*Library, error) {
	h := sha256.New()
	hashFile := func(name string, data []byte) {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}

	lib := &Library{byID: make(map[string]*Exercise)}

	aliasData, err := fs.ReadFile(fsys, AliasesFile)
	if err != nil {
		return nil, fmt.Errorf("library: read %s: %w", AliasesFile, err)
	}
	hashFile(AliasesFile, aliasData)
	lib.Aliases, err = normalize.ParseAliases(aliasData)
	if err != nil {
		return nil, fmt.Errorf("library: %w", err)
	}
	for _, dup := range lib.Aliases.Duplicates {
		lib.Warnings = append(lib.Warnings, fmt.Sprintf("alias %q declared under several canonical keys", dup))
	}

	phraseData, err := fs.ReadFile(fsys, PhrasesFile)
	switch {
	case err == nil:
		hashFile(PhrasesFile, phraseData)
		lib.Phrases, err = ParsePhrases(phraseData)
		if err != nil {
			return nil, fmt.Errorf("library: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		lib.Phrases = Phrases{}
	default:
		return nil, fmt.Errorf("library: read %s: %w", PhrasesFile, err)
	}

	files, err := exerciseFiles(fsys)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]map[string]any, len(files))
	origin := make(map[string]string, len(files))
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("library: read %s: %w", name, err)
		}
		hashFile(name, data)

		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("library: parse %s: %w", name, err)
		}
		id, _ := doc["id"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("library: %s: missing id", name)
		}
		if prev, dup := origin[id]; dup {
			return nil, fmt.Errorf("library: duplicate id %q in %s and %s", id, prev, name)
		}
		raw[id] = doc
		origin[id] = name
	}

	resolved, err := resolveExtends(raw)
	if err != nil {
		return nil, err
	}
	for id, doc := range resolved {
		ex, err := decodeExercise(doc, origin[id])
		if err != nil {
			return nil, fmt.Errorf("library: exercise %q (%s): %w", id, origin[id], err)
		}
		lib.byID[id] = ex
		lib.ids = append(lib.ids, id)
	}
	sort.Strings(lib.ids)

	lib.Version = hex.EncodeToString(h.Sum(nil))[:versionLen]
	return lib, nil
}

// exerciseFiles lists exercises/**/*.yaml in lexical order.
func exerciseFiles(fsys fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ExercisesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch path.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("library: walk %s: %w", ExercisesDir, err)
	}
	sort.Strings(files)
	return files, nil
}

// decodeExercise re-encodes a merged document and decodes it into the typed
// schema, so unknown value types surface as decode errors.
func decodeExercise(doc map[string]any, origin string) (*Exercise, error) {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	var ed exerciseDoc
	if err := yaml.Unmarshal(data, &ed); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return ed.build(origin)
}
