// Package catalog holds the immutable language → voice table and resolves
// voice identifiers to engines.
//
// The table is partitioned by language: every identifier belongs to exactly
// one language. [Catalog.Validate] checks this together with the other
// static integrity rules, and the default table embedded in the binary is
// validated on load.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/ttshub/internal/voice"
)

//go:embed models.yaml
var embeddedTable []byte

var (
	// ErrUnknownLanguage is returned by [Catalog.ModelsFor] for a language
	// the catalog does not list.
	ErrUnknownLanguage = errors.New("catalog: unknown language")

	// ErrInvalidCatalog wraps every integrity violation found by
	// [Catalog.Validate].
	ErrInvalidCatalog = errors.New("catalog: invalid table")
)

// Model is one voice entry of a language partition.
type Model struct {
	// ID is the model identifier, optionally tagged ("collection|tag").
	ID string `yaml:"id"`

	// Speakers is the documented speaker count. Omitted for single-speaker
	// voices.
	Speakers int `yaml:"speakers,omitempty"`
}

// Language is one partition of the catalog.
type Language struct {
	Name   string  `yaml:"name"`
	Models []Model `yaml:"models"`
}

type document struct {
	Languages []Language `yaml:"languages"`
}

// Catalog is the language-partitioned voice table. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	languages []Language
	names     []string
	byID      map[string]string
	speakers  voice.SpeakerTable
	suggest   *Suggester
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(embeddedTable))
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML catalog from r and validates it. Unknown fields are
// rejected.
func Parse(r io.Reader) (*Catalog, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(doc.Languages)
}

// New builds a catalog from langs and validates it.
func New(langs []Language) (*Catalog, error) {
	c := &Catalog{
		languages: make([]Language, len(langs)),
		names:     make([]string, 0, len(langs)),
		byID:      make(map[string]string),
		speakers:  make(voice.SpeakerTable),
		suggest:   NewSuggester(),
	}
	for i, l := range langs {
		c.languages[i] = Language{Name: l.Name, Models: slices.Clone(l.Models)}
		c.names = append(c.names, l.Name)
		for _, m := range l.Models {
			if _, dup := c.byID[m.ID]; !dup {
				c.byID[m.ID] = l.Name
			}
			if m.Speakers > 0 {
				collection, _ := voice.SplitTag(m.ID)
				c.speakers[collection] = m.Speakers
			}
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the static integrity of the table:
//
//   - at least one language, each with a unique non-empty name
//   - every language lists at least one model
//   - every identifier is non-empty and appears in exactly one language
//   - speaker counts are not negative
//   - every identifier is classifiable
//
// All violations are reported, joined.
func (c *Catalog) Validate() error {
	var errs []error
	if len(c.languages) == 0 {
		errs = append(errs, fmt.Errorf("%w: no languages", ErrInvalidCatalog))
	}

	seenLang := make(map[string]bool, len(c.languages))
	owner := make(map[string]string)
	for _, l := range c.languages {
		if strings.TrimSpace(l.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: language with empty name", ErrInvalidCatalog))
		}
		if seenLang[l.Name] {
			errs = append(errs, fmt.Errorf("%w: duplicate language %q", ErrInvalidCatalog, l.Name))
		}
		seenLang[l.Name] = true
		if len(l.Models) == 0 {
			errs = append(errs, fmt.Errorf("%w: language %q lists no models", ErrInvalidCatalog, l.Name))
		}

		for _, m := range l.Models {
			if m.ID == "" {
				errs = append(errs, fmt.Errorf("%w: empty model id in %q", ErrInvalidCatalog, l.Name))
				continue
			}
			if prev, ok := owner[m.ID]; ok {
				errs = append(errs, fmt.Errorf("%w: model %q listed under both %q and %q", ErrInvalidCatalog, m.ID, prev, l.Name))
				continue
			}
			owner[m.ID] = l.Name
			if m.Speakers < 0 {
				errs = append(errs, fmt.Errorf("%w: model %q has negative speaker count", ErrInvalidCatalog, m.ID))
			}
			if _, err := voice.Classify(m.ID, c.speakers); err != nil {
				errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidCatalog, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Languages returns the language names in catalog order.
func (c *Catalog) Languages() []string {
	return slices.Clone(c.names)
}

// ModelsFor returns the identifiers of lang in catalog order.
func (c *Catalog) ModelsFor(lang string) ([]string, error) {
	for _, l := range c.languages {
		if l.Name != lang {
			continue
		}
		ids := make([]string, len(l.Models))
		for i, m := range l.Models {
			ids[i] = m.ID
		}
		return ids, nil
	}
	if s, ok := c.suggest.Best(lang, c.names); ok {
		return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnknownLanguage, lang, s)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
}

// Contains reports whether id is listed in any language.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// LanguageOf returns the language id is listed under.
func (c *Catalog) LanguageOf(id string) (string, bool) {
	l, ok := c.byID[id]
	return l, ok
}

// Plan classifies id using the catalog's speaker table. It does not check
// membership.
func (c *Catalog) Plan(id string) (voice.Plan, error) {
	return voice.Classify(id, c.speakers)
}

// IDs returns every identifier in catalog order.
func (c *Catalog) IDs() []string {
	var ids []string
	for _, l := range c.languages {
		for _, m := range l.Models {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// Suggest returns the listed identifier closest to id, if any is close
// enough.
func (c *Catalog) Suggest(id string) (string, bool) {
	return c.suggest.Best(id, c.IDs())
}

// Len returns the number of identifiers in the catalog.
func (c *Catalog) Len() int { return len(c.byID) }
