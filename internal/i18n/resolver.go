// Package i18n resolves dotted message keys against per-language YAML bundles, with a fallback
// to the default language and then to the key itself.
package i18n

import (
	"fmt"
	"regexp"
	"sync"
)

var placeholderRE = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Params maps placeholder names to values. Values are stringified with fmt.Sprint.
type Params map[string]any

// Resolver is safe for concurrent use.
type Resolver struct {
	bundles     map[string]*Bundle
	defaultLang string
	langs       *Languages

	mu      sync.RWMutex
	current string
}

// NewResolver returns a Resolver whose current language comes from langs.Initial.
// The default language is FallbackLanguage.
func NewResolver(bundles map[string]*Bundle, langs *Languages) *Resolver {
	r := &Resolver{bundles: bundles, defaultLang: FallbackLanguage, langs: langs, current: FallbackLanguage}
	if langs != nil {
		r.current = langs.Initial()
	}
	if _, ok := bundles[r.current]; !ok {
		r.current = r.defaultLang
	}
	return r
}

// Load builds a Resolver over the embedded bundles, persisting the language in storage.
func Load(storage Storage) (*Resolver, error) {
	bundles, err := LoadBundles()
	if err != nil {
		return nil, err
	}
	return NewResolver(bundles, NewLanguages(storage, sortedLangs(bundles))), nil
}

// Language returns the current language tag.
func (r *Resolver) Language() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Languages returns the tags of all loaded bundles, sorted.
func (r *Resolver) Languages() []string {
	return sortedLangs(r.bundles)
}

// SetLanguage switches the current language and persists it.
func (r *Resolver) SetLanguage(lang string) error {
	if _, ok := r.bundles[lang]; !ok {
		return fmt.Errorf("i18n: unknown language %q", lang)
	}
	if r.langs != nil {
		if err := r.langs.Set(lang); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.current = lang
	r.mu.Unlock()
	return nil
}

// T resolves key with params.
func (r *Resolver) T(key Key, params Params) string {
	return r.Translate(string(key), params)
}

// Translate resolves an arbitrary dotted path. Lookup order is the current language, the
// default language, then keyPath itself.
func (r *Resolver) Translate(keyPath string, params Params) string {
	lang := r.Language()
	s, ok := r.bundles[lang].Lookup(keyPath)
	if !ok && lang != r.defaultLang {
		s, ok = r.bundles[r.defaultLang].Lookup(keyPath)
	}
	if !ok {
		return keyPath
	}
	return Interpolate(s, params)
}

// Interpolate replaces each {{name}} in s with params[name]. Placeholders without a parameter
// are left as written.
func Interpolate(s string, params Params) string {
	if len(params) == 0 {
		return s
	}
	return placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRE.FindStringSubmatch(m)[1]
		v, ok := params[name]
		if !ok {
			return m
		}
		return fmt.Sprint(v)
	})
}
