package i18n

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// Bundle is the resource tree of one language.
type Bundle struct {
	lang string
	tree map[string]any
}

// ParseBundle decodes a YAML resource tree for lang.
func ParseBundle(lang string, data []byte) (*Bundle, error) {
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("i18n: parse %s bundle: %w", lang, err)
	}
	return &Bundle{lang: lang, tree: tree}, nil
}

// Lang returns the bundle's language tag.
func (b *Bundle) Lang() string { return b.lang }

// Lookup walks the dotted path. Missing segments and non-string leaves report ok=false.
func (b *Bundle) Lookup(keyPath string) (string, bool) {
	if b == nil || keyPath == "" {
		return "", false
	}
	var node any = b.tree
	for _, seg := range strings.Split(keyPath, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return "", false
		}
		node, ok = m[seg]
		if !ok {
			return "", false
		}
	}
	s, ok := node.(string)
	return s, ok
}

// Validate returns the keys that do not resolve to a string in b, in input order.
func (b *Bundle) Validate(keys []Key) []Key {
	var missing []Key
	for _, k := range keys {
		if _, ok := b.Lookup(string(k)); !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// LoadBundles parses every embedded locale file, keyed by language tag.
func LoadBundles() (map[string]*Bundle, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("i18n: read locales: %w", err)
	}
	out := make(map[string]*Bundle, len(entries))
	for _, e := range entries {
		name := e.Name()
		lang := strings.TrimSuffix(name, path.Ext(name))
		data, err := localeFS.ReadFile("locales/" + name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read %s: %w", name, err)
		}
		b, err := ParseBundle(lang, data)
		if err != nil {
			return nil, err
		}
		out[lang] = b
	}
	return out, nil
}

func sortedLangs(bundles map[string]*Bundle) []string {
	out := make([]string, 0, len(bundles))
	for lang := range bundles {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}
