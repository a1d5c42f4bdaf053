package i18n

import (
	"errors"
	"path/filepath"
	"testing"

	"bizlinkone/backend/internal/localstore"
)

// memStorage implements Storage for tests.
type memStorage struct {
	values map[string]string
	getErr error
	setErr error
}

func (m *memStorage) Get(key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	return m.values[key], nil
}

func (m *memStorage) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func mustBundle(t *testing.T, lang, src string) *Bundle {
	t.Helper()
	b, err := ParseBundle(lang, []byte(src))
	if err != nil {
		t.Fatalf("ParseBundle(%s): %v", lang, err)
	}
	return b
}

func testResolver(t *testing.T, current string) *Resolver {
	t.Helper()
	bundles := map[string]*Bundle{
		"en": mustBundle(t, "en", `
a:
  b: "{{name}}"
  greet: "Hello {{name}}, you have {{count}} messages"
  missing: "{{missing}}"
only:
  en: English only
nested:
  leaf: 42
  list: [x, y]
`),
		"ja": mustBundle(t, "ja", `
a:
  b: "こんにちは {{name}}"
nested:
  leaf: ja-string
`),
	}
	r := NewResolver(bundles, nil)
	if current != "" {
		if err := r.SetLanguage(current); err != nil {
			t.Fatalf("SetLanguage: %v", err)
		}
	}
	return r
}

func TestResolver_Translate(t *testing.T) {
	tests := []struct {
		name   string
		lang   string
		path   string
		params Params
		want   string
	}{
		{"missing in both", "en", "missing.key", nil, "missing.key"},
		{"placeholder replaced", "en", "a.b", Params{"name": "X"}, "X"},
		{"unknown placeholder kept", "en", "a.missing", Params{"name": "X"}, "{{missing}}"},
		{"no params keeps placeholder", "en", "a.b", nil, "{{name}}"},
		{"non-string values", "en", "a.greet", Params{"name": "Ann", "count": 3}, "Hello Ann, you have 3 messages"},
		{"current language wins", "ja", "a.b", Params{"name": "X"}, "こんにちは X"},
		{"falls back to default", "ja", "only.en", nil, "English only"},
		{"non-string leaf is absent", "en", "nested.leaf", nil, "nested.leaf"},
		{"non-string leaf falls back", "ja", "nested.list", nil, "nested.list"},
		{"current string over default non-string", "ja", "nested.leaf", nil, "ja-string"},
		{"path through a leaf", "en", "only.en.deeper", nil, "only.en.deeper"},
		{"interior node is absent", "en", "a", nil, "a"},
		{"empty path", "en", "", nil, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := testResolver(t, tc.lang)
			if got := r.Translate(tc.path, tc.params); got != tc.want {
				t.Errorf("Translate(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestInterpolate(t *testing.T) {
	tests := []struct {
		in     string
		params Params
		want   string
	}{
		{"{{a}}{{a}}", Params{"a": 1}, "11"},
		{"{{ a }}", Params{"a": 1}, "{{ a }}"},
		{"{a}", Params{"a": 1}, "{a}"},
		{"{{a}} and {{b}}", Params{"b": true}, "{{a}} and true"},
		{"plain", Params{"a": 1}, "plain"},
	}
	for _, tc := range tests {
		if got := Interpolate(tc.in, tc.params); got != tc.want {
			t.Errorf("Interpolate(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolver_SetLanguageUnknown(t *testing.T) {
	r := testResolver(t, "")
	if err := r.SetLanguage("fr"); err == nil {
		t.Error("SetLanguage(fr) should fail")
	}
	if r.Language() != "en" {
		t.Errorf("Language = %q, want en", r.Language())
	}
}

func TestEmbeddedBundles_DefineEveryKey(t *testing.T) {
	bundles, err := LoadBundles()
	if err != nil {
		t.Fatalf("LoadBundles: %v", err)
	}
	for _, lang := range []string{"en", "ja"} {
		if _, ok := bundles[lang]; !ok {
			t.Fatalf("bundle %s not embedded", lang)
		}
	}
	for lang, b := range bundles {
		if missing := b.Validate(AllKeys); len(missing) != 0 {
			t.Errorf("bundle %s is missing keys %v", lang, missing)
		}
	}
}

func TestBundle_Validate(t *testing.T) {
	b := mustBundle(t, "en", "a:\n  b: x\n  c: 1\n")
	missing := b.Validate([]Key{"a.b", "a.c", "a.d"})
	if len(missing) != 2 || missing[0] != "a.c" || missing[1] != "a.d" {
		t.Errorf("Validate = %v, want [a.c a.d]", missing)
	}
}

func TestParseBundle_Invalid(t *testing.T) {
	if _, err := ParseBundle("en", []byte("a: [unclosed")); err == nil {
		t.Error("ParseBundle should fail on malformed YAML")
	}
}

func TestLanguages_Initial(t *testing.T) {
	known := []string{"en", "ja"}
	tests := []struct {
		name   string
		stored string
		env    map[string]string
		want   string
	}{
		{"stored wins", "ja", map[string]string{"LANG": "en_US.UTF-8"}, "ja"},
		{"stored unknown ignored", "fr", map[string]string{"LANG": "ja_JP.UTF-8"}, "ja"},
		{"LANG probed", "", map[string]string{"LANG": "ja_JP.UTF-8"}, "ja"},
		{"LC_ALL before LANG", "", map[string]string{"LC_ALL": "ja_JP", "LANG": "en_US"}, "ja"},
		{"LC_MESSAGES before LANG", "", map[string]string{"LC_MESSAGES": "ja", "LANG": "en_US"}, "ja"},
		{"unknown locale falls back", "", map[string]string{"LANG": "fr_FR.UTF-8"}, "en"},
		{"first set variable wins", "", map[string]string{"LC_ALL": "fr_FR", "LANG": "ja_JP"}, "en"},
		{"C locale", "", map[string]string{"LANG": "C"}, "en"},
		{"nothing set", "", nil, "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := &memStorage{values: map[string]string{StorageKey: tc.stored}}
			l := NewLanguages(st, known)
			l.getenv = func(k string) string { return tc.env[k] }
			if got := l.Initial(); got != tc.want {
				t.Errorf("Initial = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLanguages_StorageErrors(t *testing.T) {
	st := &memStorage{getErr: errors.New("disk"), setErr: errors.New("disk")}
	l := NewLanguages(st, []string{"en", "ja"})
	l.getenv = func(string) string { return "" }
	if got := l.Initial(); got != "en" {
		t.Errorf("Initial with read error = %q, want en", got)
	}
	if err := l.Set("ja"); err == nil {
		t.Error("Set should surface the storage error")
	}
	if err := l.Set("xx"); err == nil {
		t.Error("Set of unknown language should fail")
	}
}

func TestResolver_LanguagePersistsAcrossLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")

	st, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("localstore.Open: %v", err)
	}
	r, err := Load(st)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := r.SetLanguage("ja"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if got := r.T(KeyLanguageName, nil); got != "日本語" {
		t.Errorf("T(language.name) = %q, want 日本語", got)
	}
	_ = st.Close()

	st, err = localstore.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	r, err = Load(st)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Language() != "ja" {
		t.Errorf("Language after reload = %q, want ja", r.Language())
	}
	if got := r.T(KeyWatchMessageLine, Params{"author": "u1", "body": "hi"}); got != "u1: hi" {
		t.Errorf("T(message_line) = %q, want %q", got, "u1: hi")
	}
}
