package i18n

import (
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// StorageKey is the key under which the selected language is persisted.
const StorageKey = "app.language"

// FallbackLanguage is used when neither storage nor the environment names a known language.
const FallbackLanguage = "en"

// Storage persists small client-side preferences.
// Get returns "" with a nil error when key is not set.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// localeEnv lists the locale variables in POSIX precedence order.
var localeEnv = []string{"LC_ALL", "LC_MESSAGES", "LANG"}

// Languages picks the initial language and persists changes.
type Languages struct {
	storage Storage
	known   []string
	getenv  func(string) string
}

// NewLanguages returns a Languages over known language tags. storage may be nil, in which case
// nothing is persisted.
func NewLanguages(storage Storage, known []string) *Languages {
	return &Languages{storage: storage, known: known, getenv: os.Getenv}
}

// Initial returns the stored language when it is known, else the environment locale when it
// matches a known language, else FallbackLanguage.
func (l *Languages) Initial() string {
	if l.storage != nil {
		stored, err := l.storage.Get(StorageKey)
		if err != nil {
			log.Printf("i18n: read stored language: %v", err)
		} else if lang := l.match(stored); lang != "" {
			return lang
		}
	}
	for _, name := range localeEnv {
		v := l.getenv(name)
		if v == "" {
			continue
		}
		// The first variable that is set wins, as in setlocale.
		if lang := l.match(normalizeLocale(v)); lang != "" {
			return lang
		}
		break
	}
	return FallbackLanguage
}

// Set persists lang. It must be one of the known languages.
func (l *Languages) Set(lang string) error {
	if !l.isKnown(lang) {
		return fmt.Errorf("i18n: unknown language %q", lang)
	}
	if l.storage == nil {
		return nil
	}
	if err := l.storage.Set(StorageKey, lang); err != nil {
		return fmt.Errorf("i18n: persist language: %w", err)
	}
	return nil
}

func (l *Languages) isKnown(lang string) bool {
	for _, k := range l.known {
		if k == lang {
			return true
		}
	}
	return false
}

// match returns the known language whose base language equals that of raw, or "".
func (l *Languages) match(raw string) string {
	if raw == "" {
		return ""
	}
	if l.isKnown(raw) {
		return raw
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	for _, k := range l.known {
		kt, err := language.Parse(k)
		if err != nil {
			continue
		}
		if kb, _ := kt.Base(); kb == base {
			return k
		}
	}
	return ""
}

// normalizeLocale turns a POSIX locale such as "ja_JP.UTF-8@euro" into "ja-JP".
func normalizeLocale(v string) string {
	if i := strings.IndexAny(v, ".@"); i >= 0 {
		v = v[:i]
	}
	if v == "C" || v == "POSIX" {
		return ""
	}
	return strings.ReplaceAll(v, "_", "-")
}
