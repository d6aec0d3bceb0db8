// Package i18n отдает пользовательские тексты команд на языке клиента.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
	"gopkg.in/yaml.v3"
)

// BaseLocale используется, если запрошенная локаль не найдена.
const BaseLocale = "en-US"

// Ключи сообщений.
const (
	KeyGreeting    = "greeting"
	KeyCorrect     = "verdict.correct"
	KeyTooHigh     = "verdict.too_high"
	KeyTooLow      = "verdict.too_low"
	KeyDecodeError = "process.decode_error"
)

//go:embed locales/*/*.yaml
var embeddedFS embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog хранит сообщения всех локалей.
type Catalog struct {
	builder *catalog.Builder
	matcher language.Matcher
	tags    []language.Tag
}

// LoadEmbedded загружает каталоги, встроенные в пакет.
func LoadEmbedded() (*Catalog, error) {
	return LoadFromFS(embeddedFS)
}

// LoadFromFS загружает каталоги locales/<locale>/*.yaml.
func LoadFromFS(fsys fs.FS) (*Catalog, error) {
	paths, err := fs.Glob(fsys, "locales/*/*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no catalog files found")
	}
	sort.Strings(paths)

	base := language.MustParse(BaseLocale)
	b := catalog.NewBuilder(catalog.Fallback(base))
	var tags []language.Tag
	seen := map[language.Tag]bool{}

	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", p, err)
		}
		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", p, err)
		}
		dir := path.Base(path.Dir(p))
		if strings.TrimSpace(file.Locale) != dir {
			return nil, fmt.Errorf("catalog %s: locale %q must match path locale %q", p, file.Locale, dir)
		}
		tag, err := language.Parse(dir)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: parse locale: %w", p, err)
		}
		for key, msg := range file.Messages {
			if err := b.SetString(tag, key, msg); err != nil {
				return nil, fmt.Errorf("catalog %s: set %q: %w", p, key, err)
			}
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	if !seen[base] {
		return nil, fmt.Errorf("base locale %s is not defined in catalogs", BaseLocale)
	}

	// Базовая локаль первой: matcher отдает ее при отсутствии совпадений.
	sort.SliceStable(tags, func(i, j int) bool { return tags[i] == base && tags[j] != base })
	return &Catalog{builder: b, matcher: language.NewMatcher(tags), tags: tags}, nil
}

// Locales возвращает доступные локали.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.tags))
	for _, t := range c.tags {
		out = append(out, t.String())
	}
	return out
}

// Localizer форматирует сообщения одной локали. Безопасен для конкурентного использования.
type Localizer struct {
	tag     language.Tag
	catalog catalog.Catalog
}

// Localizer подбирает ближайшую доступную локаль.
func (c *Catalog) Localizer(locale string) *Localizer {
	// Индекс указывает на тег каталога, а не на тег с расширениями -u-rg.
	_, idx := language.MatchStrings(c.matcher, locale)
	return &Localizer{tag: c.tags[idx], catalog: c.builder}
}

// Locale возвращает выбранную локаль.
func (l *Localizer) Locale() string { return l.tag.String() }

// Text форматирует сообщение по ключу.
func (l *Localizer) Text(key string, args ...interface{}) string {
	p := message.NewPrinter(l.tag, message.Catalog(l.catalog))
	return p.Sprintf(key, args...)
}
