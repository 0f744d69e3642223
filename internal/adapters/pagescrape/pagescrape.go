// Package pagescrape - общие приемы разбора страниц порталов: встроенные JSON-блобы,
// JSON-LD, meta-теги и навигация по нетипизированному JSON.
package pagescrape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"listing-pipeline-service/internal/core/textparse"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Document разбирает HTML
func Document(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pagescrape: parse html: %w", err)
	}
	return doc, nil
}

// NextData возвращает распарсенный script#__NEXT_DATA__ или nil
func NextData(doc *goquery.Document) any {
	raw := strings.TrimSpace(doc.Find("script#__NEXT_DATA__").First().Text())
	if raw == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}

var prerenderedPattern = regexp.MustCompile(`window\.__PRERENDERED_STATE__\s*=\s*("(?:[^"\\]|\\.)*")`)

// PrerenderedState достает window.__PRERENDERED_STATE__: это JSON, закодированный строковым литералом
func PrerenderedState(body []byte) any {
	m := prerenderedPattern.FindSubmatch(body)
	if m == nil {
		return nil
	}
	var encoded string
	if err := json.Unmarshal(m[1], &encoded); err != nil {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(encoded), &v); err != nil {
		return nil
	}
	return v
}

// JSONLD собирает все объекты из script[type="application/ld+json"], раскрывая массивы и @graph
func JSONLD(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	var collect func(v any)
	collect = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				collect(item)
			}
		case map[string]any:
			if graph, ok := t["@graph"]; ok {
				collect(graph)
				return
			}
			out = append(out, t)
		}
	}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err == nil {
			collect(v)
		}
	})
	return out
}

// HasType проверяет @type объекта JSON-LD (строка или массив строк)
func HasType(obj map[string]any, types ...string) bool {
	check := func(s string) bool {
		for _, t := range types {
			if strings.EqualFold(s, t) {
				return true
			}
		}
		return false
	}
	switch t := obj["@type"].(type) {
	case string:
		return check(t)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && check(s) {
				return true
			}
		}
	}
	return false
}

// Meta - content meta-тега по property или name
func Meta(doc *goquery.Document, key string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q], meta[name=%q]`, key, key)).First()
	content, _ := sel.Attr("content")
	return textparse.CleanText(content)
}

// FirstText - текст первого непустого элемента из списка селекторов
func FirstText(root *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		var found string
		root.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = textparse.CleanText(s.Text())
			return found == ""
		})
		if found != "" {
			return found
		}
	}
	return ""
}

// LabeledValues собирает пары "метка: значение" из элементов по селектору.
// Ключ - свернутая метка без двоеточия (textparse.Fold).
func LabeledValues(root *goquery.Selection, selector string) map[string]string {
	out := map[string]string{}
	root.Find(selector).Each(func(_ int, s *goquery.Selection) {
		children := s.Children()
		var label, value string
		if children.Length() >= 2 {
			label = textparse.CleanText(children.First().Text())
			value = textparse.CleanText(children.Last().Text())
		} else {
			parts := strings.SplitN(textparse.CleanText(s.Text()), ":", 2)
			if len(parts) != 2 {
				return
			}
			label, value = parts[0], parts[1]
		}
		label = strings.TrimSuffix(strings.TrimSpace(label), ":")
		value = strings.TrimSpace(value)
		if label != "" && value != "" {
			out[textparse.Fold(label)] = value
		}
	})
	return out
}

// LookupPrefix - значение первой метки, начинающейся с одного из свернутых префиксов
func LookupPrefix(values map[string]string, prefixes ...string) string {
	for _, prefix := range prefixes {
		for label, value := range values {
			if strings.HasPrefix(label, prefix) {
				return value
			}
		}
	}
	return ""
}

// Dig спускается по ключам объектов и индексам массивов ("0", "1", ...)
func Dig(v any, path ...string) any {
	for _, key := range path {
		switch t := v.(type) {
		case map[string]any:
			v = t[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(t) {
				return nil
			}
			v = t[i]
		default:
			return nil
		}
	}
	return v
}

// String - непустая строка после CleanText
func String(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := textparse.CleanText(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}
	return "", false
}

// Number принимает число JSON или числовую строку
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(t), ",", "."), 64)
		return f, err == nil
	}
	return 0, false
}

// Array - срез или nil
func Array(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	return nil
}

// StringPtr, FloatPtr, IntPtr - хелперы для полей-указателей
func StringPtr(v any) *string {
	if s, ok := String(v); ok {
		return &s
	}
	return nil
}

func FloatPtr(v any) *float64 {
	if f, ok := Number(v); ok {
		return &f
	}
	return nil
}

func IntPtr(v any) *int {
	if f, ok := Number(v); ok {
		n := int(f)
		return &n
	}
	return nil
}

// NonEmpty возвращает указатель на s, если строка непустая
func NonEmpty(s string) *string {
	s = textparse.CleanText(s)
	if s == "" {
		return nil
	}
	return &s
}

var brReplacer = strings.NewReplacer("<br>", "\n", "<br/>", "\n", "<br />", "\n", "</p>", "</p>\n")

// StripHTML убирает разметку из HTML-описания
func StripHTML(fragment string) string {
	fragment = brReplacer.Replace(fragment)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return textparse.CleanText(fragment)
	}
	return textparse.CleanText(doc.Text())
}

// ContainsPhrase ищет любую из фраз в видимом тексте страницы без учета регистра и диакритики
func ContainsPhrase(body []byte, phrases ...string) bool {
	text := string(body)
	if doc, err := Document(body); err == nil {
		doc.Find("script, style, noscript").Remove()
		text = doc.Text()
	}
	folded := textparse.Fold(text)
	for _, phrase := range phrases {
		if strings.Contains(folded, textparse.Fold(phrase)) {
			return true
		}
	}
	return false
}

var slugJunk = regexp.MustCompile(`[^a-z0-9]+`)

// Slug - сегмент пути для поисковых URL: "Bielsko-Biała" -> "bielsko-biala"
func Slug(text string) string {
	return strings.Trim(slugJunk.ReplaceAllString(textparse.Fold(text), "-"), "-")
}
