package geoportal

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"listing-pipeline-service/internal/core/textparse"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// record - атрибуты одного объекта слоя: свернутое имя поля -> значение
type record map[string]string

// parsePayload разбирает ответ WFS/WMS: GeoJSON, GML/XML или HTML-панель
func parsePayload(body []byte) ([]record, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '{' || trimmed[0] == '[':
		return parseJSON(trimmed)
	case isHTML(trimmed):
		return parseHTML(trimmed)
	case trimmed[0] == '<':
		return parseXML(trimmed)
	default:
		return parseText(string(trimmed)), nil
	}
}

func isHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") ||
		strings.Contains(head, "<table") || strings.Contains(head, "<body")
}

func parseJSON(body []byte) ([]record, error) {
	var collection struct {
		Features []struct {
			ID         any            `json:"id"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("geoportal: decode json: %w", err)
	}
	out := make([]record, 0, len(collection.Features))
	for _, f := range collection.Features {
		rec := record{}
		if f.ID != nil {
			rec["id"] = fmt.Sprint(f.ID)
		}
		for k, v := range f.Properties {
			if v != nil {
				rec[fieldKey(k)] = fmt.Sprint(v)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// parseXML обходит GML: каждый дочерний элемент featureMember/member - отдельная запись,
// листовые элементы внутри - поля. ServiceException превращается в ошибку.
func parseXML(body []byte) ([]record, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		out       []record
		current   record
		depth     int
		text      strings.Builder
		exception bool
	)
	// глубина элемента-объекта внутри member
	featureDepth := -1
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("geoportal: decode xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			text.Reset()
			name := t.Name.Local
			switch {
			case strings.Contains(name, "Exception"):
				exception = true
			case name == "featureMember" || name == "member" || name == "featureMembers":
				featureDepth = depth + 1
			case depth == featureDepth:
				current = record{}
				for _, attr := range t.Attr {
					if attr.Name.Local == "id" {
						current["id"] = attr.Value
					}
				}
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			switch {
			case depth == featureDepth && current != nil:
				out = append(out, current)
				current = nil
			case current != nil && depth > featureDepth:
				if value := textparse.CleanText(text.String()); value != "" {
					current[fieldKey(t.Name.Local)] = value
				}
			case exception && strings.Contains(t.Name.Local, "Exception"):
				return nil, fmt.Errorf("geoportal: service exception: %s", textparse.CleanText(text.String()))
			}
			if t.Name.Local == "featureMember" || t.Name.Local == "member" || t.Name.Local == "featureMembers" {
				featureDepth = -1
			}
			text.Reset()
			depth--
		}
	}
	return out, nil
}

// parseHTML - панель GetFeatureInfo: таблицы "метка | значение" или строки "метка: значение".
// Каждая таблица считается отдельной записью.
func parseHTML(body []byte) ([]record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("geoportal: parse html: %w", err)
	}
	var out []record
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rec := record{}
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return
			}
			label := textparse.CleanText(cells.First().Text())
			value := textparse.CleanText(cells.Last().Text())
			if label != "" && value != "" {
				rec[fieldKey(label)] = value
			}
		})
		if len(rec) > 0 {
			out = append(out, rec)
		}
	})
	if len(out) == 0 {
		doc.Find("script, style").Remove()
		out = parseText(doc.Find("body").Text())
	}
	return out, nil
}

// parseText - "метка: значение" построчно, одна запись
func parseText(text string) []record {
	rec := record{}
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		label, value = textparse.CleanText(label), textparse.CleanText(value)
		if label != "" && value != "" {
			rec[fieldKey(label)] = value
		}
	}
	if len(rec) == 0 {
		return nil
	}
	return []record{rec}
}

// fieldKey: "Cena transakcji [zł]" -> "cena_transakcji_zl"
func fieldKey(label string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range textparse.Fold(label) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			pendingSep = false
			continue
		}
		pendingSep = true
	}
	return b.String()
}
