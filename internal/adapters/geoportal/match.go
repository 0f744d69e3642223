package geoportal

import (
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"sort"
	"strings"
	"time"
)

// Поля RCN называются по-разному в слоях и панелях; ищем по подстроке свернутого ключа
var (
	priceKeys = []string{"cena_brutto", "cena_transakcji", "cena_nieruchomosci", "cena_lokalu", "cena_dzialki", "cena"}
	dateKeys  = []string{"data_transakcji", "data_zawarcia", "data_aktu", "dok_data", "data"}
	idKeys    = []string{"id_transakcji", "tran_id", "id_lokalu", "id_budynku", "id_dzialki", "identyfikator", "id"}
)

// цена за метр и прочие производные поля не являются ценой сделки
var priceExcludes = []string{"m2", "jedn", "netto"}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02Z",
	"02.01.2006",
	"02-01-2006",
	"2006/01/02",
}

// bounds цены сделки: реестр хранит и символические суммы, их отбрасываем
var registryBounds = textparse.PriceBounds{Min: 1000, Max: 1e10}

// bestMatch выбирает запись с ценой и самой свежей датой; при отсутствии цен - самую свежую дату
func bestMatch(records []record, layer string) (domain.RegistryMatch, bool) {
	var best domain.RegistryMatch
	found := false
	for _, rec := range records {
		m := domain.RegistryMatch{Layer: layer}
		if raw := lookup(rec, priceKeys, priceExcludes); raw != "" {
			m.Price, _ = textparse.ParsePrice(raw, registryBounds)
		}
		if raw := lookup(rec, dateKeys, nil); raw != "" {
			m.Date = parseDate(raw)
		}
		if raw := lookup(rec, idKeys, nil); raw != "" {
			id := raw
			m.SourceID = &id
		}
		if m.Price == nil && m.Date == nil {
			continue
		}
		if !found || better(m, best) {
			best, found = m, true
		}
	}
	return best, found
}

func better(candidate, current domain.RegistryMatch) bool {
	if candidate.HasPrice() != current.HasPrice() {
		return candidate.HasPrice()
	}
	switch {
	case candidate.Date == nil:
		return false
	case current.Date == nil:
		return true
	default:
		return candidate.Date.After(*current.Date)
	}
}

// lookup: сначала точное совпадение ключа, затем ключ, содержащий кандидат
func lookup(rec record, keys, excludes []string) string {
	for _, key := range keys {
		if v, ok := rec[key]; ok && v != "" {
			return v
		}
	}
	fields := make([]string, 0, len(rec))
	for field := range rec {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, key := range keys {
		for _, field := range fields {
			if rec[field] == "" || !strings.Contains(field, key) || containsAny(field, excludes) {
				continue
			}
			return rec[field]
		}
	}
	return ""
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	// "2023-05-10T00:00:00+02" и подобные - берем только дату
	if len(raw) >= 10 {
		if t, err := time.Parse("2006-01-02", raw[:10]); err == nil {
			return &t
		}
	}
	return nil
}
