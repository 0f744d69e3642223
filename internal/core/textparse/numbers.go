// Package textparse - эвристический разбор текстов с польских порталов.
// Все функции чистые; на неразборчивый ввод возвращают nil, а не ошибку.
package textparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var numberPattern = regexp.MustCompile(`\d[\d\s\x{00a0}\x{202f}.,']*`)

// parseNumber понимает "650 000", "1 250 000,50", "1.234.567,89", "54,5", "650.000".
// Одиночный разделитель с ровно тремя цифрами после считается разделителем тысяч.
func parseNumber(text string) (float64, bool) {
	raw := numberPattern.FindString(text)
	if raw == "" {
		return 0, false
	}
	raw = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '\'' {
			return -1
		}
		return r
	}, raw)
	raw = strings.TrimRight(raw, ".,")

	lastDot, lastComma := strings.LastIndex(raw, "."), strings.LastIndex(raw, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal, thousands := ",", "."
		if lastDot > lastComma {
			decimal, thousands = ".", ","
		}
		raw = strings.ReplaceAll(raw, thousands, "")
		raw = strings.Replace(raw, decimal, ".", 1)
	case lastDot >= 0 || lastComma >= 0:
		sep := "."
		if lastComma >= 0 {
			sep = ","
		}
		if strings.Count(raw, sep) > 1 || len(raw)-strings.LastIndex(raw, sep)-1 == 3 {
			raw = strings.ReplaceAll(raw, sep, "")
		} else {
			raw = strings.Replace(raw, sep, ".", 1)
		}
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// PriceBounds отсекает шум парсера: цены вне диапазона отбрасываются
type PriceBounds struct {
	Min float64
	Max float64
}

// DefaultPriceBounds - от 100 до миллиарда
var DefaultPriceBounds = PriceBounds{Min: 100, Max: 1e9}

func (b PriceBounds) contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

var currencyMarkers = []struct {
	marker string
	code   string
}{
	{"zł", "PLN"}, {"pln", "PLN"}, {"€", "EUR"}, {"eur", "EUR"}, {"$", "USD"}, {"usd", "USD"},
}

// ParsePrice извлекает сумму и валюту. Валюта без явного маркера не угадывается.
func ParsePrice(text string, bounds PriceBounds) (*float64, *string) {
	value, ok := parseNumber(text)
	if !ok || !bounds.contains(value) {
		return nil, nil
	}
	lower := strings.ToLower(text)
	for _, c := range currencyMarkers {
		if strings.Contains(lower, c.marker) {
			code := c.code
			return &value, &code
		}
	}
	return &value, nil
}

// ParseArea - площадь в м², допустимо от 1 до 100000
func ParseArea(text string) *float64 {
	value, ok := parseNumber(text)
	if !ok || value < 1 || value > 100000 {
		return nil
	}
	return &value
}

var integerPattern = regexp.MustCompile(`-?\d+`)

// ParseRooms понимает "3", "3 pokoje", "10+", "kawalerka"
func ParseRooms(text string) *int {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "kawalerka") {
		one := 1
		return &one
	}
	m := integerPattern.FindString(lower)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 1 || n > 50 {
		return nil
	}
	return &n
}

// ParseFloor понимает "parter", "suterena", "3/10", "piętro 4", "> 10"
func ParseFloor(text string) *int {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return nil
	case strings.Contains(lower, "parter"), lower == "ground_floor", lower == "floor_0":
		zero := 0
		return &zero
	case strings.Contains(lower, "suterena"), lower == "cellar":
		minusOne := -1
		return &minusOne
	}
	lower = strings.TrimPrefix(lower, "floor_")
	m := integerPattern.FindString(lower)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < -3 || n > 200 {
		return nil
	}
	// "> 10" на otodom означает одиннадцатый и выше
	if strings.HasPrefix(lower, ">") {
		n++
	}
	return &n
}

var yearPattern = regexp.MustCompile(`\b(1[89]\d{2}|20\d{2})\b`)

// ParseYear - год постройки от 1800 до текущего плюс пять
func ParseYear(text string) *int {
	m := yearPattern.FindString(text)
	if m == "" {
		return nil
	}
	n, _ := strconv.Atoi(m)
	if n > time.Now().Year()+5 {
		return nil
	}
	return &n
}

// PricePerM2 считает цену за метр, если обе величины известны
func PricePerM2(price, area *float64) *float64 {
	if price == nil || area == nil || *area <= 0 {
		return nil
	}
	v := float64(int64(*price / *area * 100)) / 100
	return &v
}

// CleanText схлопывает пробельные символы
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ParseDecimal - число в любой локальной записи без проверки диапазона
func ParseDecimal(text string) *float64 {
	value, ok := parseNumber(text)
	if !ok {
		return nil
	}
	return &value
}
