package textparse

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lowerPL = cases.Lower(language.Polish)

// Fold приводит текст к нижнему регистру без диакритики: "Śląskie" -> "slaskie"
func Fold(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, lowerPL.String(text))
	if err != nil {
		folded = lowerPL.String(text)
	}
	// ł не раскладывается в NFD
	return strings.ReplaceAll(CleanText(folded), "ł", "l")
}

var voivodeships = []string{
	"dolnośląskie", "kujawsko-pomorskie", "lubelskie", "lubuskie", "łódzkie", "małopolskie",
	"mazowieckie", "opolskie", "podkarpackie", "podlaskie", "pomorskie", "śląskie",
	"świętokrzyskie", "warmińsko-mazurskie", "wielkopolskie", "zachodniopomorskie",
}

var foldedVoivodeships = func() map[string]string {
	m := make(map[string]string, len(voivodeships))
	for _, v := range voivodeships {
		m[Fold(v)] = v
	}
	return m
}()

// NormalizeVoivodeship узнает воеводство в любом написании ("woj. Śląskie", "slaskie")
// и возвращает каноническое имя с диакритикой
func NormalizeVoivodeship(text string) (string, bool) {
	folded := Fold(text)
	for _, prefix := range []string{"wojewodztwo ", "woj. ", "woj "} {
		folded = strings.TrimPrefix(folded, prefix)
	}
	folded = strings.TrimSpace(folded)
	canonical, ok := foldedVoivodeships[folded]
	return canonical, ok
}

// Location - разложенный адрес
type Location struct {
	Street      *string
	District    *string
	City        *string
	Voivodeship *string
}

var streetPrefixes = []string{"ul.", "ul ", "al.", "aleja ", "pl.", "plac ", "os.", "osiedle "}

func looksLikeStreet(token string) bool {
	folded := Fold(token)
	for _, p := range streetPrefixes {
		if strings.HasPrefix(folded, p) {
			return true
		}
	}
	return false
}

// SplitLocation раскладывает "ul. Prosta 1, Wola, Warszawa, mazowieckie".
// Последний токен, похожий на воеводство, становится воеводством, следующий с конца - городом,
// перед ним район; токен с префиксом улицы всегда улица.
func SplitLocation(text string) Location {
	var tokens []string
	for _, part := range strings.Split(text, ",") {
		part = CleanText(part)
		if part == "" || Fold(part) == "polska" {
			continue
		}
		tokens = append(tokens, part)
	}

	var loc Location
	if len(tokens) == 0 {
		return loc
	}
	if v, ok := NormalizeVoivodeship(tokens[len(tokens)-1]); ok {
		loc.Voivodeship = &v
		tokens = tokens[:len(tokens)-1]
	}

	var rest []string
	for _, token := range tokens {
		if loc.Street == nil && looksLikeStreet(token) {
			street := token
			loc.Street = &street
			continue
		}
		rest = append(rest, token)
	}

	// Лишние средние токены (гмина, повят) отбрасываются
	if n := len(rest); n > 0 {
		city := rest[n-1]
		loc.City = &city
		if n > 1 {
			district := rest[n-2]
			loc.District = &district
		}
		if n > 2 && loc.Street == nil {
			street := rest[0]
			loc.Street = &street
		}
	}
	return loc
}

var (
	idTokenPattern  = regexp.MustCompile(`((^|-)C?ID[0-9A-Za-z]+)+$`)
	hasLetters      = regexp.MustCompile(`\pL{3,}`)
	onlyDigitsOrIDs = regexp.MustCompile(`^[\d-]*$`)
)

// TitleFromURL синтезирует заголовок из последнего сегмента пути.
// Сегмент, состоящий только из идентификатора, заголовка не дает.
func TitleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segment := path.Base(strings.TrimRight(u.Path, "/"))
	if segment == "." || segment == "/" {
		return ""
	}
	if unescaped, err := url.PathUnescape(segment); err == nil {
		segment = unescaped
	}
	segment = strings.TrimSuffix(segment, ".html")
	segment = idTokenPattern.ReplaceAllString(segment, "")
	if onlyDigitsOrIDs.MatchString(segment) || !hasLetters.MatchString(segment) {
		return ""
	}

	title := CleanText(strings.NewReplacer("-", " ", "_", " ").Replace(segment))
	r := []rune(title)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
