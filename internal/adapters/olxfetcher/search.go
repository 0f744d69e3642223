package olxfetcher

import (
	"fmt"
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/canonical"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var categorySegments = map[domain.PropertyType]string{
	domain.PropertyApartment:  "mieszkania",
	domain.PropertyHouse:      "domy",
	domain.PropertyPlot:       "dzialki",
	domain.PropertyCommercial: "biura-lokale",
}

var transactionSegments = map[domain.TransactionType]string{
	domain.TransactionSale: "sprzedaz",
	domain.TransactionRent: "wynajem",
}

var roomEnums = []string{"one", "two", "three", "four"}

var roomEnumNumbers = map[string]int{"one": 1, "two": 2, "three": 3, "four": 4}

// BuildSearchURL: /nieruchomosci/{категория}/{сделка}/{город или воеводство}/ с фильтрами search[...].
// Район и комнаты больше четырех olx не кодирует однозначно, они опускаются.
func (a *OlxAdapter) BuildSearchURL(filters domain.SearchFilters, page int) (string, error) {
	property := filters.PropertyType
	if property == "" {
		property = domain.PropertyApartment
	}
	transaction := filters.TransactionType
	if transaction == "" {
		transaction = domain.TransactionSale
	}
	cSeg, ok := categorySegments[property]
	if !ok {
		return "", fmt.Errorf("olx: unsupported property type %q", property)
	}
	tSeg, ok := transactionSegments[transaction]
	if !ok {
		return "", fmt.Errorf("olx: unsupported transaction type %q", transaction)
	}

	segments := []string{"nieruchomosci", cSeg, tSeg}
	if city := pagescrape.Slug(filters.City); city != "" {
		segments = append(segments, city)
	} else if voivodeship, ok := textparse.NormalizeVoivodeship(filters.Voivodeship); ok {
		segments = append(segments, pagescrape.Slug(voivodeship))
	}

	q := url.Values{}
	setRange(q, "filter_float_price", filters.PriceMin, filters.PriceMax)
	setRange(q, "filter_float_m", filters.AreaMin, filters.AreaMax)
	if filters.RoomsMin != nil && filters.RoomsMax != nil && *filters.RoomsMin >= 1 && *filters.RoomsMax <= len(roomEnums) && *filters.RoomsMin <= *filters.RoomsMax {
		for i, enum := range roomEnums[*filters.RoomsMin-1 : *filters.RoomsMax] {
			q.Set(fmt.Sprintf("search[filter_enum_rooms][%d]", i), enum)
		}
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}

	u := *a.baseURL
	u.Path = "/" + strings.Join(segments, "/") + "/"
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setRange(q url.Values, field string, from, to *float64) {
	if from != nil && *from > 0 {
		q.Set("search["+field+":from]", strconv.FormatFloat(*from, 'f', -1, 64))
	}
	if to != nil && *to > 0 {
		q.Set("search["+field+":to]", strconv.FormatFloat(*to, 'f', -1, 64))
	}
}

// SearchMatches - при неизвестном городе olx перенаправляет на всю категорию
func (a *OlxAdapter) SearchMatches(requestedURL, finalURL string) bool {
	return canonical.SameSearch(requestedURL, finalURL, "page")
}

// ParseSearchResults: listing.listing.ads из __PRERENDERED_STATE__, затем карточки l-card.
// Карточки партнерских порталов (otodom) пропускаются: они собираются своим адаптером.
func (a *OlxAdapter) ParseSearchResults(body []byte, baseURL string) ([]domain.ListingCandidate, error) {
	if ads := pagescrape.Array(pagescrape.Dig(pagescrape.PrerenderedState(body), "listing", "listing", "ads")); ads != nil {
		return a.candidatesFromAds(ads), nil
	}
	doc, err := pagescrape.Document(body)
	if err != nil {
		return nil, err
	}
	return a.candidatesFromCards(doc, baseURL), nil
}

func (a *OlxAdapter) candidatesFromAds(ads []any) []domain.ListingCandidate {
	candidates := make([]domain.ListingCandidate, 0, len(ads))
	for _, ad := range ads {
		href, ok := pagescrape.String(pagescrape.Dig(ad, "url"))
		if !ok || !a.ownHost(href) {
			continue
		}
		title, _ := pagescrape.String(pagescrape.Dig(ad, "title"))
		if title == "" {
			title = textparse.TitleFromURL(href)
		}
		if title == "" {
			continue
		}

		c := domain.ListingCandidate{Source: domain.SourceOlx, SourceURL: href, Title: title}
		if price, ok := pagescrape.Number(pagescrape.Dig(ad, "price", "regularPrice", "value")); ok && price >= a.bounds.Min && price <= a.bounds.Max {
			c.PriceAmount = &price
			c.Currency = pagescrape.StringPtr(pagescrape.Dig(ad, "price", "regularPrice", "currencyCode"))
		}
		for _, param := range pagescrape.Array(pagescrape.Dig(ad, "params")) {
			key, _ := pagescrape.String(pagescrape.Dig(param, "key"))
			value, _ := pagescrape.String(pagescrape.Dig(param, "normalizedValue"))
			switch key {
			case "m":
				c.AreaM2 = textparse.ParseArea(value)
			case "rooms":
				if n, known := roomEnumNumbers[value]; known {
					c.Rooms = &n
				}
			}
		}
		c.LocationText = locationFromState(pagescrape.Dig(ad, "location"))
		candidates = append(candidates, c)
	}
	return candidates
}

// locationFromState: "район, город, воеводство"
func locationFromState(location any) *string {
	var parts []string
	for _, key := range []string{"districtName", "cityName", "regionName"} {
		if s, ok := pagescrape.String(pagescrape.Dig(location, key)); ok {
			parts = append(parts, s)
		}
	}
	return pagescrape.NonEmpty(strings.Join(parts, ", "))
}

func (a *OlxAdapter) candidatesFromCards(doc *goquery.Document, baseURL string) []domain.ListingCandidate {
	var candidates []domain.ListingCandidate
	doc.Find(`div[data-cy="l-card"]`).Each(func(_ int, card *goquery.Selection) {
		raw, ok := card.Find("a[href]").First().Attr("href")
		if !ok {
			return
		}
		href, err := canonical.Absolute(baseURL, raw)
		if err != nil || !a.ownHost(href) {
			return
		}
		title := pagescrape.FirstText(card, `[data-cy="ad-card-title"] h4`, "h4", "h6")
		if title == "" {
			title = textparse.TitleFromURL(href)
		}
		if title == "" {
			return
		}

		c := domain.ListingCandidate{Source: domain.SourceOlx, SourceURL: href, Title: title}
		c.PriceAmount, c.Currency = textparse.ParsePrice(pagescrape.FirstText(card, `[data-testid="ad-price"]`), a.bounds)

		// "Warszawa, Mokotów - Odświeżono dzisiaj o 10:15"
		if location := pagescrape.FirstText(card, `[data-testid="location-date"]`); location != "" {
			location, _, _ = strings.Cut(location, " - ")
			c.LocationText = pagescrape.NonEmpty(location)
		}
		candidates = append(candidates, c)
	})
	return candidates
}
