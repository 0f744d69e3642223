package otodomfetcher

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

var transactionSegments = map[domain.TransactionType]string{
	domain.TransactionSale: "sprzedaz",
	domain.TransactionRent: "wynajem",
}

var propertySegments = map[domain.PropertyType]string{
	domain.PropertyApartment:  "mieszkanie",
	domain.PropertyHouse:      "dom",
	domain.PropertyPlot:       "dzialka",
	domain.PropertyCommercial: "lokal",
}

var roomTokens = []string{"ONE", "TWO", "THREE", "FOUR", "FIVE", "SIX", "SEVEN", "EIGHT", "NINE", "TEN"}

var roomNumbers = func() map[string]int {
	m := make(map[string]int, len(roomTokens)+1)
	for i, token := range roomTokens {
		m[token] = i + 1
	}
	m["MORE"] = 11
	return m
}()

// BuildSearchURL: /pl/wyniki/{сделка}/{тип}/{воеводство}[/{город}].
// Город без воеводства в пути otodom не выразить, такой фильтр опускается.
func (a *OtodomAdapter) BuildSearchURL(filters domain.SearchFilters, page int) (string, error) {
	transaction := filters.TransactionType
	if transaction == "" {
		transaction = domain.TransactionSale
	}
	property := filters.PropertyType
	if property == "" {
		property = domain.PropertyApartment
	}
	tSeg, ok := transactionSegments[transaction]
	if !ok {
		return "", fmt.Errorf("otodom: unsupported transaction type %q", transaction)
	}
	pSeg, ok := propertySegments[property]
	if !ok {
		return "", fmt.Errorf("otodom: unsupported property type %q", property)
	}

	segments := []string{"pl", "wyniki", tSeg, pSeg}
	if voivodeship, ok := textparse.NormalizeVoivodeship(filters.Voivodeship); ok {
		segments = append(segments, pagescrape.Slug(voivodeship))
		if city := pagescrape.Slug(filters.City); city != "" {
			segments = append(segments, city)
		}
	} else {
		segments = append(segments, "cala-polska")
	}

	q := url.Values{}
	setFloat(q, "priceMin", filters.PriceMin)
	setFloat(q, "priceMax", filters.PriceMax)
	setFloat(q, "areaMin", filters.AreaMin)
	setFloat(q, "areaMax", filters.AreaMax)
	if rooms := roomsParam(filters.RoomsMin, filters.RoomsMax); rooms != "" {
		q.Set("roomsNumber", rooms)
	}
	if page > 1 {
		q.Set("page", strconv.Itoa(page))
	}

	u := *a.baseURL
	u.Path = "/" + strings.Join(segments, "/")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setFloat(q url.Values, key string, v *float64) {
	if v != nil && *v > 0 {
		q.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
	}
}

// roomsParam кодирует диапазон как [TWO,THREE]; только если заданы обе границы в пределах 1..10
func roomsParam(minRooms, maxRooms *int) string {
	if minRooms == nil || maxRooms == nil || *minRooms < 1 || *maxRooms > len(roomTokens) || *minRooms > *maxRooms {
		return ""
	}
	return "[" + strings.Join(roomTokens[*minRooms-1:*maxRooms], ",") + "]"
}

// SearchMatches - otodom при неизвестной локации молча переводит поиск на другой путь
func (a *OtodomAdapter) SearchMatches(requestedURL, finalURL string) bool {
	return canonical.SameSearch(requestedURL, finalURL, "page", "limit")
}

// ParseSearchResults: сначала searchAds из __NEXT_DATA__, затем карточки article
func (a *OtodomAdapter) ParseSearchResults(body []byte, baseURL string) ([]domain.ListingCandidate, error) {
	doc, err := pagescrape.Document(body)
	if err != nil {
		return nil, err
	}

	if items := pagescrape.Array(pagescrape.Dig(pagescrape.NextData(doc), "props", "pageProps", "data", "searchAds", "items")); items != nil {
		return a.candidatesFromItems(items), nil
	}
	return a.candidatesFromCards(doc, baseURL), nil
}

func (a *OtodomAdapter) candidatesFromItems(items []any) []domain.ListingCandidate {
	candidates := make([]domain.ListingCandidate, 0, len(items))
	for _, item := range items {
		var href string
		if slug, ok := pagescrape.String(pagescrape.Dig(item, "slug")); ok {
			href = a.absolute("/pl/oferta/" + slug)
		} else if raw, ok := pagescrape.String(pagescrape.Dig(item, "href")); ok {
			abs, err := canonical.Absolute(a.absolute("/"), strings.ReplaceAll(raw, "[lang]/ad/", "pl/oferta/"))
			if err != nil {
				continue
			}
			href = abs
		} else {
			continue
		}

		title, _ := pagescrape.String(pagescrape.Dig(item, "title"))
		if title == "" {
			title = textparse.TitleFromURL(href)
		}
		if title == "" {
			continue
		}

		c := domain.ListingCandidate{
			Source:    domain.SourceOtodom,
			SourceURL: href,
			Title:     title,
			AreaM2:    pagescrape.FloatPtr(pagescrape.Dig(item, "areaInSquareMeters")),
		}
		if price, ok := pagescrape.Number(pagescrape.Dig(item, "totalPrice", "value")); ok && price >= a.bounds.Min && price <= a.bounds.Max {
			c.PriceAmount = &price
			c.Currency = pagescrape.StringPtr(pagescrape.Dig(item, "totalPrice", "currency"))
		}
		if token, ok := pagescrape.String(pagescrape.Dig(item, "roomsNumber")); ok {
			if n, known := roomNumbers[token]; known {
				c.Rooms = &n
			}
		}
		c.LocationText = locationFromAddress(pagescrape.Dig(item, "location", "address"))
		candidates = append(candidates, c)
	}
	return candidates
}

// locationFromAddress склеивает адрес otodom в "улица, район, город, воеводство"
func locationFromAddress(address any) *string {
	var parts []string
	for _, path := range [][]string{{"street", "name"}, {"district", "name"}, {"city", "name"}, {"province", "name"}} {
		if s, ok := pagescrape.String(pagescrape.Dig(address, path...)); ok {
			parts = append(parts, s)
		}
	}
	return pagescrape.NonEmpty(strings.Join(parts, ", "))
}

func (a *OtodomAdapter) candidatesFromCards(doc *goquery.Document, baseURL string) []domain.ListingCandidate {
	var candidates []domain.ListingCandidate
	seen := map[string]struct{}{}
	doc.Find(`a[href*="/pl/oferta/"]`).Each(func(_ int, link *goquery.Selection) {
		raw, _ := link.Attr("href")
		href, err := canonical.Absolute(baseURL, raw)
		if err != nil {
			return
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}

		card := link.Closest("article")
		if card.Length() == 0 {
			card = link
		}
		title := pagescrape.FirstText(card, `[data-cy="listing-item-title"]`, "h3", "p")
		if title == "" {
			title = textparse.TitleFromURL(href)
		}
		if title == "" {
			return
		}

		c := domain.ListingCandidate{Source: domain.SourceOtodom, SourceURL: href, Title: title}
		c.PriceAmount, c.Currency = textparse.ParsePrice(
			pagescrape.FirstText(card, `[data-sentry-element="MainPrice"]`, `span[direction="horizontal"]`), a.bounds)
		c.LocationText = pagescrape.NonEmpty(pagescrape.FirstText(card, `[data-sentry-component="Address"]`, "address"))
		candidates = append(candidates, c)
	})
	return candidates
}
