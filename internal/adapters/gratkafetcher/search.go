package gratkafetcher

import (
	"fmt"
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/canonical"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var categorySegments = map[domain.PropertyType]string{
	domain.PropertyApartment:  "mieszkania",
	domain.PropertyHouse:      "domy",
	domain.PropertyPlot:       "dzialki-grunty",
	domain.PropertyCommercial: "lokale-uzytkowe",
}

var transactionSegments = map[domain.TransactionType]string{
	domain.TransactionSale: "sprzedaz",
	domain.TransactionRent: "wynajem",
}

// offerPath - у объявлений gratka числовой идентификатор в конце пути
var offerPath = regexp.MustCompile(`/nieruchomosci/.+/\d{6,}/?$`)

// BuildSearchURL: /nieruchomosci/{категория}[/{город}]/{сделка} и диапазоны "поле:min/max".
// Район и воеводство без города не передаются.
func (a *GratkaAdapter) BuildSearchURL(filters domain.SearchFilters, page int) (string, error) {
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
		return "", fmt.Errorf("gratka: unsupported property type %q", property)
	}
	tSeg, ok := transactionSegments[transaction]
	if !ok {
		return "", fmt.Errorf("gratka: unsupported transaction type %q", transaction)
	}

	segments := []string{"nieruchomosci", cSeg}
	if city := pagescrape.Slug(filters.City); city != "" {
		segments = append(segments, city)
	}
	segments = append(segments, tSeg)

	q := url.Values{}
	setFloat(q, "cena-calkowita:min", filters.PriceMin)
	setFloat(q, "cena-calkowita:max", filters.PriceMax)
	setFloat(q, "powierzchnia-w-m2:min", filters.AreaMin)
	setFloat(q, "powierzchnia-w-m2:max", filters.AreaMax)
	setInt(q, "liczba-pokoi:min", filters.RoomsMin)
	setInt(q, "liczba-pokoi:max", filters.RoomsMax)
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

func setInt(q url.Values, key string, v *int) {
	if v != nil && *v > 0 {
		q.Set(key, strconv.Itoa(*v))
	}
}

func (a *GratkaAdapter) SearchMatches(requestedURL, finalURL string) bool {
	return canonical.SameSearch(requestedURL, finalURL, "page")
}

// ParseSearchResults: ItemList из JSON-LD, затем ссылки карточек с числовым идентификатором
func (a *GratkaAdapter) ParseSearchResults(body []byte, baseURL string) ([]domain.ListingCandidate, error) {
	doc, err := pagescrape.Document(body)
	if err != nil {
		return nil, err
	}
	for _, obj := range pagescrape.JSONLD(doc) {
		if !pagescrape.HasType(obj, "ItemList") {
			continue
		}
		if elements := pagescrape.Array(obj["itemListElement"]); elements != nil {
			return a.candidatesFromItemList(elements, baseURL), nil
		}
	}
	return a.candidatesFromCards(doc, baseURL), nil
}

func (a *GratkaAdapter) candidatesFromItemList(elements []any, baseURL string) []domain.ListingCandidate {
	candidates := make([]domain.ListingCandidate, 0, len(elements))
	for _, element := range elements {
		item := pagescrape.Dig(element, "item")
		if item == nil {
			item = element
		}
		raw, ok := pagescrape.String(pagescrape.Dig(item, "url"))
		if !ok {
			if raw, ok = pagescrape.String(item); !ok {
				continue
			}
		}
		href, err := canonical.Absolute(baseURL, raw)
		if err != nil {
			continue
		}
		title, _ := pagescrape.String(pagescrape.Dig(item, "name"))
		if title == "" {
			title = offerTitle(href)
		}
		if title == "" {
			continue
		}

		c := domain.ListingCandidate{Source: domain.SourceGratka, SourceURL: href, Title: title}
		c.PriceAmount, c.Currency = a.offerPrice(pagescrape.Dig(item, "offers"))
		c.AreaM2 = pagescrape.FloatPtr(pagescrape.Dig(item, "floorSize", "value"))
		c.Rooms = pagescrape.IntPtr(pagescrape.Dig(item, "numberOfRooms"))
		c.LocationText = addressText(pagescrape.Dig(item, "address"))
		candidates = append(candidates, c)
	}
	return candidates
}

// offerPrice читает Offer или AggregateOffer из JSON-LD
func (a *GratkaAdapter) offerPrice(offers any) (*float64, *string) {
	if list := pagescrape.Array(offers); list != nil {
		offers = pagescrape.Dig(list, "0")
	}
	price, ok := pagescrape.Number(pagescrape.Dig(offers, "price"))
	if !ok {
		price, ok = pagescrape.Number(pagescrape.Dig(offers, "lowPrice"))
	}
	if !ok || price < a.bounds.Min || price > a.bounds.Max {
		return nil, nil
	}
	return &price, pagescrape.StringPtr(pagescrape.Dig(offers, "priceCurrency"))
}

// addressText: PostalAddress в "улица, город, регион"
func addressText(address any) *string {
	if s, ok := address.(string); ok {
		return pagescrape.NonEmpty(s)
	}
	var parts []string
	for _, key := range []string{"streetAddress", "addressLocality", "addressRegion"} {
		if s, ok := pagescrape.String(pagescrape.Dig(address, key)); ok {
			parts = append(parts, s)
		}
	}
	return pagescrape.NonEmpty(strings.Join(parts, ", "))
}

func (a *GratkaAdapter) candidatesFromCards(doc *goquery.Document, baseURL string) []domain.ListingCandidate {
	var candidates []domain.ListingCandidate
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		raw, _ := link.Attr("href")
		href, err := canonical.Absolute(baseURL, raw)
		if err != nil {
			return
		}
		u, err := url.Parse(href)
		if err != nil || !offerPath.MatchString(u.Path) {
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
		title := pagescrape.FirstText(card, "h2", ".teaserUnified__title", "h3")
		if title == "" {
			title = offerTitle(href)
		}
		if title == "" {
			return
		}

		c := domain.ListingCandidate{Source: domain.SourceGratka, SourceURL: href, Title: title}
		c.PriceAmount, c.Currency = textparse.ParsePrice(pagescrape.FirstText(card, ".teaserUnified__price", `[class*="price"]`), a.bounds)
		c.LocationText = pagescrape.NonEmpty(pagescrape.FirstText(card, ".teaserUnified__location", `[class*="location"]`))
		candidates = append(candidates, c)
	})
	return candidates
}
