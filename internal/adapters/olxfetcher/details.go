package olxfetcher

import (
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ParseDetails: ad.ad из __PRERENDERED_STATE__, затем блоки data-testid/data-cy страницы
func (a *OlxAdapter) ParseDetails(body []byte, pageURL string) (domain.ListingAttributes, error) {
	doc, err := pagescrape.Document(body)
	if err != nil {
		return domain.ListingAttributes{}, err
	}

	attrs := a.fromState(pagescrape.Dig(pagescrape.PrerenderedState(body), "ad", "ad"))
	attrs = attrs.Merge(a.fromMarkup(doc))
	if attrs.PricePerM2 == nil {
		attrs.PricePerM2 = textparse.PricePerM2(attrs.PriceAmount, attrs.AreaM2)
	}
	if attrs.IsEmpty() {
		return attrs, domain.ErrParseEmpty
	}
	return attrs, nil
}

func (a *OlxAdapter) fromState(ad any) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	if ad == nil {
		return attrs
	}

	attrs.Title = pagescrape.StringPtr(pagescrape.Dig(ad, "title"))
	if desc, ok := pagescrape.String(pagescrape.Dig(ad, "description")); ok {
		attrs.Description = pagescrape.NonEmpty(pagescrape.StripHTML(desc))
	}
	if price, ok := pagescrape.Number(pagescrape.Dig(ad, "price", "regularPrice", "value")); ok && price >= a.bounds.Min && price <= a.bounds.Max {
		attrs.PriceAmount = &price
		attrs.Currency = pagescrape.StringPtr(pagescrape.Dig(ad, "price", "regularPrice", "currencyCode"))
	}

	for _, param := range pagescrape.Array(pagescrape.Dig(ad, "params")) {
		key, _ := pagescrape.String(pagescrape.Dig(param, "key"))
		normalized, _ := pagescrape.String(pagescrape.Dig(param, "normalizedValue"))
		value, _ := pagescrape.String(pagescrape.Dig(param, "value"))
		switch key {
		case "m":
			attrs.AreaM2 = textparse.ParseArea(normalized)
		case "price_per_m":
			attrs.PricePerM2 = textparse.ParseDecimal(normalized)
		case "rooms":
			if n, known := roomEnumNumbers[normalized]; known {
				attrs.Rooms = &n
			} else {
				attrs.Rooms = textparse.ParseRooms(value)
			}
		case "floor_select":
			attrs.Floor = textparse.ParseFloor(normalized)
		case "builttype", "year_built":
			attrs.YearBuilt = textparse.ParseYear(value)
		}
	}

	if category, ok := pagescrape.String(pagescrape.Dig(ad, "category", "type")); ok {
		switch category {
		case "sale", "sprzedaz":
			tt := domain.TransactionSale
			attrs.TransactionType = &tt
		case "rent", "wynajem":
			tt := domain.TransactionRent
			attrs.TransactionType = &tt
		}
	}

	location := pagescrape.Dig(ad, "location")
	attrs.City = pagescrape.StringPtr(pagescrape.Dig(location, "cityName"))
	attrs.District = pagescrape.StringPtr(pagescrape.Dig(location, "districtName"))
	if region, ok := pagescrape.String(pagescrape.Dig(location, "regionName")); ok {
		if v, known := textparse.NormalizeVoivodeship(region); known {
			attrs.Voivodeship = &v
		}
	}
	attrs.LocationText = locationFromState(location)

	// olx размывает точку, если продавец скрыл адрес; точные координаты только без радиуса
	if radius, _ := pagescrape.Number(pagescrape.Dig(ad, "map", "radius")); radius == 0 {
		attrs.Lat = pagescrape.FloatPtr(pagescrape.Dig(ad, "map", "lat"))
		attrs.Lng = pagescrape.FloatPtr(pagescrape.Dig(ad, "map", "lon"))
		if attrs.Lat == nil || attrs.Lng == nil {
			attrs.Lat, attrs.Lng = nil, nil
		}
	}

	attrs.OwnerName = pagescrape.StringPtr(pagescrape.Dig(ad, "user", "name"))
	attrs.OwnerPhone = pagescrape.StringPtr(pagescrape.Dig(ad, "contact", "phone"))
	return attrs
}

// fromMarkup: заголовок, цена, описание и параметры "Метка: значение"
func (a *OlxAdapter) fromMarkup(doc *goquery.Document) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	root := doc.Selection

	title := pagescrape.FirstText(root, `[data-testid="offer_title"] h4`, `[data-cy="ad_title"]`, "h1")
	if title == "" {
		title = pagescrape.Meta(doc, "og:title")
	}
	attrs.Title = pagescrape.NonEmpty(title)
	attrs.Description = pagescrape.NonEmpty(pagescrape.FirstText(root, `[data-cy="ad_description"] div`, `[data-cy="ad_description"]`))
	if attrs.Description == nil {
		attrs.Description = pagescrape.NonEmpty(pagescrape.Meta(doc, "description"))
	}
	attrs.PriceAmount, attrs.Currency = textparse.ParsePrice(
		pagescrape.FirstText(root, `[data-testid="ad-price-container"] h3`, `[data-testid="ad-price-container"]`), a.bounds)

	params := pagescrape.LabeledValues(root, `[data-testid="ad-parameters-container"] p`)
	attrs.AreaM2 = textparse.ParseArea(pagescrape.LookupPrefix(params, "powierzchnia"))
	attrs.PricePerM2 = textparse.ParseDecimal(pagescrape.LookupPrefix(params, "cena za m"))
	attrs.Rooms = textparse.ParseRooms(pagescrape.LookupPrefix(params, "liczba pokoi"))
	attrs.Floor = textparse.ParseFloor(pagescrape.LookupPrefix(params, "poziom", "pietro"))
	attrs.YearBuilt = textparse.ParseYear(pagescrape.LookupPrefix(params, "rok budowy"))

	var parts []string
	doc.Find(`[data-testid="map-aside-section"] p, [data-testid="location-section"] p`).Each(func(_ int, s *goquery.Selection) {
		if text := textparse.CleanText(s.Text()); text != "" && !strings.EqualFold(text, "lokalizacja") {
			parts = append(parts, strings.TrimSuffix(text, ","))
		}
	})
	attrs.LocationText = pagescrape.NonEmpty(strings.Join(parts, ", "))

	attrs.OwnerName = pagescrape.NonEmpty(pagescrape.FirstText(root, `[data-testid="user-profile-user-name"]`, `[data-cy="seller_card"] h4`))
	return attrs
}

func (a *OlxAdapter) IsExpired(body []byte) bool {
	return pagescrape.ContainsPhrase(body, expiredPhrases...)
}
