package otodomfetcher

import (
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"

	"github.com/PuerkitoBio/goquery"
)

var adCategoryTypes = map[string]domain.TransactionType{
	"SELL": domain.TransactionSale,
	"RENT": domain.TransactionRent,
}

var adCategoryNames = map[string]domain.PropertyType{
	"FLAT":                domain.PropertyApartment,
	"HOUSE":               domain.PropertyHouse,
	"TERRAIN":             domain.PropertyPlot,
	"COMMERCIAL_PROPERTY": domain.PropertyCommercial,
}

// ParseDetails: поля из props.pageProps.ad, недостающие добираются селекторами
func (a *OtodomAdapter) ParseDetails(body []byte, pageURL string) (domain.ListingAttributes, error) {
	doc, err := pagescrape.Document(body)
	if err != nil {
		return domain.ListingAttributes{}, err
	}

	attrs := a.fromNextData(pagescrape.Dig(pagescrape.NextData(doc), "props", "pageProps", "ad"))
	attrs = attrs.Merge(a.fromMarkup(doc))
	if attrs.PricePerM2 == nil {
		attrs.PricePerM2 = textparse.PricePerM2(attrs.PriceAmount, attrs.AreaM2)
	}
	if attrs.IsEmpty() {
		return attrs, domain.ErrParseEmpty
	}
	return attrs, nil
}

func (a *OtodomAdapter) fromNextData(ad any) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	if ad == nil {
		return attrs
	}

	attrs.Title = pagescrape.StringPtr(pagescrape.Dig(ad, "title"))
	if desc, ok := pagescrape.String(pagescrape.Dig(ad, "description")); ok {
		attrs.Description = pagescrape.NonEmpty(pagescrape.StripHTML(desc))
	}

	target := pagescrape.Dig(ad, "target")
	if price, ok := pagescrape.Number(pagescrape.Dig(target, "Price")); ok && price >= a.bounds.Min && price <= a.bounds.Max {
		attrs.PriceAmount = &price
	}
	attrs.AreaM2 = pagescrape.FloatPtr(pagescrape.Dig(target, "Area"))
	attrs.PricePerM2 = pagescrape.FloatPtr(pagescrape.Dig(target, "Price_per_m"))
	if rooms, ok := pagescrape.String(pagescrape.Dig(target, "Rooms_num", "0")); ok {
		attrs.Rooms = textparse.ParseRooms(rooms)
	}
	if floor, ok := pagescrape.String(pagescrape.Dig(target, "Floor_no", "0")); ok {
		attrs.Floor = textparse.ParseFloor(floor)
	}
	if year, ok := pagescrape.String(pagescrape.Dig(target, "Build_year")); ok {
		attrs.YearBuilt = textparse.ParseYear(year)
	}

	for _, ch := range pagescrape.Array(pagescrape.Dig(ad, "characteristics")) {
		key, _ := pagescrape.String(pagescrape.Dig(ch, "key"))
		value, _ := pagescrape.String(pagescrape.Dig(ch, "value"))
		switch key {
		case "price":
			if attrs.PriceAmount == nil {
				attrs.PriceAmount, _ = textparse.ParsePrice(value, a.bounds)
			}
			attrs.Currency = pagescrape.StringPtr(pagescrape.Dig(ch, "currency"))
		case "m":
			if attrs.AreaM2 == nil {
				attrs.AreaM2 = textparse.ParseArea(value)
			}
		case "rooms_num":
			if attrs.Rooms == nil {
				attrs.Rooms = textparse.ParseRooms(value)
			}
		case "floor_no":
			if attrs.Floor == nil {
				attrs.Floor = textparse.ParseFloor(value)
			}
		case "build_year":
			if attrs.YearBuilt == nil {
				attrs.YearBuilt = textparse.ParseYear(value)
			}
		}
	}
	if attrs.PriceAmount != nil && attrs.Currency == nil {
		pln := "PLN"
		attrs.Currency = &pln
	}

	if t, ok := pagescrape.String(pagescrape.Dig(ad, "adCategory", "type")); ok {
		if tt, known := adCategoryTypes[t]; known {
			attrs.TransactionType = &tt
		}
	}
	if n, ok := pagescrape.String(pagescrape.Dig(ad, "adCategory", "name")); ok {
		if pt, known := adCategoryNames[n]; known {
			attrs.PropertyType = &pt
		}
	}

	address := pagescrape.Dig(ad, "location", "address")
	if street, ok := pagescrape.String(pagescrape.Dig(address, "street", "name")); ok {
		if number, ok := pagescrape.String(pagescrape.Dig(address, "street", "number")); ok {
			street += " " + number
		}
		attrs.Street = &street
	}
	attrs.District = pagescrape.StringPtr(pagescrape.Dig(address, "district", "name"))
	attrs.City = pagescrape.StringPtr(pagescrape.Dig(address, "city", "name"))
	if province, ok := pagescrape.String(pagescrape.Dig(address, "province", "name")); ok {
		if v, known := textparse.NormalizeVoivodeship(province); known {
			attrs.Voivodeship = &v
		}
	}
	attrs.LocationText = locationFromAddress(address)

	coords := pagescrape.Dig(ad, "location", "coordinates")
	attrs.Lat = pagescrape.FloatPtr(pagescrape.Dig(coords, "latitude"))
	attrs.Lng = pagescrape.FloatPtr(pagescrape.Dig(coords, "longitude"))
	if attrs.Lat == nil || attrs.Lng == nil {
		attrs.Lat, attrs.Lng = nil, nil
	}

	attrs.OwnerName = pagescrape.StringPtr(pagescrape.Dig(ad, "owner", "name"))
	if attrs.OwnerName == nil {
		attrs.OwnerName = pagescrape.StringPtr(pagescrape.Dig(ad, "agency", "name"))
	}
	attrs.OwnerPhone = pagescrape.StringPtr(pagescrape.Dig(ad, "owner", "phones", "0"))
	return attrs
}

// fromMarkup - запасной путь: meta-теги и data-cy/aria-label селекторы страницы объявления
func (a *OtodomAdapter) fromMarkup(doc *goquery.Document) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	root := doc.Selection

	title := pagescrape.FirstText(root, `[data-cy="adPageAdTitle"]`, "h1")
	if title == "" {
		title = pagescrape.Meta(doc, "og:title")
	}
	attrs.Title = pagescrape.NonEmpty(title)

	desc := pagescrape.FirstText(root, `[data-cy="adPageAdDescription"]`)
	if desc == "" {
		desc = pagescrape.Meta(doc, "og:description")
	}
	attrs.Description = pagescrape.NonEmpty(desc)

	attrs.PriceAmount, attrs.Currency = textparse.ParsePrice(
		pagescrape.FirstText(root, `[data-cy="adPageHeaderPrice"]`, `[aria-label="Cena"]`), a.bounds)

	params := pagescrape.LabeledValues(root, `[data-testid="ad.top-information.table"] > div, [data-testid="ad-parameters"] > div`)
	attrs.AreaM2 = textparse.ParseArea(pagescrape.LookupPrefix(params, "powierzchnia"))
	attrs.Rooms = textparse.ParseRooms(pagescrape.LookupPrefix(params, "liczba pokoi"))
	attrs.Floor = textparse.ParseFloor(pagescrape.LookupPrefix(params, "pietro"))
	attrs.YearBuilt = textparse.ParseYear(pagescrape.LookupPrefix(params, "rok budowy"))

	if location := pagescrape.FirstText(root, `a[href="#map"]`, `[aria-label="Adres"]`); location != "" {
		attrs.LocationText = &location
	}
	return attrs
}

// IsExpired - страница снятого объявления
func (a *OtodomAdapter) IsExpired(body []byte) bool {
	return pagescrape.ContainsPhrase(body, expiredPhrases...)
}
