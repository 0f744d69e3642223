package gratkafetcher

import (
	"listing-pipeline-service/internal/adapters/pagescrape"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/textparse"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// listingTypes - типы schema.org, под которыми gratka отдает объявление
var listingTypes = []string{"Product", "Offer", "RealEstateListing", "Apartment", "House", "SingleFamilyResidence", "Residence", "Place"}

// slugPropertyTypes - первое слово slug объявления
var slugPropertyTypes = map[string]domain.PropertyType{
	"mieszkanie": domain.PropertyApartment,
	"dom":        domain.PropertyHouse,
	"dzialka":    domain.PropertyPlot,
	"lokal":      domain.PropertyCommercial,
}

// ParseDetails: JSON-LD, затем список параметров карточки
func (a *GratkaAdapter) ParseDetails(body []byte, pageURL string) (domain.ListingAttributes, error) {
	doc, err := pagescrape.Document(body)
	if err != nil {
		return domain.ListingAttributes{}, err
	}

	var attrs domain.ListingAttributes
	for _, obj := range pagescrape.JSONLD(doc) {
		if pagescrape.HasType(obj, listingTypes...) {
			attrs = attrs.Merge(a.fromJSONLD(obj))
		}
	}
	attrs = attrs.Merge(a.fromMarkup(doc))
	if attrs.PropertyType == nil {
		attrs.PropertyType = propertyFromURL(pageURL)
	}
	if attrs.PricePerM2 == nil {
		attrs.PricePerM2 = textparse.PricePerM2(attrs.PriceAmount, attrs.AreaM2)
	}
	if attrs.IsEmpty() {
		return attrs, domain.ErrParseEmpty
	}
	return attrs, nil
}

func (a *GratkaAdapter) fromJSONLD(obj map[string]any) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	attrs.Title = pagescrape.StringPtr(obj["name"])
	if desc, ok := pagescrape.String(obj["description"]); ok {
		attrs.Description = pagescrape.NonEmpty(pagescrape.StripHTML(desc))
	}
	attrs.PriceAmount, attrs.Currency = a.offerPrice(obj["offers"])

	// у Product характеристики жилья лежат во вложенном itemOffered
	place := obj
	if offered, ok := pagescrape.Dig(obj, "offers", "itemOffered").(map[string]any); ok {
		place = offered
	}
	attrs.AreaM2 = pagescrape.FloatPtr(pagescrape.Dig(place, "floorSize", "value"))
	attrs.Rooms = pagescrape.IntPtr(place["numberOfRooms"])

	address := place["address"]
	if address == nil {
		address = obj["address"]
	}
	attrs.LocationText = addressText(address)
	attrs.City = pagescrape.StringPtr(pagescrape.Dig(address, "addressLocality"))
	attrs.Street = pagescrape.StringPtr(pagescrape.Dig(address, "streetAddress"))
	if region, ok := pagescrape.String(pagescrape.Dig(address, "addressRegion")); ok {
		if v, known := textparse.NormalizeVoivodeship(region); known {
			attrs.Voivodeship = &v
		}
	}

	geo := place["geo"]
	if geo == nil {
		geo = obj["geo"]
	}
	attrs.Lat = pagescrape.FloatPtr(pagescrape.Dig(geo, "latitude"))
	attrs.Lng = pagescrape.FloatPtr(pagescrape.Dig(geo, "longitude"))
	if attrs.Lat == nil || attrs.Lng == nil {
		attrs.Lat, attrs.Lng = nil, nil
	}

	attrs.OwnerName = pagescrape.StringPtr(pagescrape.Dig(obj, "offers", "seller", "name"))
	attrs.OwnerPhone = pagescrape.StringPtr(pagescrape.Dig(obj, "offers", "seller", "telephone"))
	return attrs
}

func (a *GratkaAdapter) fromMarkup(doc *goquery.Document) domain.ListingAttributes {
	var attrs domain.ListingAttributes
	root := doc.Selection

	title := pagescrape.FirstText(root, ".sticker__title", "h1")
	if title == "" {
		title = pagescrape.Meta(doc, "og:title")
	}
	attrs.Title = pagescrape.NonEmpty(title)
	attrs.Description = pagescrape.NonEmpty(pagescrape.FirstText(root, ".description__rolled", ".description"))
	if attrs.Description == nil {
		attrs.Description = pagescrape.NonEmpty(pagescrape.Meta(doc, "description"))
	}
	attrs.PriceAmount, attrs.Currency = textparse.ParsePrice(pagescrape.FirstText(root, ".priceInfo__value", `[class*="price"]`), a.bounds)

	params := pagescrape.LabeledValues(root, ".parameters__singleParameters li, .parameters li")
	attrs.AreaM2 = textparse.ParseArea(pagescrape.LookupPrefix(params, "powierzchnia"))
	attrs.PricePerM2 = textparse.ParseDecimal(pagescrape.LookupPrefix(params, "cena za m"))
	attrs.Rooms = textparse.ParseRooms(pagescrape.LookupPrefix(params, "liczba pokoi"))
	attrs.Floor = textparse.ParseFloor(pagescrape.LookupPrefix(params, "pietro", "poziom"))
	attrs.YearBuilt = textparse.ParseYear(pagescrape.LookupPrefix(params, "rok budowy"))
	if loc := pagescrape.LookupPrefix(params, "lokalizacja"); loc != "" {
		attrs.LocationText = pagescrape.NonEmpty(loc)
	} else {
		attrs.LocationText = pagescrape.NonEmpty(pagescrape.FirstText(root, ".offerLocation", ".location"))
	}

	attrs.OwnerName = pagescrape.NonEmpty(pagescrape.FirstText(root, ".agentDetails__name", ".contactCard__name"))
	return attrs
}

func propertyFromURL(pageURL string) *domain.PropertyType {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	// /nieruchomosci/{slug}/ob/{id}
	segments := strings.Split(strings.Trim(path.Clean(u.Path), "/"), "/")
	if len(segments) < 2 || segments[0] != "nieruchomosci" {
		return nil
	}
	first, _, _ := strings.Cut(segments[1], "-")
	if pt, ok := slugPropertyTypes[first]; ok {
		return &pt
	}
	return nil
}
