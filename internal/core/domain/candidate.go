package domain

import "time"

// ListingCandidate - то, что адаптер смог извлечь из одной карточки поисковой выдачи
type ListingCandidate struct {
	Source       SourceKey
	SourceURL    string
	Title        string
	PriceAmount  *float64
	Currency     *string
	AreaM2       *float64
	Rooms        *int
	LocationText *string

	TransactionType *TransactionType
	PropertyType    *PropertyType
}

// ListingIdentity - разрешенная идентичность кандидата.
// SourceListingID == nil означает режим уникальности (office, url_hash).
type ListingIdentity struct {
	Source          SourceKey
	SourceListingID *string
	SourceURL       string
	NormalizedURL   string
	URLHash         string
}

// UsesSourceKey - применяется ли режим (office, source, source_listing_id)
func (i ListingIdentity) UsesSourceKey() bool {
	return i.SourceListingID != nil && *i.SourceListingID != ""
}

// ListingUpsert - кандидат вместе с идентичностью и временем прогона сбора
type ListingUpsert struct {
	Identity  ListingIdentity
	Candidate ListingCandidate
	Status    ListingStatus
	MatchedAt time.Time
}

// ListingAttributes - результат обогащения. Все поля необязательны,
// применяются по правилу "заполнить, только если в каталоге пусто".
type ListingAttributes struct {
	Title           *string
	Description     *string
	PriceAmount     *float64
	Currency        *string
	TransactionType *TransactionType
	PropertyType    *PropertyType

	AreaM2     *float64
	PricePerM2 *float64
	Rooms      *int
	Floor      *int
	YearBuilt  *int

	OwnerName  *string
	OwnerPhone *string

	LocationText *string
	Voivodeship  *string
	City         *string
	District     *string
	Street       *string
	Lat          *float64
	Lng          *float64
}

// IsEmpty - ничего не извлечено
func (a ListingAttributes) IsEmpty() bool {
	return a == ListingAttributes{}
}

// Merge дополняет a значениями из other там, где в a пусто. Используется адаптерами
// для смешивания структурированных данных и селекторов по каждому полю.
func (a ListingAttributes) Merge(other ListingAttributes) ListingAttributes {
	a.Title = coalesce(a.Title, other.Title)
	a.Description = coalesce(a.Description, other.Description)
	a.PriceAmount = coalesce(a.PriceAmount, other.PriceAmount)
	a.Currency = coalesce(a.Currency, other.Currency)
	a.TransactionType = coalesce(a.TransactionType, other.TransactionType)
	a.PropertyType = coalesce(a.PropertyType, other.PropertyType)
	a.AreaM2 = coalesce(a.AreaM2, other.AreaM2)
	a.PricePerM2 = coalesce(a.PricePerM2, other.PricePerM2)
	a.Rooms = coalesce(a.Rooms, other.Rooms)
	a.Floor = coalesce(a.Floor, other.Floor)
	a.YearBuilt = coalesce(a.YearBuilt, other.YearBuilt)
	a.OwnerName = coalesce(a.OwnerName, other.OwnerName)
	a.OwnerPhone = coalesce(a.OwnerPhone, other.OwnerPhone)
	a.LocationText = coalesce(a.LocationText, other.LocationText)
	a.Voivodeship = coalesce(a.Voivodeship, other.Voivodeship)
	a.City = coalesce(a.City, other.City)
	a.District = coalesce(a.District, other.District)
	a.Street = coalesce(a.Street, other.Street)
	// координаты берутся только парой с одной стороны
	switch {
	case a.Lat != nil && a.Lng != nil:
	case other.Lat != nil && other.Lng != nil:
		a.Lat, a.Lng = other.Lat, other.Lng
	default:
		a.Lat, a.Lng = nil, nil
	}
	return a
}

func coalesce[T any](current, fallback *T) *T {
	if current != nil {
		return current
	}
	return fallback
}
