package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListingStatus - рабочий статус записи в каталоге офиса
type ListingStatus string

const (
	StatusNew         ListingStatus = "new"
	StatusPreview     ListingStatus = "preview"
	StatusActive      ListingStatus = "active"
	StatusEnriched    ListingStatus = "enriched"
	StatusShortlisted ListingStatus = "shortlisted"
	StatusRejected    ListingStatus = "rejected"
	StatusConverted   ListingStatus = "converted"
	StatusError       ListingStatus = "error"
)

// IsUserDecided - статусы, выставленные агентом; конвейер их не перезаписывает
func (s ListingStatus) IsUserDecided() bool {
	return s == StatusShortlisted || s == StatusRejected || s == StatusConverted
}

// SourceStatus - состояние объявления на самом портале
type SourceStatus string

const (
	SourceStatusActive   SourceStatus = "active"
	SourceStatusInactive SourceStatus = "inactive"
	SourceStatusRemoved  SourceStatus = "removed"
	SourceStatusUnknown  SourceStatus = "unknown"
)

type TransactionType string

const (
	TransactionSale TransactionType = "sale"
	TransactionRent TransactionType = "rent"
)

type PropertyType string

const (
	PropertyApartment  PropertyType = "apartment"
	PropertyHouse      PropertyType = "house"
	PropertyPlot       PropertyType = "plot"
	PropertyCommercial PropertyType = "commercial"
)

// ExternalListing - одна строка каталога внешних объявлений офиса
type ExternalListing struct {
	ID              uuid.UUID
	OfficeID        uuid.UUID
	Source          SourceKey
	SourceListingID *string
	SourceURL       string
	NormalizedURL   string
	URLHash         string

	Title           string
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

	GeocodeConfidence *float64
	// GeocodeAttempts - временные сбои геокодера подряд, сбрасывается при записи результата
	GeocodeAttempts int

	RcnLastPrice    *float64
	RcnLastDate     *time.Time
	RcnLastSourceID *string
	RcnLink         *string
	RcnRadiusM      *float64
	RcnEnrichedAt   *time.Time

	Status        ListingStatus
	SourceStatus  SourceStatus
	EnrichError   *string
	EnrichedAt    *time.Time
	GeocodedAt    *time.Time
	LastSeenAt    *time.Time
	LastCheckedAt *time.Time
	MatchedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasCoordinates - есть ли у записи обе координаты
func (l ExternalListing) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// LocationDecomposed - разложена ли локация хотя бы до города
func (l ExternalListing) LocationDecomposed() bool {
	return l.City != nil && *l.City != ""
}

// MissingKeyAttributes - не заполнено хотя бы одно из полей, ради которых делается обогащение
func (l ExternalListing) MissingKeyAttributes() bool {
	return l.Description == nil || l.PriceAmount == nil || l.AreaM2 == nil || l.City == nil
}

// IsTerminal - запись больше не интересна конвейеру
func (l ExternalListing) IsTerminal() bool {
	return l.SourceStatus == SourceStatusRemoved || l.Status == StatusRejected || l.Status == StatusConverted
}
