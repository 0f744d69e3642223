package domain

// RunOptions - параметры полного прогона. Незаданные флаги и лимиты берутся из конфигурации.
type RunOptions struct {
	Filters      SearchFilters `json:"filters"`
	EnrichLimit  int           `json:"enrich_limit,omitempty"`
	VerifyLimit  int           `json:"verify_limit,omitempty"`
	Geocode      *bool         `json:"geocode,omitempty"`
	Rcn          *bool         `json:"rcn,omitempty"`
	RcnRadiusM   float64       `json:"rcn_radius_m,omitempty"`
	ForceGeocode bool          `json:"force_geocode,omitempty"`
	ForceRcn     bool          `json:"force_rcn,omitempty"`
}
