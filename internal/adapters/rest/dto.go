package rest

// SweepRequest - тело запросов enrich/verify/geocode/rcn
type SweepRequest struct {
	Limit   int     `json:"limit"`
	Force   bool    `json:"force"`
	RadiusM float64 `json:"radius_m"`
}

// HealthResponse - ответ /healthz
type HealthResponse struct {
	Status   string   `json:"status"`
	Storage  string   `json:"storage"`
	Sources  []string `json:"sources"`
	Geocode  bool     `json:"geocode"`
	Registry bool     `json:"registry"`
}
