package geoportal

import (
	"context"
	"errors"
	"listing-pipeline-service/internal/adapters/fetchclient"
	"listing-pipeline-service/internal/core/domain"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(base string) Config {
	return Config{
		WFSURL:       base + "/wfs",
		WMSURL:       base + "/wms",
		WFSLayers:    []string{"ms:dzialki", "ms:budynki", "ms:lokale"},
		WMSLayers:    []string{"dzialki", "budynki", "lokale"},
		LinkTemplate: "https://mapy.example/imap?bbox={minx},{miny},{maxx},{maxy}",
	}
}

func TestLookupOverHTTPSkipsFailedLayer(t *testing.T) {
	var calls []string
	lokale := fixture(t, "wfs_lokale.xml")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		calls = append(calls, r.URL.Path+" "+q.Get("TYPENAMES"))
		switch {
		case r.URL.Path == "/wfs" && q.Get("TYPENAMES") == "ms:dzialki":
			w.WriteHeader(http.StatusInternalServerError)
		case r.URL.Path == "/wfs" && q.Get("TYPENAMES") == "ms:budynki":
			_, _ = w.Write(fixture(t, "wfs_empty.xml"))
		case r.URL.Path == "/wfs":
			assert.Equal(t, "GetFeature", q.Get("REQUEST"))
			assert.True(t, strings.HasSuffix(q.Get("BBOX"), ",urn:ogc:def:crs:EPSG::2180"))
			_, _ = w.Write(lokale)
		default:
			t.Errorf("unexpected request %s", r.URL)
		}
	}))
	defer srv.Close()

	fetcher, err := fetchclient.NewClient(fetchclient.Config{Timeout: 2 * time.Second, MaxAttempts: 1})
	require.NoError(t, err)
	client, err := NewRegistryClient(fetcher, testConfig(srv.URL))
	require.NoError(t, err)

	m, err := client.Lookup(context.Background(), 52.2318, 21.0060, 150)
	require.NoError(t, err)
	require.NotNil(t, m.Price)
	assert.Equal(t, 612000.0, *m.Price)
	assert.Equal(t, "ms:lokale", m.Layer)
	assert.Equal(t, "https://mapy.example/imap?bbox=636802,486829,637102,487129", m.Link)
	assert.Equal(t, []string{"/wfs ms:dzialki", "/wfs ms:budynki", "/wfs ms:lokale"}, calls)
}

// routeFetcher отвечает по первому совпавшему фрагменту URL
type routeFetcher struct {
	routes []route
	urls   []string
}

type route struct {
	contains string
	body     string
	err      error
}

func (f *routeFetcher) Fetch(_ context.Context, rawURL string, _ domain.FetchOptions) (*domain.FetchResponse, error) {
	f.urls = append(f.urls, rawURL)
	decoded, _ := url.QueryUnescape(rawURL)
	for _, r := range f.routes {
		if strings.Contains(decoded, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			return &domain.FetchResponse{StatusCode: http.StatusOK, Body: []byte(r.body), FinalURL: rawURL}, nil
		}
	}
	return &domain.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`{"features":[]}`), FinalURL: rawURL}, nil
}

func TestLookupFallsBackToFeatureInfo(t *testing.T) {
	f := &routeFetcher{routes: []route{{contains: "REQUEST=GetFeatureInfo", body: string(fixture(t, "wms_panel.html"))}}}
	client, err := NewRegistryClient(f, testConfig("https://rcn.example"))
	require.NoError(t, err)

	m, err := client.Lookup(context.Background(), 50.0619, 19.9366, 100)
	require.NoError(t, err)
	require.NotNil(t, m.Price)
	assert.Equal(t, 455000.0, *m.Price)
	assert.Equal(t, time.Date(2022, 9, 12, 0, 0, 0, 0, time.UTC), *m.Date)
	assert.Equal(t, "WMS-42", *m.SourceID)
	assert.Equal(t, "wms:dzialki,budynki,lokale", m.Layer)
	require.Len(t, f.urls, 4)

	info, err := url.Parse(f.urls[3])
	require.NoError(t, err)
	q := info.Query()
	assert.Equal(t, "50", q.Get("I"))
	assert.Equal(t, "50", q.Get("J"))
	assert.Equal(t, "dzialki,budynki,lokale", q.Get("QUERY_LAYERS"))
	assert.Equal(t, "EPSG:2180", q.Get("CRS"))
}

func TestLookupDateOnlyLayerStopsVectorScanAndMergesPanelPrice(t *testing.T) {
	f := &routeFetcher{routes: []route{
		{contains: "TYPENAMES=ms:dzialki", body: `{"features":[{"id":"dz.1","properties":{"data_transakcji":"2018-04-20","id_dzialki":"146510_8.0101.12"}}]}`},
		{contains: "TYPENAMES=ms:budynki", err: errors.New("must not be queried")},
		{contains: "REQUEST=GetFeatureInfo", body: "Cena transakcji: 380 000 zł"},
	}}
	client, err := NewRegistryClient(f, testConfig("https://rcn.example"))
	require.NoError(t, err)

	m, err := client.Lookup(context.Background(), 52.0, 19.0, 150)
	require.NoError(t, err)
	require.NotNil(t, m.Price)
	assert.Equal(t, 380000.0, *m.Price)
	assert.Equal(t, time.Date(2018, 4, 20, 0, 0, 0, 0, time.UTC), *m.Date)
	assert.Equal(t, "146510_8.0101.12", *m.SourceID)
	assert.Equal(t, "wms:dzialki,budynki,lokale", m.Layer)
	assert.Len(t, f.urls, 2)
}

func TestLookupAllQueriesFailed(t *testing.T) {
	f := &routeFetcher{routes: []route{{contains: "rcn.example", err: domain.ErrTransient}}}
	client, err := NewRegistryClient(f, testConfig("https://rcn.example"))
	require.NoError(t, err)

	m, err := client.Lookup(context.Background(), 52.0, 19.0, 150)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Nil(t, m.Price)
	assert.NotEmpty(t, m.Link)
	assert.Len(t, f.urls, 4)
}

func TestLookupNothingFound(t *testing.T) {
	client, err := NewRegistryClient(&routeFetcher{}, testConfig("https://rcn.example"))
	require.NoError(t, err)

	m, err := client.Lookup(context.Background(), 52.0, 19.0, 150)
	require.NoError(t, err)
	assert.False(t, m.HasPrice())
	assert.Nil(t, m.Date)
	assert.Equal(t, "https://mapy.example/imap?bbox=499850,459159,500150,459459", m.Link)
}

func TestNewRegistryClientValidatesConfig(t *testing.T) {
	_, err := NewRegistryClient(&routeFetcher{}, Config{WMSURL: "https://rcn.example/wms"})
	assert.ErrorIs(t, err, domain.ErrFatalConfig)

	cfg := testConfig("https://rcn.example")
	cfg.WFSLayers, cfg.WMSLayers = nil, nil
	_, err = NewRegistryClient(&routeFetcher{}, cfg)
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}

func TestMapLinkWithoutTemplate(t *testing.T) {
	cfg := testConfig("https://rcn.example")
	cfg.LinkTemplate = ""
	client, err := NewRegistryClient(&routeFetcher{}, cfg)
	require.NoError(t, err)
	assert.Empty(t, client.MapLink(52.0, 19.0, 150))
}
