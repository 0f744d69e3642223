package geoportal

import (
	"context"
	"errors"
	"fmt"
	"listing-pipeline-service/internal/contextkeys"
	"listing-pipeline-service/internal/core/domain"
	"listing-pipeline-service/internal/core/port"
	"net/url"
	"strings"
)

type Config struct {
	WFSURL       string
	WMSURL       string
	WFSLayers    []string
	WMSLayers    []string
	LinkTemplate string
}

// RegistryClient - RCN геопортала: WFS по слоям, затем WMS GetFeatureInfo в центре bbox
type RegistryClient struct {
	fetcher port.FetcherPort
	wfs     *url.URL
	wms     *url.URL
	cfg     Config
}

var _ port.PriceRegistryPort = (*RegistryClient)(nil)

func NewRegistryClient(fetcher port.FetcherPort, cfg Config) (*RegistryClient, error) {
	wfs, err := parseEndpoint("wfs", cfg.WFSURL)
	if err != nil {
		return nil, err
	}
	wms, err := parseEndpoint("wms", cfg.WMSURL)
	if err != nil {
		return nil, err
	}
	if len(cfg.WFSLayers) == 0 && len(cfg.WMSLayers) == 0 {
		return nil, domain.FatalConfigError("geoportal: no layers configured")
	}
	return &RegistryClient{fetcher: fetcher, wfs: wfs, wms: wms, cfg: cfg}, nil
}

func parseEndpoint(name, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, domain.FatalConfigError("geoportal: invalid %s url %q", name, raw)
	}
	return u, nil
}

// Lookup опрашивает WFS-слои по порядку до первого, давшего цену или дату сделки.
// Если цены нет, делается GetFeatureInfo в центре bbox, и недостающие поля берутся оттуда.
// Ошибка возвращается, только если не ответил ни один запрос.
func (c *RegistryClient) Lookup(ctx context.Context, lat, lng, radiusM float64) (domain.RegistryMatch, error) {
	logger := contextkeys.LoggerFromContext(ctx).WithFields(port.Fields{
		"component": "GeoportalRegistry",
		"method":    "Lookup",
	})
	box := BBoxAround(lat, lng, radiusM)
	result := domain.RegistryMatch{Link: c.link(box)}

	var errs []error
	succeeded := 0
	for _, layer := range c.cfg.WFSLayers {
		records, err := c.query(ctx, c.getFeatureURL(layer, box))
		if err != nil {
			logger.Warn("WFS layer query failed", port.Fields{"layer": layer, "error": err.Error()})
			errs = append(errs, fmt.Errorf("layer %s: %w", layer, err))
			continue
		}
		succeeded++
		if m, ok := bestMatch(records, layer); ok {
			result = merge(result, m)
			break
		}
	}

	if !result.HasPrice() && len(c.cfg.WMSLayers) > 0 {
		records, err := c.query(ctx, c.getFeatureInfoURL(box))
		if err != nil {
			logger.Warn("WMS feature info query failed", port.Fields{"error": err.Error()})
			errs = append(errs, fmt.Errorf("feature info: %w", err))
		} else {
			succeeded++
			if m, ok := bestMatch(records, "wms:"+strings.Join(c.cfg.WMSLayers, ",")); ok {
				result = merge(result, m)
			}
		}
	}

	if succeeded == 0 && len(errs) > 0 {
		return result, fmt.Errorf("geoportal: all queries failed: %w", errors.Join(errs...))
	}
	return result, nil
}

// merge дополняет пустые поля base найденным в m; слой - тот, что дал цену, иначе первый найденный
func merge(base, m domain.RegistryMatch) domain.RegistryMatch {
	if base.Price == nil && m.Price != nil {
		base.Price = m.Price
		base.Layer = m.Layer
	}
	if base.Date == nil {
		base.Date = m.Date
	}
	if base.SourceID == nil {
		base.SourceID = m.SourceID
	}
	if base.Layer == "" {
		base.Layer = m.Layer
	}
	return base
}

func (c *RegistryClient) query(ctx context.Context, rawURL string) ([]record, error) {
	resp, err := c.fetcher.Fetch(ctx, rawURL, domain.FetchOptions{
		Headers: map[string]string{"Accept": "application/json, application/xml;q=0.9, text/html;q=0.8"},
	})
	if err != nil {
		return nil, err
	}
	return parsePayload(resp.Body)
}

// bbox в порядке осей EPSG:2180 (northing, easting)
func (b BBox) axisOrder() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f", b.MinN, b.MinE, b.MaxN, b.MaxE)
}

func (c *RegistryClient) getFeatureURL(layer string, box BBox) string {
	q := c.wfs.Query()
	q.Set("SERVICE", "WFS")
	q.Set("VERSION", "2.0.0")
	q.Set("REQUEST", "GetFeature")
	q.Set("TYPENAMES", layer)
	q.Set("SRSNAME", "EPSG:2180")
	q.Set("BBOX", box.axisOrder()+",urn:ogc:def:crs:EPSG::2180")
	q.Set("COUNT", "50")
	u := *c.wfs
	u.RawQuery = q.Encode()
	return u.String()
}

// Размер "картинки" для GetFeatureInfo; клик в центральный пиксель
const featureInfoPixels = 101

func (c *RegistryClient) getFeatureInfoURL(box BBox) string {
	layers := strings.Join(c.cfg.WMSLayers, ",")
	q := c.wms.Query()
	q.Set("SERVICE", "WMS")
	q.Set("VERSION", "1.3.0")
	q.Set("REQUEST", "GetFeatureInfo")
	q.Set("LAYERS", layers)
	q.Set("QUERY_LAYERS", layers)
	q.Set("STYLES", "")
	q.Set("CRS", "EPSG:2180")
	q.Set("BBOX", box.axisOrder())
	q.Set("WIDTH", fmt.Sprint(featureInfoPixels))
	q.Set("HEIGHT", fmt.Sprint(featureInfoPixels))
	q.Set("I", fmt.Sprint(featureInfoPixels/2))
	q.Set("J", fmt.Sprint(featureInfoPixels/2))
	q.Set("INFO_FORMAT", "text/html")
	q.Set("FEATURE_COUNT", "10")
	u := *c.wms
	u.RawQuery = q.Encode()
	return u.String()
}
