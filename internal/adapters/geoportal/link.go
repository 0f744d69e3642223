package geoportal

import (
	"strconv"
	"strings"
)

// MapLink - ссылка на карту реестра с тем же bbox, что и запрос
func (c *RegistryClient) MapLink(lat, lng, radiusM float64) string {
	return c.link(BBoxAround(lat, lng, radiusM))
}

func (c *RegistryClient) link(box BBox) string {
	if c.cfg.LinkTemplate == "" {
		return ""
	}
	format := func(v float64) string { return strconv.FormatFloat(v, 'f', 0, 64) }
	return strings.NewReplacer(
		"{minx}", format(box.MinE),
		"{miny}", format(box.MinN),
		"{maxx}", format(box.MaxE),
		"{maxy}", format(box.MaxN),
	).Replace(c.cfg.LinkTemplate)
}
