package geoportal

import "math"

// Параметры EPSG:2180 (PUWG 1992): поперечная проекция Меркатора на эллипсоиде GRS80
const (
	grs80A         = 6378137.0
	grs80F         = 1 / 298.257222101
	puwgK0         = 0.9993
	puwgFalseEast  = 500000.0
	puwgFalseNorth = -5300000.0
	puwgMeridian   = 19.0
)

// Point - координата в EPSG:2180, метры
type Point struct {
	Easting  float64
	Northing float64
}

// Project переводит WGS84 (градусы) в EPSG:2180. Ряды Снайдера, точность порядка сантиметра
// в пределах Польши.
func Project(lat, lng float64) Point {
	e2 := grs80F * (2 - grs80F)
	e4 := e2 * e2
	e6 := e4 * e2
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	dLam := (lng - puwgMeridian) * math.Pi / 180
	sin, cos, tan := math.Sin(phi), math.Cos(phi), math.Tan(phi)

	n := grs80A / math.Sqrt(1-e2*sin*sin)
	t := tan * tan
	c := ep2 * cos * cos
	a := dLam * cos
	m := grs80A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))

	a2 := a * a
	easting := puwgK0*n*(a+(1-t+c)*a2*a/6+(5-18*t+t*t+72*c-58*ep2)*a2*a2*a/120) + puwgFalseEast
	northing := puwgK0*(m+n*tan*(a2/2+(5-t+9*c+4*c*c)*a2*a2/24+(61-58*t+t*t+600*c-330*ep2)*a2*a2*a2/720)) + puwgFalseNorth
	return Point{Easting: easting, Northing: northing}
}

// BBox - квадрат вокруг точки в EPSG:2180
type BBox struct {
	MinE, MinN, MaxE, MaxN float64
}

func BBoxAround(lat, lng, radiusM float64) BBox {
	p := Project(lat, lng)
	return BBox{
		MinE: p.Easting - radiusM,
		MinN: p.Northing - radiusM,
		MaxE: p.Easting + radiusM,
		MaxN: p.Northing + radiusM,
	}
}
