// Package intensity estimates felt shaking at an observer from an epicentre
// using a regional log-attenuation relation.
package intensity

import "math"

const (
	earthRadiusKm = 6371.0

	DefaultDepthKm = 10.0
	// MaxDistanceKm and MinMagnitude bound the useful range of the relation.
	MaxDistanceKm = 3000.0
	MinMagnitude  = 1.0

	minHypocentralKm = 5.0
	eastWestSplitLon = 105.0
	maxIntensity     = 12.0
)

type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type coefficients struct {
	a, b, c float64
}

var (
	western = coefficients{a: 5.643, b: 1.538, c: 2.109}
	eastern = coefficients{a: 6.046, b: 1.480, c: 2.081}
)

// Distance is the great-circle distance in kilometres.
func Distance(p, q Point) float64 {
	lat1 := radians(p.Lat)
	lat2 := radians(q.Lat)
	dLat := lat2 - lat1
	dLon := radians(q.Lon - p.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Estimate returns the intensity expected at observer, in [0, 12]. Depth
// values <= 0 fall back to DefaultDepthKm.
func Estimate(magnitude, depthKm float64, epicenter, observer Point) float64 {
	if magnitude < MinMagnitude || math.IsNaN(magnitude) {
		return 0
	}
	d := Distance(epicenter, observer)
	if d > MaxDistanceKm {
		return 0
	}
	if depthKm <= 0 || math.IsNaN(depthKm) {
		depthKm = DefaultDepthKm
	}
	r := math.Max(math.Hypot(d, depthKm), minHypocentralKm)
	k := eastern
	if epicenter.Lon < eastWestSplitLon {
		k = western
	}
	i := k.a + k.b*magnitude - k.c*math.Log(r+25)
	return clamp(i, 0, maxIntensity)
}

// Describe names the felt band for an intensity value.
func Describe(i float64) string {
	switch {
	case i < 1:
		return "not felt"
	case i < 2:
		return "barely felt"
	case i < 3:
		return "weak"
	case i < 4:
		return "light"
	case i < 5:
		return "moderate"
	case i < 6:
		return "strong"
	case i < 7:
		return "very strong"
	case i < 8:
		return "severe"
	case i < 9:
		return "violent"
	case i < 10:
		return "extreme"
	}
	return "catastrophic"
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
