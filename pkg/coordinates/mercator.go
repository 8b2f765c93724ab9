package coordinates

import (
	"fmt"
	"math"
)

// ProjectPoint converts a WGS84 longitude/latitude pair (decimal degrees) to
// Web-Mercator x/y in meters.
//
//	x = lon · (k·π/180)
//	y = ln(tan((90 + lat)·π/360)) · k
//
// where k is EarthRadiusMeters. Latitude must lie strictly inside (-90, 90):
// at the poles the tangent diverges, so a *DomainError is returned instead of
// clamping. Longitude is not range-checked; values outside [-180, 180] map
// linearly past the edges of the world square.
func ProjectPoint(longitude, latitude float64) (x, y float64, err error) {
	if math.IsNaN(latitude) || latitude <= -90 || latitude >= 90 {
		return 0, 0, &DomainError{Latitude: latitude}
	}
	if math.IsNaN(longitude) || math.IsInf(longitude, 0) {
		return 0, 0, &DomainError{Latitude: latitude, Longitude: longitude, invalidLongitude: true}
	}

	x = longitude * (EarthRadiusMeters * math.Pi / 180.0)
	y = math.Log(math.Tan((90.0+latitude)*math.Pi/360.0)) * EarthRadiusMeters
	return x, y, nil
}

// UnprojectPoint is the inverse of ProjectPoint.
func UnprojectPoint(x, y float64) (longitude, latitude float64) {
	longitude = x / (EarthRadiusMeters * math.Pi / 180.0)
	latitude = math.Atan(math.Exp(y/EarthRadiusMeters))*360.0/math.Pi - 90.0
	return longitude, latitude
}

// ProjectTable applies ProjectPoint element-wise. coords reports a row's
// longitude/latitude (ok=false when the row carries no position, in which
// case the row is left unprojected); set stores the projected pair back on
// the row. Rows are modified in place, nothing is added or removed, and the
// first DomainError aborts the pass with the offending row index.
func ProjectTable[R any](
	rows []R,
	coords func(*R) (lon, lat float64, ok bool),
	set func(r *R, x, y float64),
) error {
	for i := range rows {
		lon, lat, ok := coords(&rows[i])
		if !ok {
			continue
		}
		x, y, err := ProjectPoint(lon, lat)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		set(&rows[i], x, y)
	}
	return nil
}

// DomainError reports a coordinate outside the projection's domain.
type DomainError struct {
	Latitude  float64
	Longitude float64

	invalidLongitude bool
}

func (e *DomainError) Error() string {
	if e.invalidLongitude {
		return fmt.Sprintf("longitude %v is not a finite value", e.Longitude)
	}
	return fmt.Sprintf("latitude %v outside projection domain (-90, 90)", e.Latitude)
}
