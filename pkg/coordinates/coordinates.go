// Package coordinates converts WGS84 geodetic positions to the planar
// Web-Mercator projection used by map renderers. Everything here is pure:
// no state, no I/O.
package coordinates

import "fmt"

// EarthRadiusMeters is the WGS84 semi-major axis used by Web-Mercator.
const EarthRadiusMeters = 6378137.0

// Geographic represents a position on Earth's surface in the WGS84 system.
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64 `json:"lat"`

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64 `json:"lon"`
}

// BoundingBox is the geographic rectangle used both to query the upstream
// API and as the fixed visible viewport.
type BoundingBox struct {
	// LatMin is the southern edge in decimal degrees
	LatMin float64 `json:"lamin" toml:"lamin"`

	// LonMin is the western edge in decimal degrees
	LonMin float64 `json:"lomin" toml:"lomin"`

	// LatMax is the northern edge in decimal degrees
	LatMax float64 `json:"lamax" toml:"lamax"`

	// LonMax is the eastern edge in decimal degrees
	LonMax float64 `json:"lomax" toml:"lomax"`
}

// Validate checks that the box is well-formed and inside the projection's
// latitude domain.
func (b BoundingBox) Validate() error {
	if b.LatMin >= b.LatMax {
		return fmt.Errorf("bounding box: lamin %.4f must be below lamax %.4f", b.LatMin, b.LatMax)
	}
	if b.LonMin >= b.LonMax {
		return fmt.Errorf("bounding box: lomin %.4f must be below lomax %.4f", b.LonMin, b.LonMax)
	}
	if b.LatMin <= -90 || b.LatMax >= 90 {
		return fmt.Errorf("bounding box: latitudes must be inside (-90, 90)")
	}
	if b.LonMin < -180 || b.LonMax > 180 {
		return fmt.Errorf("bounding box: longitudes must be inside [-180, 180]")
	}
	return nil
}

// Contains reports whether the position lies inside the box (edges inclusive).
func (b BoundingBox) Contains(g Geographic) bool {
	return g.Latitude >= b.LatMin && g.Latitude <= b.LatMax &&
		g.Longitude >= b.LonMin && g.Longitude <= b.LonMax
}

// Viewport is the bounding box expressed in Web-Mercator ranges.
type Viewport struct {
	Bounds BoundingBox `json:"bounds"`
	XRange [2]float64  `json:"x_range"`
	YRange [2]float64  `json:"y_range"`

	// Center is the geographic position at the middle of the plot. It lies
	// poleward of the latitude midpoint because Mercator stretches toward
	// the poles.
	Center Geographic `json:"center"`
}

// Viewport projects the south-west and north-east corners of the box.
func (b BoundingBox) Viewport() (Viewport, error) {
	minX, minY, err := ProjectPoint(b.LonMin, b.LatMin)
	if err != nil {
		return Viewport{}, fmt.Errorf("south-west corner: %w", err)
	}
	maxX, maxY, err := ProjectPoint(b.LonMax, b.LatMax)
	if err != nil {
		return Viewport{}, fmt.Errorf("north-east corner: %w", err)
	}
	lon, lat := UnprojectPoint((minX+maxX)/2, (minY+maxY)/2)
	return Viewport{
		Bounds: b,
		XRange: [2]float64{minX, maxX},
		YRange: [2]float64{minY, maxY},
		Center: Geographic{Latitude: lat, Longitude: lon},
	}, nil
}
