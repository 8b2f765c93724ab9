package flights

import (
	"strings"

	"github.com/unklstewy/skyplot/pkg/coordinates"
)

// DefaultIconURL is the aircraft glyph the renderer draws at each position.
const DefaultIconURL = "https://cdn-icons-png.flaticon.com/512/0/619.png"

// TrackedAircraftRow is a normalized state vector plus the fields computed
// for rendering.
type TrackedAircraftRow struct {
	RawStateRecord

	// X and Y are Web-Mercator meters, present whenever the record has a
	// position
	X Optional[float64] `json:"x"`
	Y Optional[float64] `json:"y"`

	// RotationAngle is the negated true track, for heading-oriented icons
	RotationAngle Optional[float64] `json:"rot_angle"`

	// IconURL is always set by Derive
	IconURL string `json:"url"`
}

// Position returns the record's coordinates when both are present.
func (r *TrackedAircraftRow) Position() (coordinates.Geographic, bool) {
	lon, okLon := r.Longitude.Get()
	lat, okLat := r.Latitude.Get()
	if !okLon || !okLat {
		return coordinates.Geographic{}, false
	}
	return coordinates.Geographic{Latitude: lat, Longitude: lon}, true
}

// Normalize turns decoded records into rows. Source fields are kept as
// received, including the callsign padding.
func Normalize(records []RawStateRecord) []TrackedAircraftRow {
	rows := make([]TrackedAircraftRow, len(records))
	for i, rec := range records {
		rows[i] = TrackedAircraftRow{RawStateRecord: rec}
	}
	return rows
}

// DisplayCallsign returns the callsign without the trailing padding OpenSky
// appends.
func (r *TrackedAircraftRow) DisplayCallsign() Optional[string] {
	return Map(r.Callsign, func(s string) string {
		return strings.TrimRight(s, " ")
	})
}

// ProjectRows fills X/Y from each row's longitude/latitude.
func ProjectRows(rows []TrackedAircraftRow) error {
	return coordinates.ProjectTable(rows,
		func(r *TrackedAircraftRow) (float64, float64, bool) {
			pos, ok := r.Position()
			return pos.Longitude, pos.Latitude, ok
		},
		func(r *TrackedAircraftRow, x, y float64) {
			r.X = Some(x)
			r.Y = Some(y)
		},
	)
}

// Derive computes the rotation angle and attaches the icon reference. A
// missing true track yields a missing rotation angle.
func Derive(rows []TrackedAircraftRow, iconURL string) {
	if iconURL == "" {
		iconURL = DefaultIconURL
	}
	for i := range rows {
		rows[i].RotationAngle = Map(rows[i].TrueTrack, func(track float64) float64 {
			return -1 * track
		})
		rows[i].IconURL = iconURL
	}
}
