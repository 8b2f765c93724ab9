package flights

// RawColumns are the state vector columns in upstream positional order.
var RawColumns = []string{
	"icao24", "callsign", "origin_country", "time_position", "last_contact",
	"long", "lat", "baro_altitude", "on_ground", "velocity", "true_track",
	"vertical_rate", "sensors", "geo_altitude", "squawk", "spi",
	"position_source",
}

// DerivedColumns are the computed rendering columns.
var DerivedColumns = []string{"x", "y", "rot_angle", "url"}

// Columns returns every column of a rendered table, raw first.
func Columns() []string {
	cols := make([]string, 0, len(RawColumns)+len(DerivedColumns))
	cols = append(cols, RawColumns...)
	return append(cols, DerivedColumns...)
}

// ColumnTable is the renderer-facing layout: one same-length slice per column.
type ColumnTable map[string][]any

// Len returns the number of rows.
func (t ColumnTable) Len() int {
	for _, col := range t {
		return len(col)
	}
	return 0
}

// Cells renders one row, substituting NoData for every missing value.
// Callsigns are shown without their padding.
func Cells(r TrackedAircraftRow) map[string]any {
	var source any = NoData
	if ps, ok := r.PositionSource.Get(); ok {
		source = int(ps)
	}

	return map[string]any{
		"icao24":          r.ICAO24.Cell(),
		"callsign":        r.DisplayCallsign().Cell(),
		"origin_country":  r.OriginCountry.Cell(),
		"time_position":   r.TimePosition.Cell(),
		"last_contact":    r.LastContact.Cell(),
		"long":            r.Longitude.Cell(),
		"lat":             r.Latitude.Cell(),
		"baro_altitude":   r.BaroAltitude.Cell(),
		"on_ground":       r.OnGround.Cell(),
		"velocity":        r.Velocity.Cell(),
		"true_track":      r.TrueTrack.Cell(),
		"vertical_rate":   r.VerticalRate.Cell(),
		"sensors":         r.Sensors.Cell(),
		"geo_altitude":    r.GeoAltitude.Cell(),
		"squawk":          r.Squawk.Cell(),
		"spi":             r.SPI.Cell(),
		"position_source": source,
		"x":               r.X.Cell(),
		"y":               r.Y.Cell(),
		"rot_angle":       r.RotationAngle.Cell(),
		"url":             r.IconURL,
	}
}

// Fill renders rows into a ColumnTable. This is the gap-filling step: it must
// run after ProjectRows and Derive, and it is the only place NoData enters
// the data. An empty input yields every column present and empty.
func Fill(rows []TrackedAircraftRow) ColumnTable {
	cols := Columns()
	table := make(ColumnTable, len(cols))
	for _, c := range cols {
		table[c] = make([]any, 0, len(rows))
	}

	for _, r := range rows {
		for name, v := range Cells(r) {
			table[name] = append(table[name], v)
		}
	}
	return table
}
