// Package flights holds the aircraft table model: the raw OpenSky state
// vector, the normalized row the renderer consumes, and the column-table
// rendering that substitutes NoData for missing cells.
package flights

import (
	"encoding/json"
	"fmt"
	"math"
)

// StateFieldCount is the number of positional fields in an OpenSky state
// vector. Longer arrays (the extended "category" field) are accepted and the
// extra entries ignored.
const StateFieldCount = 17

// PositionSource identifies the origin of a state vector's position.
type PositionSource int

const (
	SourceADSB    PositionSource = 0
	SourceASTERIX PositionSource = 1
	SourceMLAT    PositionSource = 2
	SourceFLARM   PositionSource = 3
)

func (p PositionSource) String() string {
	switch p {
	case SourceADSB:
		return "ADS-B"
	case SourceASTERIX:
		return "ASTERIX"
	case SourceMLAT:
		return "MLAT"
	case SourceFLARM:
		return "FLARM"
	default:
		return fmt.Sprintf("source(%d)", int(p))
	}
}

// RawStateRecord is one OpenSky state vector mapped onto named fields.
// Every field may be absent.
type RawStateRecord struct {
	// ICAO24 is the transponder address in hex
	ICAO24 Optional[string] `json:"icao24"`

	// Callsign as broadcast, usually right-padded with spaces upstream
	Callsign Optional[string] `json:"callsign"`

	OriginCountry Optional[string] `json:"origin_country"`

	// TimePosition is the Unix time of the last position update
	TimePosition Optional[int64] `json:"time_position"`

	// LastContact is the Unix time of the last message of any kind
	LastContact Optional[int64] `json:"last_contact"`

	// Longitude and Latitude in WGS84 decimal degrees
	Longitude Optional[float64] `json:"long"`
	Latitude  Optional[float64] `json:"lat"`

	// BaroAltitude in meters
	BaroAltitude Optional[float64] `json:"baro_altitude"`

	OnGround Optional[bool] `json:"on_ground"`

	// Velocity over ground in m/s
	Velocity Optional[float64] `json:"velocity"`

	// TrueTrack in decimal degrees clockwise from north
	TrueTrack Optional[float64] `json:"true_track"`

	// VerticalRate in m/s, positive when climbing
	VerticalRate Optional[float64] `json:"vertical_rate"`

	// Sensors contributing to this state vector
	Sensors Optional[[]int] `json:"sensors"`

	// GeoAltitude in meters
	GeoAltitude Optional[float64] `json:"geo_altitude"`

	Squawk Optional[string] `json:"squawk"`

	// SPI is the special purpose indicator flag
	SPI Optional[bool] `json:"spi"`

	PositionSource Optional[PositionSource] `json:"position_source"`
}

// ShapeError reports a state vector whose positional layout does not match
// the expected schema.
type ShapeError struct {
	// Field is the schema column name, empty for a length mismatch
	Field string

	// Index is the position within the state array
	Index int

	Length int
	Err    error
}

func (e *ShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("state vector has %d fields, want at least %d", e.Length, StateFieldCount)
	}
	return fmt.Sprintf("state field %d (%s): %v", e.Index, e.Field, e.Err)
}

func (e *ShapeError) Unwrap() error { return e.Err }

// DecodeState maps a positional state array onto a RawStateRecord.
func DecodeState(fields []json.RawMessage) (RawStateRecord, error) {
	var rec RawStateRecord
	if len(fields) < StateFieldCount {
		return rec, &ShapeError{Length: len(fields)}
	}

	targets := []any{
		&rec.ICAO24, &rec.Callsign, &rec.OriginCountry,
		nil, nil,
		&rec.Longitude, &rec.Latitude, &rec.BaroAltitude,
		&rec.OnGround, &rec.Velocity, &rec.TrueTrack, &rec.VerticalRate,
		&rec.Sensors, &rec.GeoAltitude, &rec.Squawk, &rec.SPI,
		&rec.PositionSource,
	}
	timestamps := map[int]*Optional[int64]{3: &rec.TimePosition, 4: &rec.LastContact}

	for i, target := range targets {
		var err error
		if ts, ok := timestamps[i]; ok {
			*ts, err = decodeUnixTime(fields[i])
		} else {
			err = json.Unmarshal(fields[i], target)
		}
		if err != nil {
			return RawStateRecord{}, &ShapeError{
				Field:  RawColumns[i],
				Index:  i,
				Length: len(fields),
				Err:    err,
			}
		}
	}

	return rec, nil
}

// decodeUnixTime accepts integer or fractional seconds. Values that do not
// fit an int64 are rejected rather than wrapped.
func decodeUnixTime(raw json.RawMessage) (Optional[int64], error) {
	var f Optional[float64]
	if err := json.Unmarshal(raw, &f); err != nil {
		return None[int64](), err
	}
	v, ok := f.Get()
	if !ok {
		return None[int64](), nil
	}
	v = math.Floor(v)
	// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is exclusive.
	if math.IsNaN(v) || v < math.MinInt64 || v >= math.MaxInt64 {
		return None[int64](), fmt.Errorf("timestamp %g out of range", v)
	}
	return Some(int64(v)), nil
}
