package flights

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/unklstewy/skyplot/pkg/coordinates"
)

// stateJSON is a realistic OpenSky state vector.
const stateJSON = `["a0b1c2","UAL123  ","United States",1700000000,1700000001,-100.5,40.25,10668.0,false,231.5,45.0,-1.3,null,10900.2,"1200",false,0]`

func decodeFields(t *testing.T, s string) []json.RawMessage {
	t.Helper()
	var fields []json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return fields
}

func TestDecodeState(t *testing.T) {
	t.Run("Full record", func(t *testing.T) {
		rec, err := DecodeState(decodeFields(t, stateJSON))
		if err != nil {
			t.Fatalf("DecodeState: %v", err)
		}
		if v, _ := rec.ICAO24.Get(); v != "a0b1c2" {
			t.Errorf("icao24 = %q", v)
		}
		if v, _ := rec.TimePosition.Get(); v != 1700000000 {
			t.Errorf("time_position = %d", v)
		}
		if v, _ := rec.Latitude.Get(); v != 40.25 {
			t.Errorf("lat = %v", v)
		}
		if v, ok := rec.OnGround.Get(); !ok || v {
			t.Errorf("on_ground = %v (present %v)", v, ok)
		}
		if rec.Sensors.Valid() {
			t.Error("sensors should be absent")
		}
		if v, _ := rec.PositionSource.Get(); v != SourceADSB {
			t.Errorf("position_source = %v", v)
		}
	})

	t.Run("All null", func(t *testing.T) {
		fields := decodeFields(t, `[null,null,null,null,null,null,null,null,null,null,null,null,null,null,null,null,null]`)
		rec, err := DecodeState(fields)
		if err != nil {
			t.Fatalf("DecodeState: %v", err)
		}
		if !reflect.DeepEqual(rec, RawStateRecord{}) {
			t.Errorf("expected an all-absent record, got %+v", rec)
		}
	})

	t.Run("Fractional timestamp", func(t *testing.T) {
		fields := decodeFields(t, `["a",null,null,1700000000.7,null,null,null,null,null,null,null,null,[1,2],null,null,null,2]`)
		rec, err := DecodeState(fields)
		if err != nil {
			t.Fatalf("DecodeState: %v", err)
		}
		if v, _ := rec.TimePosition.Get(); v != 1700000000 {
			t.Errorf("time_position = %d", v)
		}
		if v, _ := rec.Sensors.Get(); !reflect.DeepEqual(v, []int{1, 2}) {
			t.Errorf("sensors = %v", v)
		}
		if v, _ := rec.PositionSource.Get(); v.String() != "MLAT" {
			t.Errorf("position_source = %v", v)
		}
	})

	t.Run("Timestamp out of range", func(t *testing.T) {
		for _, ts := range []string{"1e19", "-1e19", "9223372036854775807.5"} {
			fields := decodeFields(t, `["a",null,null,null,`+ts+`,null,null,null,null,null,null,null,null,null,null,null,null]`)
			_, err := DecodeState(fields)
			var se *ShapeError
			if !errors.As(err, &se) {
				t.Fatalf("%s: Expected ShapeError, got %v", ts, err)
			}
			if se.Field != "last_contact" || se.Index != 4 {
				t.Errorf("%s: ShapeError = %+v, want field last_contact at 4", ts, se)
			}
		}
	})

	t.Run("Largest representable timestamp", func(t *testing.T) {
		fields := decodeFields(t, `["a",null,null,-9223372036854775808,null,null,null,null,null,null,null,null,null,null,null,null,null]`)
		rec, err := DecodeState(fields)
		if err != nil {
			t.Fatalf("DecodeState: %v", err)
		}
		if v, _ := rec.TimePosition.Get(); v != math.MinInt64 {
			t.Errorf("time_position = %d, want %d", v, int64(math.MinInt64))
		}
	})

	t.Run("Extended category field ignored", func(t *testing.T) {
		fields := decodeFields(t, stateJSON[:len(stateJSON)-1]+`,4]`)
		if _, err := DecodeState(fields); err != nil {
			t.Fatalf("DecodeState: %v", err)
		}
	})

	t.Run("Too short", func(t *testing.T) {
		_, err := DecodeState(decodeFields(t, `["a0b1c2","UAL123"]`))
		var se *ShapeError
		if !errors.As(err, &se) {
			t.Fatalf("Expected ShapeError, got %v", err)
		}
		if se.Length != 2 {
			t.Errorf("Length = %d, want 2", se.Length)
		}
	})

	t.Run("Wrong type", func(t *testing.T) {
		fields := decodeFields(t, `["a",null,null,null,null,"west",null,null,null,null,null,null,null,null,null,null,null]`)
		_, err := DecodeState(fields)
		var se *ShapeError
		if !errors.As(err, &se) {
			t.Fatalf("Expected ShapeError, got %v", err)
		}
		if se.Field != "long" || se.Index != 5 {
			t.Errorf("ShapeError = %+v, want field long at 5", se)
		}
	})
}

func TestNormalizeKeepsCallsignPadding(t *testing.T) {
	rec, err := DecodeState(decodeFields(t, stateJSON))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}

	rows := Normalize([]RawStateRecord{rec, {}})
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if v, _ := rows[0].Callsign.Get(); v != "UAL123  " {
		t.Errorf("callsign = %q, want the raw padded value", v)
	}
	if v, _ := rows[0].DisplayCallsign().Get(); v != "UAL123" {
		t.Errorf("display callsign = %q, want UAL123", v)
	}
	if got := Cells(rows[0])["callsign"]; got != "UAL123" {
		t.Errorf("rendered callsign = %v, want UAL123", got)
	}

	if rows[1].Callsign.Valid() || rows[1].DisplayCallsign().Valid() {
		t.Error("absent callsign should stay absent")
	}
	if got := Cells(rows[1])["callsign"]; got != NoData {
		t.Errorf("rendered absent callsign = %v, want %q", got, NoData)
	}
}

func TestProjectRows(t *testing.T) {
	rows := []TrackedAircraftRow{
		{RawStateRecord: RawStateRecord{ICAO24: Some("a"), Longitude: Some(0.0), Latitude: Some(0.0), Velocity: Some(100.0)}},
		{RawStateRecord: RawStateRecord{ICAO24: Some("b"), Longitude: Some(-68.748)}},
	}
	before := []RawStateRecord{rows[0].RawStateRecord, rows[1].RawStateRecord}

	if err := ProjectRows(rows); err != nil {
		t.Fatalf("ProjectRows: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("row count changed to %d", len(rows))
	}
	for i := range rows {
		if !reflect.DeepEqual(rows[i].RawStateRecord, before[i]) {
			t.Errorf("row %d raw fields changed", i)
		}
	}
	if x, ok := rows[0].X.Get(); !ok || x != 0 {
		t.Errorf("row a x = %v (present %v), want 0", x, ok)
	}
	if y, ok := rows[0].Y.Get(); !ok || math.Abs(y) > 1e-9 {
		t.Errorf("row a y = %v (present %v), want 0", y, ok)
	}
	if rows[1].X.Valid() || rows[1].Y.Valid() {
		t.Error("row b lacks latitude and must stay unprojected")
	}
}

func TestProjectRowsDomainError(t *testing.T) {
	rows := []TrackedAircraftRow{
		{RawStateRecord: RawStateRecord{Longitude: Some(0.0), Latitude: Some(-90.0)}},
	}
	err := ProjectRows(rows)
	var de *coordinates.DomainError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DomainError, got %v", err)
	}
}

func TestDerive(t *testing.T) {
	rows := []TrackedAircraftRow{
		{RawStateRecord: RawStateRecord{TrueTrack: Some(45.0)}},
		{RawStateRecord: RawStateRecord{}},
	}

	Derive(rows, "")

	if v, ok := rows[0].RotationAngle.Get(); !ok || v != -45 {
		t.Errorf("rotation = %v (present %v), want -45", v, ok)
	}
	if rows[1].RotationAngle.Valid() {
		t.Error("missing true track must yield missing rotation")
	}
	for i, r := range rows {
		if r.IconURL != DefaultIconURL {
			t.Errorf("row %d icon = %q", i, r.IconURL)
		}
	}

	Derive(rows, "https://example.test/plane.png")
	if rows[0].IconURL != "https://example.test/plane.png" {
		t.Errorf("custom icon not applied: %q", rows[0].IconURL)
	}
}

// TestFillOnlyMissingCells runs the whole row pipeline on a record with a null
// barometric altitude and checks nothing but that cell becomes NoData.
func TestFillOnlyMissingCells(t *testing.T) {
	withAlt, err := DecodeState(decodeFields(t, stateJSON))
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	withoutAlt := withAlt
	withoutAlt.BaroAltitude = None[float64]()

	render := func(rec RawStateRecord) map[string]any {
		rows := Normalize([]RawStateRecord{rec})
		if err := ProjectRows(rows); err != nil {
			t.Fatalf("ProjectRows: %v", err)
		}
		Derive(rows, "")
		return Cells(rows[0])
	}

	a := render(withAlt)
	b := render(withoutAlt)

	if b["baro_altitude"] != NoData {
		t.Errorf("baro_altitude = %v, want %q", b["baro_altitude"], NoData)
	}
	for _, col := range Columns() {
		if col == "baro_altitude" || col == "sensors" {
			continue
		}
		if !reflect.DeepEqual(a[col], b[col]) {
			t.Errorf("column %s changed: %v -> %v", col, a[col], b[col])
		}
	}
	for _, col := range DerivedColumns {
		if b[col] == NoData {
			t.Errorf("computed column %s must not be NoData", col)
		}
	}
}

func TestFill(t *testing.T) {
	t.Run("Empty input keeps every column", func(t *testing.T) {
		table := Fill(nil)
		if table.Len() != 0 {
			t.Errorf("Len = %d, want 0", table.Len())
		}
		for _, col := range Columns() {
			v, ok := table[col]
			if !ok || v == nil {
				t.Errorf("column %s missing or nil", col)
			}
		}
		data, err := json.Marshal(table)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		var decoded map[string][]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("Unmarshal: %v", err)
		}
		if decoded["x"] == nil {
			t.Error("empty column should encode as [] not null")
		}
	})

	t.Run("Columns are the same length", func(t *testing.T) {
		rows := []TrackedAircraftRow{{}, {}, {}}
		Derive(rows, "")
		table := Fill(rows)
		for _, col := range Columns() {
			if len(table[col]) != 3 {
				t.Errorf("column %s has %d cells, want 3", col, len(table[col]))
			}
		}
		if table["position_source"][0] != NoData {
			t.Errorf("position_source = %v", table["position_source"][0])
		}
	})
}

func TestOptionalJSON(t *testing.T) {
	type wrapper struct {
		V Optional[float64] `json:"v"`
	}

	data, err := json.Marshal(wrapper{})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"v":null}` {
		t.Errorf("absent encodes as %s", data)
	}

	var w wrapper
	if err := json.Unmarshal([]byte(`{"v":12.5}`), &w); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v, ok := w.V.Get(); !ok || v != 12.5 {
		t.Errorf("decoded %v (present %v)", v, ok)
	}
	if w.V.OrElse(0) != 12.5 || None[float64]().OrElse(7) != 7 {
		t.Error("OrElse mismatch")
	}
}
