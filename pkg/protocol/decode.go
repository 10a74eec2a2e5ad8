package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// errNotObject is returned when a frame is valid JSON but not an object.
var errNotObject = errors.New("expected a JSON object")

// fields is a decoded JSON object whose members are decoded one at a time.
// A member that fails to decode is recorded in dropped and left at its zero
// value, so one bad optional field never costs the rest of the message.
type fields struct {
	raw     map[string]json.RawMessage
	dropped []string
}

func decodeFields(data []byte) (*fields, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if !json.Valid(trimmed) {
			return nil, errors.New("invalid JSON")
		}
		return nil, errNotObject
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	return &fields{raw: raw}, nil
}

func (f *fields) drop(key string) {
	f.dropped = append(f.dropped, key)
}

// lookup returns the member and whether it carries a value. Absent members
// and explicit nulls both read as "no value" without being dropped.
func (f *fields) lookup(key string) (json.RawMessage, bool) {
	v, ok := f.raw[key]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (f *fields) float(key string) *float64 {
	v, ok := f.lookup(key)
	if !ok {
		return nil
	}
	var out float64
	if err := json.Unmarshal(v, &out); err != nil {
		f.drop(key)
		return nil
	}
	return &out
}

func (f *fields) flag(key string) *bool {
	v, ok := f.lookup(key)
	if !ok {
		return nil
	}
	var out bool
	if err := json.Unmarshal(v, &out); err != nil {
		f.drop(key)
		return nil
	}
	return &out
}

// count decodes a signed integer. Integral floats such as 12.0 or 1e2 are
// accepted since most JSON encoders on the client side emit doubles.
func (f *fields) count(key string) int64 {
	v, ok := f.lookup(key)
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return n
	}
	var x float64
	if err := json.Unmarshal(v, &x); err != nil || x != math.Trunc(x) ||
		x < math.MinInt64 || x >= math.MaxInt64 {
		f.drop(key)
		return 0
	}
	return int64(x)
}

func (f *fields) seq(key string) uint64 {
	v, ok := f.lookup(key)
	if !ok {
		return 0
	}
	var n uint64
	if err := json.Unmarshal(v, &n); err == nil {
		return n
	}
	var x float64
	if err := json.Unmarshal(v, &x); err != nil || x != math.Trunc(x) ||
		x < 0 || x >= math.MaxUint64 {
		f.drop(key)
		return 0
	}
	return uint64(x)
}

// UnmarshalJSON decodes each member on its own. Only a frame that is not a
// JSON object fails; malformed members are listed in Dropped.
func (r *SensorReading) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	simulation := f.flag("simulation")
	*r = SensorReading{
		Latitude:          f.float("latitude"),
		Longitude:         f.float("longitude"),
		NearbyDeviceCount: f.count("nearby_device_count"),
		HRVValue:          f.float("hrv_value"),
		IsHome:            f.flag("is_home"),
		Simulation:        simulation != nil && *simulation,
		Seq:               f.seq("seq"),
	}
	r.Dropped = f.dropped
	return nil
}

// UnmarshalJSON decodes each member on its own, like SensorReading.
func (u *UpdateRequest) UnmarshalJSON(data []byte) error {
	f, err := decodeFields(data)
	if err != nil {
		return err
	}
	*u = UpdateRequest{
		IsHome:      f.flag("is_home"),
		DeviceCount: f.count("device_count"),
		HRV:         f.float("hrv"),
	}
	u.Dropped = f.dropped
	return nil
}

// ParseUpdateRequest decodes a POST /update body.
func ParseUpdateRequest(data []byte) (UpdateRequest, error) {
	var u UpdateRequest
	if err := json.Unmarshal(data, &u); err != nil {
		return UpdateRequest{}, fmt.Errorf("failed to parse update: %w", err)
	}
	return u, nil
}
