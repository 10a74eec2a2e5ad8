package protocol

// Float returns a pointer to v, for building optional reading fields.
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool {
	return &v
}

// NewLocationReading creates a reading carrying coordinates and a crowd count.
func NewLocationReading(lat, lon float64, devices int64) SensorReading {
	return SensorReading{
		Latitude:          Float(lat),
		Longitude:         Float(lon),
		NearbyDeviceCount: devices,
	}
}

// WithHRV returns a copy of r carrying the given HRV value.
func (r SensorReading) WithHRV(hrv float64) SensorReading {
	r.HRVValue = Float(hrv)
	return r
}

// WithHomeHint returns a copy of r carrying the client-side geofence hint.
func (r SensorReading) WithHomeHint(home bool) SensorReading {
	r.IsHome = Bool(home)
	return r
}
