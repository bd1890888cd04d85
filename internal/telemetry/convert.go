// Package telemetry turns device telemetry uplinks into InfluxDB
// line-protocol records and runs the write-through to the configured
// database.
package telemetry

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/devlink-io/devlink/internal/wire"
)

// DefaultMeasurement is used when the payload does not name one.
const DefaultMeasurement = "telemetry"

// frame is the decoded shape of a telemetry publish. Devices send a CBOR
// map of field values, optionally naming the measurement, tags and a unix
// timestamp in seconds.
type frame struct {
	Measurement string            `cbor:"measurement,omitempty"`
	Tags        map[string]string `cbor:"tags,omitempty"`
	Fields      map[string]any    `cbor:"fields,omitempty"`
	Timestamp   int64             `cbor:"timestamp,omitempty"`
}

// ToLineProtocol converts one CBOR telemetry payload into a line-protocol
// record. The sending device becomes the "device" tag. A flat map without
// the envelope keys is accepted and treated as the field set.
func ToLineProtocol(deviceID string, payload []byte) (string, error) {
	var f frame
	if err := wire.Unmarshal(payload, &f); err != nil || len(f.Fields) == 0 {
		// Flat form: the whole map is the field set.
		var flat map[string]any
		if err := wire.Unmarshal(payload, &flat); err != nil {
			return "", fmt.Errorf("decode telemetry: %w", err)
		}
		f = frame{Fields: flat}
	}

	if len(f.Fields) == 0 {
		return "", fmt.Errorf("telemetry carries no fields")
	}

	measurement := f.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}

	tags := map[string]string{"device": deviceID}
	for k, v := range f.Tags {
		tags[k] = v
	}

	ts := time.Now()
	if f.Timestamp > 0 {
		ts = time.Unix(f.Timestamp, 0)
	}

	fields := make(map[string]any, len(f.Fields))
	for k, v := range f.Fields {
		fields[k] = normalizeField(v)
	}

	p := write.NewPoint(measurement, tags, fields, ts)
	return write.PointToLineProtocol(p, time.Nanosecond), nil
}

// normalizeField maps CBOR decode artifacts onto line-protocol field types.
func normalizeField(v any) any {
	switch n := v.(type) {
	case uint64:
		return int64(n)
	case []byte:
		return string(n)
	default:
		return v
	}
}
