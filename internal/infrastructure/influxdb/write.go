package influxdb

import (
	"sort"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// MeasurementDeviceState is the measurement committed states are written to.
const MeasurementDeviceState = "device_state"

// maxFieldDepth bounds how far nested state objects are flattened.
const maxFieldDepth = 4

// WriteCommit writes the numeric and boolean fields of a committed state as
// one point tagged with the device and the commit source. Commits without
// such fields are skipped.
func (c *Client) WriteCommit(commit device.Commit) {
	if !c.IsConnected() {
		return
	}
	fields := Fields(commit.State)
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"device_id": commit.DeviceID,
			"source":    string(commit.Source),
		},
		fields,
		commit.Timestamp,
	)
	c.writer.WritePoint(point)
}

// Observer returns a commit observer that writes every commit.
func (c *Client) Observer() func(device.Commit) {
	return c.WriteCommit
}

// Fields flattens state into line protocol fields. Nested objects become
// dotted keys; strings, arrays and nulls are dropped.
//
// Example:
//
//	Fields(device.State{"on": true, "color": map[string]any{"temperatureK": 2700.0}})
//	// map[color.temperatureK:2700 on:true]
func Fields(state device.State) map[string]any {
	out := make(map[string]any)
	flatten(out, "", state, 0)
	return out
}

func flatten(out map[string]any, prefix string, m map[string]any, depth int) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := k
		if prefix != "" {
			name = prefix + "." + k
		}
		switch v := m[k].(type) {
		case bool, float64, float32, int, int64:
			out[name] = v
		case map[string]any:
			if depth < maxFieldDepth {
				flatten(out, name, v, depth+1)
			}
		case device.State:
			if depth < maxFieldDepth {
				flatten(out, name, v, depth+1)
			}
		}
	}
}
