// Package influxdb writes device state telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every committed device
// state becomes one point in the device_state measurement, tagged with the
// device ID and the commit source, carrying the state's numeric and boolean
// fields.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	opts.Observers = append(opts.Observers, client.Observer())
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are non-blocking and
// batched according to batch_size and flush_interval; write failures are
// delivered to the SetOnError callback.
package influxdb
