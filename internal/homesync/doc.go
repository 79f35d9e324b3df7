// Package homesync glues a device to the rest of the system.
//
// A Handle owns one device.Cell and wires it to:
//
//   - a shared connection.Connection (acquired from a connection.Manager),
//     whose queue receives report-state, sync and notify jobs;
//   - the remote store, for the device's state record, async command
//     side-channel and presence flag;
//   - the local execution service, when the device is eligible.
//
// All store traffic for a handle runs on one goroutine, so connection
// changes and state mirroring are processed in order.
//
// Example:
//
//	h, err := homesync.Open(homesync.Options{
//	    Device:      dev,
//	    Manager:     manager,
//	    Credentials: auth.Password{Email: email, Password: pw},
//	    Group:       "home",
//	    Validator:   schema.ValidatorFor(dev.Traits),
//	    Execute:     schema.Execute,
//	})
//	defer h.Close()
//	h.UpdateState(device.State{"on": true})
package homesync
