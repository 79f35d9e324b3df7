// Package api implements the LAN command server for local execution.
//
// This package provides:
//   - POST /execute: run a command against a locally registered device
//   - GET /ws: WebSocket stream of local updates (state patches and
//     command events) for registered devices
//   - GET /devices/{id}/history: committed state history from SQLite
//   - GET /metrics: Prometheus text exposition of the process counters
//   - GET /health: liveness plus database, MQTT and InfluxDB probes
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Wire Contract
//
// /execute always answers 200 OK. The body carries either the committed
// device state or an errorCode:
//
//	{"type":"EXECUTE","deviceId":"light-1","command":"action.devices.commands.OnOff","params":{"on":true}}
//	-> {"on":true}
//	-> {"errorCode":"deviceNotFound"}
//
// # Lifecycle
//
// The server is owned by the local execution service, which starts it when
// the first eligible device registers and closes it after the idle grace.
// Start may be called again after Close.
package api
