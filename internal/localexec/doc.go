// Package localexec lets clients on the local network discover this process
// and execute commands against opted-in devices without the cloud round trip.
//
// Three pieces make up the service:
//
//   - Identity: a proxy ID derived from the first non-zero hardware address
//     of the host, stable across restarts.
//   - Discovery: a UDP responder that answers an exact magic packet with a
//     CBOR-encoded Reply carrying the proxy ID and the command port.
//   - Registry: the set of eligible device cells the LAN command server may
//     address. The discovery responder and the command server run only while
//     at least one device is registered, and stop after an idle grace once
//     the last one leaves.
//
// Devices whose traits or type make a local bypass unsafe (locks, garages,
// alarm panels, anything behind a second factor) are never registered.
package localexec
