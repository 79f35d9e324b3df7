package localexec

import (
	"net"
	"sync"

	"github.com/google/uuid"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// HardwareAddrs lists the hardware addresses of the host interfaces, in
// interface order. Entries may be empty.
type HardwareAddrs func() ([]string, error)

// HostHardwareAddrs reads interface hardware addresses from the host.
func HostHardwareAddrs() ([]string, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs = append(addrs, iface.HardwareAddr)
	}
	return addrs, nil
}

// processID is the fallback identity, generated once per process.
var processID = sync.OnceValue(func() string {
	return uuid.NewString()
})

// ProxyID derives the proxy identity from the first non-zero hardware
// address reported by src. The same address always yields the same ID.
// Without a usable address it falls back to a random ID that is stable for
// the lifetime of the process.
func ProxyID(src HardwareAddrs) string {
	if src == nil {
		src = HostHardwareAddrs
	}
	addrs, err := src()
	if err != nil {
		return processID()
	}
	for _, s := range addrs {
		mac, err := net.ParseMAC(s)
		if err != nil || isZero(mac) {
			continue
		}
		return uuid.NewSHA1(uuid.NameSpaceOID, mac).String()
	}
	return processID()
}

func isZero(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}
