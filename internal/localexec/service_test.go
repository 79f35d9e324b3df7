package localexec

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

type fakeServer struct {
	mu     sync.Mutex
	starts int
	closes int
	err    error
}

func (f *fakeServer) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.starts++
	return nil
}

func (f *fakeServer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeServer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.closes
}

func testService(t *testing.T, grace time.Duration) (*Service, *fakeServer) {
	t.Helper()
	svc := New(Config{
		Host:        "127.0.0.1",
		CommandPort: 3310,
		MagicPacket: testMagic,
		IdleGrace:   grace,
		Addrs:       func() ([]string, error) { return []string{"02:42:ac:11:00:02"}, nil },
	})
	srv := &fakeServer{}
	svc.SetServer(srv)
	t.Cleanup(svc.Close)
	return svc, srv
}

func localLight(id string) *device.Device {
	return &device.Device{
		ID:           id,
		Type:         device.TypeLight,
		Traits:       []device.Trait{device.TraitOnOff},
		State:        device.State{"on": false},
		NoraSpecific: device.NoraSpecific{device.NoraLocalExecution: true},
	}
}

func onOff(_ *device.Device, cmd string, params map[string]any) (device.State, error) {
	if cmd != "action.devices.commands.OnOff" {
		return nil, device.NewCommandError(device.CodeNotSupported)
	}
	return device.State{"on": params["on"]}, nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEligible(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *device.Device)
		want   bool
	}{
		{"opted in light", func(*device.Device) {}, true},
		{"not opted in", func(d *device.Device) { delete(d.NoraSpecific, device.NoraLocalExecution) }, false},
		{"lock trait", func(d *device.Device) { d.Traits = append(d.Traits, device.TraitLockUnlock) }, false},
		{"arm trait", func(d *device.Device) { d.Traits = append(d.Traits, device.TraitArmDisarm) }, false},
		{"garage type", func(d *device.Device) { d.Type = device.TypeGarage }, false},
		{"security system type", func(d *device.Device) { d.Type = device.TypeSecuritySystem }, false},
		{"two factor", func(d *device.Device) {
			d.NoraSpecific[device.NoraTwoFactor] = map[string]any{"needsPin": true}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := localLight("light-1")
			tt.mutate(d)
			if got := Eligible(d); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestService_RegisterAdvertises(t *testing.T) {
	svc, srv := testService(t, time.Minute)
	cell := device.NewCell(localLight("light-1"), nil, onOff)

	ok, err := svc.Register(cell)
	if err != nil || !ok {
		t.Fatalf("Register() = %v, %v", ok, err)
	}
	ns := cell.Device().NoraSpecific
	if ns[device.NoraLocalDeviceID] != "light-1" || ns[device.NoraProxyID] != svc.ProxyID() {
		t.Errorf("noraSpecific = %v", ns)
	}
	if !svc.Running() || svc.DiscoveryAddr() == nil {
		t.Error("service not running after first Register")
	}
	if starts, _ := srv.counts(); starts != 1 {
		t.Errorf("server starts = %d, want 1", starts)
	}

	svc.Unregister(cell)
	ns = cell.Device().NoraSpecific
	if _, ok := ns[device.NoraProxyID]; ok {
		t.Errorf("proxyId still set after Unregister: %v", ns)
	}
	if _, ok := svc.Lookup("light-1"); ok {
		t.Error("Lookup() found unregistered device")
	}
}

func TestService_RegisterRejectsIneligible(t *testing.T) {
	svc, srv := testService(t, time.Minute)
	d := localLight("lock-1")
	d.Type = device.TypeLock
	cell := device.NewCell(d, nil, onOff)

	ok, err := svc.Register(cell)
	if err != nil || ok {
		t.Fatalf("Register() = %v, %v, want false, nil", ok, err)
	}
	if _, set := cell.Device().NoraSpecific[device.NoraProxyID]; set {
		t.Error("ineligible device advertised proxyId")
	}
	if svc.Running() {
		t.Error("service started for ineligible device")
	}
	if starts, _ := srv.counts(); starts != 0 {
		t.Errorf("server starts = %d, want 0", starts)
	}
}

func TestService_IdleGrace(t *testing.T) {
	svc, srv := testService(t, 50*time.Millisecond)
	a := device.NewCell(localLight("a"), nil, onOff)
	b := device.NewCell(localLight("b"), nil, onOff)

	for _, c := range []*device.Cell{a, b} {
		if _, err := svc.Register(c); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	svc.Unregister(a)
	time.Sleep(100 * time.Millisecond)
	if !svc.Running() {
		t.Fatal("service stopped while a device is registered")
	}

	svc.Unregister(b)
	if !svc.Running() {
		t.Fatal("service stopped before the idle grace")
	}
	eventually(t, func() bool { return !svc.Running() })
	if _, closes := srv.counts(); closes != 1 {
		t.Errorf("server closes = %d, want 1", closes)
	}

	if _, err := svc.Register(a); err != nil {
		t.Fatalf("Register() after stop error = %v", err)
	}
	if starts, _ := srv.counts(); starts != 2 || !svc.Running() {
		t.Errorf("server starts = %d, running = %v, want restart", starts, svc.Running())
	}
}

func TestService_RegisterDuringGraceKeepsRunning(t *testing.T) {
	svc, srv := testService(t, 50*time.Millisecond)
	cell := device.NewCell(localLight("a"), nil, onOff)

	if _, err := svc.Register(cell); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	svc.Unregister(cell)
	if _, err := svc.Register(cell); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if !svc.Running() {
		t.Error("service stopped although a device re-registered during the grace")
	}
	if starts, closes := srv.counts(); starts != 1 || closes != 0 {
		t.Errorf("server starts/closes = %d/%d, want 1/0", starts, closes)
	}
}

func TestService_UnregisterReplacedCell(t *testing.T) {
	tests := []struct {
		name       string
		unregister func(first, second *device.Cell) *device.Cell
		wantLive   bool
	}{
		{"stale cell leaves replacement", func(first, _ *device.Cell) *device.Cell { return first }, true},
		{"current cell removes", func(_, second *device.Cell) *device.Cell { return second }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := testService(t, time.Minute)
			first := device.NewCell(localLight("light-1"), nil, onOff)
			second := device.NewCell(localLight("light-1"), nil, onOff)
			for _, c := range []*device.Cell{first, second} {
				if _, err := svc.Register(c); err != nil {
					t.Fatalf("Register() error = %v", err)
				}
			}

			svc.Unregister(tt.unregister(first, second))

			got, ok := svc.Lookup("light-1")
			if ok != tt.wantLive {
				t.Fatalf("Lookup() found = %v, want %v", ok, tt.wantLive)
			}
			if tt.wantLive {
				if got != second {
					t.Error("Lookup() returned the replaced cell")
				}
				if _, set := second.Device().NoraSpecific[device.NoraProxyID]; !set {
					t.Error("replacement lost its proxyId")
				}
				if !svc.Running() {
					t.Error("service stopped with a live registration")
				}
			}
		})
	}
}

func TestService_ServerStartFailure(t *testing.T) {
	svc, srv := testService(t, time.Minute)
	srv.err = errors.New("address in use")
	cell := device.NewCell(localLight("a"), nil, onOff)

	ok, err := svc.Register(cell)
	if !ok || err == nil {
		t.Fatalf("Register() = %v, %v, want true with error", ok, err)
	}
	if svc.Running() {
		t.Error("service running after start failure")
	}

	srv.mu.Lock()
	srv.err = nil
	srv.mu.Unlock()
	if _, err := svc.Register(device.NewCell(localLight("b"), nil, onOff)); err != nil {
		t.Fatalf("retry Register() error = %v", err)
	}
	if !svc.Running() {
		t.Error("service not running after retry")
	}
}

func TestService_Execute(t *testing.T) {
	svc, _ := testService(t, time.Minute)
	cell := device.NewCell(localLight("light-1"), nil, onOff)
	if _, err := svc.Register(cell); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		id       string
		cmd      string
		wantCode string
	}{
		{"turns on", "light-1", "action.devices.commands.OnOff", ""},
		{"unknown device", "missing", "action.devices.commands.OnOff", device.CodeDeviceNotFound},
		{"unsupported command", "light-1", "action.devices.commands.Dock", device.CodeNotSupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state, err := svc.Execute(context.Background(), tt.id, tt.cmd, map[string]any{"on": true})
			if tt.wantCode != "" {
				if device.ErrorCode(err) != tt.wantCode {
					t.Errorf("error = %v, want code %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if state["on"] != true {
				t.Errorf("state = %v, want on=true", state)
			}
		})
	}
}

func TestService_CloseRejectsRegister(t *testing.T) {
	svc, srv := testService(t, time.Minute)
	if _, err := svc.Register(device.NewCell(localLight("a"), nil, onOff)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	svc.Close()

	if svc.Running() {
		t.Error("service running after Close")
	}
	if _, closes := srv.counts(); closes != 1 {
		t.Errorf("server closes = %d, want 1", closes)
	}
	if _, err := svc.Register(device.NewCell(localLight("b"), nil, onOff)); !errors.Is(err, ErrClosed) {
		t.Errorf("Register() after Close error = %v, want ErrClosed", err)
	}
}
