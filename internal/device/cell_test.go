package device

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homesync/internal/command"
	"github.com/nerrad567/gray-logic-homesync/internal/merge"
)

type report struct {
	deviceID string
	patch    State
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingReporter) ReportState(deviceID string, patch State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{deviceID: deviceID, patch: patch})
}

func (r *recordingReporter) all() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

// onOffValidator accepts states whose "on" field, when present, is a bool.
func onOffValidator(mode ValidationMode, s State) bool {
	on, ok := s["on"]
	if !ok {
		return mode == ValidateUpdate
	}
	_, isBool := on.(bool)
	return isBool
}

func onOffCommand(_ *Device, cmd string, params map[string]any) (State, error) {
	switch cmd {
	case "action.devices.commands.OnOff":
		return State{"on": params["on"]}, nil
	default:
		return nil, NewCommandError(CodeNotSupported)
	}
}

func newLight(state State) *Device {
	return &Device{
		ID:     "light-1",
		Type:   TypeLight,
		Traits: []Trait{TraitOnOff},
		Name:   Name{Name: "Kitchen"},
		State:  state,
	}
}

func TestCell_UpdateStateReportsOncePerChange(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, onOffCommand)
	rep := &recordingReporter{}
	cell.SetReporter(rep)
	cell.Attach()
	cell.MarkSynced()

	if !cell.UpdateState(State{"on": "true"}) {
		t.Fatal("UpdateState() = false, want true")
	}

	if got := cell.State(); !reflect.DeepEqual(got, State{"on": true}) {
		t.Errorf("State() = %v, want {on:true}", got)
	}

	reports := rep.all()
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if reports[0].deviceID != "light-1" {
		t.Errorf("report device = %q, want light-1", reports[0].deviceID)
	}
	if !reflect.DeepEqual(reports[0].patch, State{"on": true}) {
		t.Errorf("report patch = %v, want {on:true}", reports[0].patch)
	}

	// Same update again is a no-op.
	if cell.UpdateState(State{"on": "true"}) {
		t.Error("second UpdateState() = true, want false")
	}
	if len(rep.all()) != 1 {
		t.Errorf("reports after no-op = %d, want 1", len(rep.all()))
	}
}

func TestCell_UpdateStateWithoutSyncDoesNotReport(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, onOffCommand)
	rep := &recordingReporter{}
	cell.SetReporter(rep)
	cell.Attach()

	if !cell.UpdateState(State{"on": true}) {
		t.Fatal("UpdateState() = false, want true")
	}
	if len(rep.all()) != 0 {
		t.Errorf("reports = %d, want 0 while not synced", len(rep.all()))
	}
	if cell.State()["on"] != true {
		t.Errorf("State() = %v, want on=true", cell.State())
	}
}

func TestCell_FullValidationDiscardsWholeUpdate(t *testing.T) {
	// Brightness above zero requires the light to be on.
	validate := func(mode ValidationMode, s State) bool {
		if mode == ValidateUpdate {
			return true
		}
		b, _ := s["brightness"].(float64)
		on, _ := s["on"].(bool)
		return b == 0 || on
	}

	cell := NewCell(newLight(State{"on": false, "brightness": 0.0, "color": "white"}), validate, nil)

	if cell.UpdateState(State{"brightness": 50.0, "color": "red"}) {
		t.Error("UpdateState() = true, want false")
	}
	want := State{"on": false, "brightness": 0.0, "color": "white"}
	if got := cell.State(); !reflect.DeepEqual(got, want) {
		t.Errorf("State() = %v, want unchanged %v", got, want)
	}
}

func TestCell_Mapping(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, nil)

	if !cell.UpdateState(State{"power": true}, merge.Rename{From: "power", To: "on"}) {
		t.Fatal("UpdateState() = false, want true")
	}
	if cell.State()["on"] != true {
		t.Errorf("State() = %v, want on=true", cell.State())
	}
}

func TestCell_HandleRemote(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, nil)
	cell.Attach()

	if cell.HandleRemote(RemoteUpdate{State: State{"on": true}, Origin: OriginServer, Timestamp: 10}) {
		t.Error("HandleRemote() before sync = true, want false")
	}

	cell.MarkSynced()

	tests := []struct {
		name    string
		update  RemoteUpdate
		applied bool
		wantOn  bool
	}{
		{"client echo", RemoteUpdate{State: State{"on": true}, Origin: OriginClient, Timestamp: 11}, false, false},
		{"server update", RemoteUpdate{State: State{"on": true}, Origin: OriginServer, Timestamp: 12}, true, true},
		{"stale timestamp", RemoteUpdate{State: State{"on": false}, Origin: OriginServer, Timestamp: 12}, false, true},
		{"newer timestamp", RemoteUpdate{State: State{"on": false}, Origin: OriginServer, Timestamp: 13}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cell.HandleRemote(tt.update); got != tt.applied {
				t.Errorf("HandleRemote() = %v, want %v", got, tt.applied)
			}
			if on := cell.State()["on"]; on != tt.wantOn {
				t.Errorf("on = %v, want %v", on, tt.wantOn)
			}
		})
	}
}

func TestCell_HandleRemoteDoesNotReport(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, nil)
	rep := &recordingReporter{}
	cell.SetReporter(rep)
	cell.Attach()
	cell.MarkSynced()

	cell.HandleRemote(RemoteUpdate{State: State{"on": true}, Origin: OriginServer, Timestamp: 1})

	if len(rep.all()) != 0 {
		t.Errorf("reports = %d, want 0 for remote updates", len(rep.all()))
	}
}

func TestCell_ExecuteCommandEmitsUpdate(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, onOffCommand)
	updates, cancel := cell.Updates()
	defer cancel()

	var commits []Commit
	cell.OnCommit(func(c Commit) { commits = append(commits, c) })

	state, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", map[string]any{"on": true})
	if err != nil {
		t.Fatalf("ExecuteCommand() error = %v", err)
	}
	if state["on"] != true {
		t.Errorf("ExecuteCommand() state = %v, want on=true", state)
	}

	select {
	case u := <-updates:
		if u.Kind != UpdateKindState || u.State["on"] != true {
			t.Errorf("update = %+v, want state on=true", u)
		}
	case <-time.After(time.Second):
		t.Fatal("no local update emitted")
	}

	if len(commits) != 1 || commits[0].Source != SourceCommand {
		t.Errorf("commits = %+v, want one from %s", commits, SourceCommand)
	}
}

func TestCell_ExecuteCommandError(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, onOffCommand)

	_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.BrightnessAbsolute", nil)

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("ExecuteCommand() error = %v, want *CommandError", err)
	}
	if cmdErr.Code != CodeNotSupported {
		t.Errorf("Code = %q, want %q", cmdErr.Code, CodeNotSupported)
	}
}

func TestCell_ExecuteCommandWithoutFunc(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), onOffValidator, nil)

	_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", nil)
	if !errors.Is(err, ErrNoCommandFunc) {
		t.Errorf("ExecuteCommand() error = %v, want ErrNoCommandFunc", err)
	}
}

func newAsyncLight() *Device {
	d := newLight(State{"on": false})
	d.NoraSpecific = NoraSpecific{NoraAsyncCommandExecution: true}
	return d
}

func TestCell_ExecuteAsync(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(c *command.Correlator, id string)
		wantCode string
		wantOn   bool
	}{
		{
			name: "state response",
			respond: func(c *command.Correlator, id string) {
				c.Deliver(id, command.Response{State: map[string]any{"on": true}})
			},
			wantOn: true,
		},
		{
			name: "invalid state response is filtered",
			respond: func(c *command.Correlator, id string) {
				c.Deliver(id, command.Response{State: map[string]any{"on": "maybe", "bogus": 1}})
			},
			wantOn: true,
		},
		{
			name: "error code",
			respond: func(c *command.Correlator, id string) {
				c.Deliver(id, command.Response{ErrorCode: CodeAlreadyInState})
			},
			wantCode: CodeAlreadyInState,
		},
		{
			name:     "no response",
			respond:  func(*command.Correlator, string) {},
			wantCode: command.ErrorCodeNotResponding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			correlator := command.NewCorrelator(50 * time.Millisecond)
			cell := NewCell(newAsyncLight(), onOffValidator, nil)

			var issued, retracted []string
			cell.SetAsync(correlator, func(_ context.Context, deviceID, commandID, cmd string, _ map[string]any) (func(), error) {
				issued = append(issued, cmd)
				go tt.respond(correlator, commandID)
				return func() { retracted = append(retracted, commandID) }, nil
			})

			_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", map[string]any{"on": true})

			if len(issued) != 1 {
				t.Fatalf("issued = %d commands, want 1", len(issued))
			}
			if len(retracted) != 1 {
				t.Errorf("retracted = %d records, want 1", len(retracted))
			}
			if tt.wantCode != "" {
				if code := ErrorCode(err); code != tt.wantCode {
					t.Errorf("ErrorCode() = %q, want %q (err %v)", code, tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExecuteCommand() error = %v", err)
			}
			if on := cell.State()["on"]; on != tt.wantOn {
				t.Errorf("on = %v, want %v", on, tt.wantOn)
			}
			if _, has := cell.State()["bogus"]; has {
				t.Error("unknown field from response was committed")
			}
		})
	}
}

func TestCell_ExecuteAsyncIssueFailure(t *testing.T) {
	correlator := command.NewCorrelator(time.Second)
	cell := NewCell(newAsyncLight(), onOffValidator, nil)
	issueErr := errors.New("store offline")
	cell.SetAsync(correlator, func(context.Context, string, string, string, map[string]any) (func(), error) {
		return nil, issueErr
	})

	_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", nil)
	if !errors.Is(err, issueErr) {
		t.Errorf("ExecuteCommand() error = %v, want %v", err, issueErr)
	}
	if correlator.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", correlator.Pending())
	}
}

func TestCell_ExecuteAsyncWithoutIssuer(t *testing.T) {
	cell := NewCell(newAsyncLight(), onOffValidator, nil)

	_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", nil)
	if !errors.Is(err, ErrNoAsyncIssuer) {
		t.Errorf("ExecuteCommand() error = %v, want ErrNoAsyncIssuer", err)
	}
}

func TestCell_SceneRoute(t *testing.T) {
	scene := &Device{
		ID:     "scene-1",
		Type:   TypeScene,
		Traits: []Trait{TraitScene},
		Name:   Name{Name: "Movie night"},
		State:  State{},
	}
	cell := NewCell(scene, nil, nil)
	if cell.Route() != RouteScene {
		t.Fatalf("Route() = %s, want scene", cell.Route())
	}

	updates, cancel := cell.Updates()
	defer cancel()

	if _, err := cell.ExecuteCommand(context.Background(), CommandActivateScene, map[string]any{"deactivate": false}); err != nil {
		t.Fatalf("ExecuteCommand() error = %v", err)
	}

	select {
	case u := <-updates:
		if u.Kind != UpdateKindCommand || u.Command != CommandActivateScene {
			t.Errorf("update = %+v, want ActivateScene command event", u)
		}
		if u.Params["deactivate"] != false {
			t.Errorf("params = %v, want deactivate=false", u.Params)
		}
	case <-time.After(time.Second):
		t.Fatal("no command event emitted")
	}

	_, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", nil)
	if ErrorCode(err) != CodeNotSupported {
		t.Errorf("non-scene command error = %v, want %s", err, CodeNotSupported)
	}
}

func TestCell_TransportRoute(t *testing.T) {
	tv := &Device{
		ID:     "tv-1",
		Type:   TypeTV,
		Traits: []Trait{TraitOnOff, TraitTransportControl},
		Name:   Name{Name: "Lounge TV"},
		State:  State{"on": false},
	}
	tvCommand := func(d *Device, cmd string, params map[string]any) (State, error) {
		if cmd == "action.devices.commands.mediaNext" {
			return nil, nil
		}
		return onOffCommand(d, cmd, params)
	}
	cell := NewCell(tv, onOffValidator, tvCommand)
	updates, cancel := cell.Updates()
	defer cancel()

	if _, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.mediaNext", nil); err != nil {
		t.Fatalf("mediaNext error = %v", err)
	}
	u := <-updates
	if u.Kind != UpdateKindCommand || u.Command != "action.devices.commands.mediaNext" {
		t.Errorf("update = %+v, want mediaNext command event", u)
	}

	state, err := cell.ExecuteCommand(context.Background(), "action.devices.commands.OnOff", map[string]any{"on": true})
	if err != nil {
		t.Fatalf("OnOff error = %v", err)
	}
	if state["on"] != true {
		t.Errorf("state = %v, want on=true", state)
	}
}

func TestRouteFor(t *testing.T) {
	tests := []struct {
		traits []Trait
		want   Route
	}{
		{[]Trait{TraitOnOff, TraitBrightness}, RoutePlain},
		{[]Trait{TraitScene}, RouteScene},
		{[]Trait{TraitOnOff, TraitTransportControl}, RouteTransport},
		{[]Trait{TraitTransportControl, TraitScene}, RouteScene},
		{nil, RoutePlain},
	}

	for _, tt := range tests {
		if got := RouteFor(tt.traits); got != tt.want {
			t.Errorf("RouteFor(%v) = %s, want %s", tt.traits, got, tt.want)
		}
	}
}

func TestCell_UpdatesCancelClosesChannel(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), nil, nil)
	updates, cancel := cell.Updates()
	cancel()
	cancel()

	if _, ok := <-updates; ok {
		t.Error("channel still open after cancel")
	}

	// Commits after cancel must not panic.
	cell.UpdateState(State{"on": true})
}

func TestCell_DetachResetsStatus(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), nil, nil)
	cell.Attach()
	cell.MarkSynced()
	cell.MarkUnsynced()
	if cell.Status() != StatusAttached {
		t.Errorf("Status() = %s, want attached", cell.Status())
	}
	cell.Detach()
	if cell.Status() != StatusDetached {
		t.Errorf("Status() = %s, want detached", cell.Status())
	}
}

type countingLogger struct {
	noopLogger
	mu    sync.Mutex
	debug int
}

func (l *countingLogger) Debug(string, ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug++
}

func TestCell_SetLoggerWhileDroppingUpdates(t *testing.T) {
	cell := NewCell(newLight(State{"on": false}), nil, nil)
	_, cancel := cell.Updates()
	defer cancel()

	logger := &countingLogger{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			cell.SetLogger(logger)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2*updateBuffer; i++ {
			cell.UpdateState(State{"on": i%2 == 0})
		}
	}()
	wg.Wait()

	cell.UpdateState(State{"on": true})
	cell.UpdateState(State{"on": false})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.debug == 0 {
		t.Error("no dropped updates logged, want the buffer overflow reported")
	}
}
