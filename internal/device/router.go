package device

import (
	"fmt"
	"strings"
)

// Route is a command routing strategy.
type Route int

// Routing strategies.
const (
	// RoutePlain computes a patch with the command function and commits it.
	RoutePlain Route = iota
	// RouteScene emits scene activations as command events.
	RouteScene
	// RouteTransport emits media transport commands as command events.
	RouteTransport
)

func (r Route) String() string {
	switch r {
	case RoutePlain:
		return "plain"
	case RouteScene:
		return "scene"
	case RouteTransport:
		return "transport"
	default:
		return fmt.Sprintf("route(%d)", int(r))
	}
}

// CommandActivateScene is the scene activation command.
const CommandActivateScene = "action.devices.commands.ActivateScene"

const mediaCommandPrefix = "action.devices.commands.media"

// routeTable is checked in order; the first declared trait wins.
var routeTable = []struct {
	trait Trait
	route Route
}{
	{TraitScene, RouteScene},
	{TraitTransportControl, RouteTransport},
}

// RouteFor selects the routing strategy for a declared trait set.
func RouteFor(traits []Trait) Route {
	for _, entry := range routeTable {
		for _, t := range traits {
			if t == entry.trait {
				return entry.route
			}
		}
	}
	return RoutePlain
}

type routeFunc func(c *Cell, dev *Device, cmd string, params map[string]any) (State, error)

var routes = map[Route]routeFunc{
	RoutePlain:     executePlain,
	RouteScene:     executeScene,
	RouteTransport: executeTransport,
}

func executePlain(c *Cell, dev *Device, cmd string, params map[string]any) (State, error) {
	if c.execute == nil {
		return nil, ErrNoCommandFunc
	}
	patch, err := c.execute(dev, cmd, params)
	if err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		c.apply(patch, nil, SourceCommand)
	}
	return c.State(), nil
}

// executeScene only accepts scene activation. The command function is
// optional and may contribute a patch.
func executeScene(c *Cell, dev *Device, cmd string, params map[string]any) (State, error) {
	if cmd != CommandActivateScene {
		return nil, NewCommandError(CodeNotSupported)
	}
	return executeEvent(c, dev, cmd, params)
}

// executeTransport emits media commands as events. Other commands of a
// transport device (power, volume) take the plain route.
func executeTransport(c *Cell, dev *Device, cmd string, params map[string]any) (State, error) {
	if !strings.HasPrefix(cmd, mediaCommandPrefix) {
		return executePlain(c, dev, cmd, params)
	}
	return executeEvent(c, dev, cmd, params)
}

func executeEvent(c *Cell, dev *Device, cmd string, params map[string]any) (State, error) {
	if c.execute != nil {
		patch, err := c.execute(dev, cmd, params)
		if err != nil {
			return nil, err
		}
		if len(patch) > 0 {
			c.apply(patch, nil, SourceCommand)
		}
	}
	c.emitCommand(cmd, params)
	return c.State(), nil
}
