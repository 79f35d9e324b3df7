package schema

import (
	"strings"

	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// Command names.
const (
	CmdOnOff              = "action.devices.commands.OnOff"
	CmdBrightnessAbsolute = "action.devices.commands.BrightnessAbsolute"
	CmdColorAbsolute      = "action.devices.commands.ColorAbsolute"
	CmdSetpoint           = "action.devices.commands.ThermostatTemperatureSetpoint"
	CmdSetpointRange      = "action.devices.commands.ThermostatTemperatureSetRange"
	CmdThermostatSetMode  = "action.devices.commands.ThermostatSetMode"
	CmdOpenClose          = "action.devices.commands.OpenClose"
	CmdSetVolume          = "action.devices.commands.setVolume"
	CmdVolumeRelative     = "action.devices.commands.volumeRelative"
	CmdMute               = "action.devices.commands.mute"
	CmdSetFanSpeed        = "action.devices.commands.SetFanSpeed"
	CmdLockUnlock         = "action.devices.commands.LockUnlock"
	CmdArmDisarm          = "action.devices.commands.ArmDisarm"
	CmdActivateScene      = device.CommandActivateScene
)

type commandFunc func(d *device.Device, params map[string]any) (device.State, error)

type commandSpec struct {
	trait device.Trait
	fn    commandFunc
}

var commands = map[string]commandSpec{
	CmdOnOff:              {device.TraitOnOff, copyParam("on", "on")},
	CmdBrightnessAbsolute: {device.TraitBrightness, copyParam("brightness", "brightness")},
	CmdColorAbsolute:      {device.TraitColorSetting, colorAbsolute},
	CmdSetpoint:           {device.TraitTemperature, copyParam("thermostatTemperatureSetpoint", "thermostatTemperatureSetpoint")},
	CmdSetpointRange:      {device.TraitTemperature, setpointRange},
	CmdThermostatSetMode:  {device.TraitTemperature, copyParam("thermostatMode", "thermostatMode")},
	CmdOpenClose:          {device.TraitOpenClose, openClose},
	CmdSetVolume:          {device.TraitVolume, copyParam("volumeLevel", "currentVolume")},
	CmdVolumeRelative:     {device.TraitVolume, volumeRelative},
	CmdMute:               {device.TraitVolume, copyParam("mute", "isMuted")},
	CmdSetFanSpeed:        {device.TraitFanSpeed, setFanSpeed},
	CmdLockUnlock:         {device.TraitLockUnlock, toggle("lock", "isLocked", "alreadyLocked", "alreadyUnlocked")},
	CmdArmDisarm:          {device.TraitArmDisarm, armDisarm},
	CmdActivateScene:      {device.TraitScene, noPatch},
}

// Execute maps a command to a state patch for d.
//
// The command must belong to a trait the device declares; otherwise a
// device.CommandError with device.CodeNotSupported is returned. Media
// transport commands produce no patch.
func Execute(d *device.Device, cmd string, params map[string]any) (device.State, error) {
	handler, ok := commands[cmd]
	if !ok {
		if d.HasTrait(device.TraitTransportControl) && isMediaCommand(cmd) {
			return nil, nil
		}
		return nil, device.NewCommandError(device.CodeNotSupported)
	}
	if !d.HasTrait(handler.trait) {
		return nil, device.NewCommandError(device.CodeNotSupported)
	}
	return handler.fn(d, params)
}

func isMediaCommand(cmd string) bool {
	return strings.HasPrefix(cmd, "action.devices.commands.media")
}

func copyParam(param, field string) commandFunc {
	return func(_ *device.Device, params map[string]any) (device.State, error) {
		v, ok := params[param]
		if !ok {
			return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing " + param}
		}
		return device.State{field: v}, nil
	}
}

func noPatch(*device.Device, map[string]any) (device.State, error) {
	return nil, nil
}

func colorAbsolute(_ *device.Device, params map[string]any) (device.State, error) {
	color, ok := params["color"].(map[string]any)
	if !ok {
		return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing color"}
	}
	patch := make(map[string]any, 1)
	for _, key := range []string{"spectrumRGB", "spectrumRgb", "spectrumHSV", "spectrumHsv", "temperature", "temperatureK"} {
		v, has := color[key]
		if !has {
			continue
		}
		switch key {
		case "spectrumRGB":
			key = "spectrumRgb"
		case "spectrumHSV":
			key = "spectrumHsv"
		case "temperature":
			key = "temperatureK"
		}
		patch[key] = v
	}
	return device.State{"color": patch}, nil
}

func setpointRange(_ *device.Device, params map[string]any) (device.State, error) {
	patch := device.State{}
	if v, ok := params["thermostatTemperatureSetpointHigh"]; ok {
		patch["thermostatTemperatureSetpointHigh"] = v
	}
	if v, ok := params["thermostatTemperatureSetpointLow"]; ok {
		patch["thermostatTemperatureSetpointLow"] = v
	}
	return patch, nil
}

func openClose(_ *device.Device, params map[string]any) (device.State, error) {
	pct, ok := params["openPercent"]
	if !ok {
		return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing openPercent"}
	}
	if dir, has := params["openDirection"]; has {
		return device.State{"openState": []any{
			map[string]any{"openDirection": dir, "openPercent": pct},
		}}, nil
	}
	return device.State{"openPercent": pct}, nil
}

func volumeRelative(d *device.Device, params map[string]any) (device.State, error) {
	steps, ok := number(params["relativeSteps"])
	if !ok {
		return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing relativeSteps"}
	}
	current, _ := number(d.State["currentVolume"])
	next := current + steps
	if next < 0 {
		next = 0
	}
	if next > 100 {
		next = 100
	}
	return device.State{"currentVolume": next}, nil
}

func setFanSpeed(_ *device.Device, params map[string]any) (device.State, error) {
	if v, ok := params["fanSpeedPercent"]; ok {
		return device.State{"currentFanSpeedPercent": v}, nil
	}
	if v, ok := params["fanSpeed"]; ok {
		return device.State{"currentFanSpeedSetting": v}, nil
	}
	return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing fan speed"}
}

// toggle maps a boolean parameter onto a field and rejects no-op requests
// with the matching already-in-state code.
func toggle(param, field, alreadyTrue, alreadyFalse string) commandFunc {
	return func(d *device.Device, params map[string]any) (device.State, error) {
		want, ok := params[param].(bool)
		if !ok {
			return nil, &device.CommandError{Code: device.CodeProtocolError, Message: "missing " + param}
		}
		if current, ok := d.State[field].(bool); ok && current == want {
			if want {
				return nil, device.NewCommandError(alreadyTrue)
			}
			return nil, device.NewCommandError(alreadyFalse)
		}
		return device.State{field: want}, nil
	}
}

func armDisarm(d *device.Device, params map[string]any) (device.State, error) {
	patch, err := toggle("arm", "isArmed", "alreadyArmed", "alreadyDisarmed")(d, params)
	if err != nil {
		return nil, err
	}
	if level, ok := params["armLevel"]; ok {
		patch["currentArmLevel"] = level
	}
	return patch, nil
}
