package schema

import (
	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// check reports whether a field value is acceptable.
type check func(v any) bool

type field struct {
	name     string
	required bool
	check    check
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func isNumber(v any) bool {
	_, ok := number(v)
	return ok
}

func inRange(lo, hi float64) check {
	return func(v any) bool {
		f, ok := number(v)
		return ok && f >= lo && f <= hi
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// colorValue accepts the three color representations.
func colorValue(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for key, val := range m {
		switch key {
		case "spectrumRgb", "spectrumRGB":
			if !inRange(0, 0xFFFFFF)(val) {
				return false
			}
		case "temperatureK":
			if !inRange(0, 20000)(val) {
				return false
			}
		case "spectrumHsv":
			hsv, ok := val.(map[string]any)
			if !ok {
				return false
			}
			for component, c := range hsv {
				switch component {
				case "hue":
					if !inRange(0, 360)(c) {
						return false
					}
				case "saturation", "value":
					if !inRange(0, 1)(c) {
						return false
					}
				default:
					return false
				}
			}
		case "name":
			if !isString(val) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// keyedItems accepts an array of objects that each carry key.
func keyedItems(key string) check {
	return func(v any) bool {
		items, ok := v.([]any)
		if !ok {
			return false
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				return false
			}
			if _, has := item[key]; !has {
				return false
			}
		}
		return true
	}
}

func percent() check { return inRange(0, 100) }

// traitFields lists the state fields each trait defines.
var traitFields = map[device.Trait][]field{
	device.TraitOnOff: {
		{name: "on", required: true, check: isBool},
	},
	device.TraitBrightness: {
		{name: "brightness", required: true, check: percent()},
	},
	device.TraitColorSetting: {
		{name: "color", required: true, check: colorValue},
	},
	device.TraitTemperature: {
		{name: "thermostatMode", required: true, check: isString},
		{name: "thermostatTemperatureSetpoint", check: isNumber},
		{name: "thermostatTemperatureAmbient", check: isNumber},
		{name: "thermostatTemperatureSetpointHigh", check: isNumber},
		{name: "thermostatTemperatureSetpointLow", check: isNumber},
		{name: "thermostatHumidityAmbient", check: percent()},
	},
	device.TraitOpenClose: {
		{name: "openPercent", check: percent()},
		{name: "openState", check: keyedItems("openDirection")},
	},
	device.TraitVolume: {
		{name: "currentVolume", required: true, check: percent()},
		{name: "isMuted", check: isBool},
	},
	device.TraitFanSpeed: {
		{name: "currentFanSpeedPercent", check: percent()},
		{name: "currentFanSpeedSetting", check: isString},
	},
	device.TraitSensorState: {
		{name: "currentSensorStateData", required: true, check: keyedItems("name")},
	},
	device.TraitLockUnlock: {
		{name: "isLocked", required: true, check: isBool},
		{name: "isJammed", check: isBool},
	},
	device.TraitArmDisarm: {
		{name: "isArmed", required: true, check: isBool},
		{name: "currentArmLevel", check: isString},
		{name: "exitAllowance", check: isNumber},
	},
	device.TraitScene:            nil,
	device.TraitTransportControl: nil,
}

// commonFields apply to every device.
var commonFields = []field{
	{name: "online", check: isBool},
}
