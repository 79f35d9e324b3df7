package merge

import "strings"

// defaultPrecision is the number of decimal places numeric fields are rounded
// to when no explicit precision is configured for their path.
const defaultPrecision = 1

// Rename maps an incoming update field onto a state field.
//
// From is matched against the dotted path of the incoming field. To replaces
// the last path segment, so renames never move a field to another level.
type Rename struct {
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

// Options tunes how SafeUpdate treats individual fields.
type Options struct {
	// Mapping renames incoming fields before they are resolved against state.
	Mapping []Rename

	// Precision holds decimal places per dotted field path. Array items are
	// addressed through their container, e.g. "openState.openPercent".
	Precision map[string]int

	// Exempt lists dotted path prefixes whose numbers are never rounded.
	Exempt []string

	// KeyedArrays maps an array container name to the identity field of its items.
	KeyedArrays map[string]string

	// Warn receives one message per dropped field. May be nil.
	Warn func(msg string)
}

// DefaultOptions returns the options used for device state by default.
func DefaultOptions() Options {
	return Options{
		Precision: map[string]int{
			"brightness":                          0,
			"openPercent":                         0,
			"openState.openPercent":               0,
			"humiditySetpointPercent":             0,
			"humidityAmbientPercent":              0,
			"currentFanSpeedPercent":              0,
			"currentVolume":                       0,
			"thermostatTemperatureSetpoint":       1,
			"thermostatTemperatureSetpointHigh":   1,
			"thermostatTemperatureSetpointLow":    1,
			"thermostatTemperatureAmbient":        1,
			"temperatureSetpointCelsius":          1,
			"temperatureAmbientCelsius":           1,
			"currentSensorStateData.rawValue":     2,
			"currentToggleSettings.toggleValue":   0,
			"currentFanSpeedSetting.speedPercent": 0,
		},
		Exempt: []string{
			"color.spectrumHsv",
			"color.spectrumRgb",
			"color.spectrumRGB",
			"color.temperatureK",
		},
		KeyedArrays: map[string]string{
			"openState":              "openDirection",
			"currentSensorStateData": "name",
		},
	}
}

// WithMapping returns a copy of o using the given field renames.
func (o Options) WithMapping(mapping []Rename) Options {
	o.Mapping = mapping
	return o
}

// WithWarn returns a copy of o reporting dropped fields to warn.
func (o Options) WithWarn(warn func(msg string)) Options {
	o.Warn = warn
	return o
}

// resolve returns the state key an incoming key maps onto.
func (o Options) resolve(path []string, key string) string {
	if len(o.Mapping) == 0 {
		return key
	}
	dotted := joinPath(path, key)
	for _, m := range o.Mapping {
		if m.From == dotted {
			return m.To
		}
	}
	return key
}

// precisionFor returns the decimal places for a dotted path and whether the
// path is rounded at all.
func (o Options) precisionFor(dotted string) (int, bool) {
	for _, prefix := range o.Exempt {
		if dotted == prefix || strings.HasPrefix(dotted, prefix+".") {
			return 0, false
		}
	}
	if p, ok := o.Precision[dotted]; ok {
		return p, true
	}
	return defaultPrecision, true
}

func (o Options) warn(msg string) {
	if o.Warn != nil {
		o.Warn(msg)
	}
}

func joinPath(path []string, key string) string {
	if len(path) == 0 {
		return key
	}
	return strings.Join(path, ".") + "." + key
}
