package schema

import (
	"github.com/nerrad567/gray-logic-homesync/internal/device"
)

// ValidatorFor builds the state validator for a declared trait set.
//
// In ValidateFull mode every required field of every declared trait must be
// present. In both modes each present field must belong to a declared trait
// and hold an acceptable value.
func ValidatorFor(traits []device.Trait) device.Validator {
	fields := make(map[string]field)
	for _, f := range commonFields {
		fields[f.name] = f
	}
	for _, t := range traits {
		for _, f := range traitFields[t] {
			fields[f.name] = f
		}
	}

	return func(mode device.ValidationMode, state device.State) bool {
		for key, value := range state {
			f, known := fields[key]
			if !known {
				return false
			}
			if !f.check(value) {
				return false
			}
		}
		if mode == device.ValidateFull {
			for name, f := range fields {
				if _, present := state[name]; f.required && !present {
					return false
				}
			}
		}
		return true
	}
}

// Fields returns the names of the state fields a trait set defines.
func Fields(traits []device.Trait) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range traits {
		for _, f := range traitFields[t] {
			if !seen[f.name] {
				seen[f.name] = true
				names = append(names, f.name)
			}
		}
	}
	return names
}

// Known reports whether a trait is described by this package.
func Known(t device.Trait) bool {
	_, ok := traitFields[t]
	return ok
}
