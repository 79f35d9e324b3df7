package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxIDLength   = 128
	maxNameLength = 100
	maxTraits     = 32

	// Size limits for JSON fields.
	maxStateKeys      = 100
	maxNestedKeys     = 50
	maxArrayItems     = 50
	maxStringValueLen = 1024
	maxNestingDepth   = 10
)

// ValidateDevice checks a device declaration before a cell is created for it.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}

	id := strings.TrimSpace(d.ID)
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidDevice)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidDevice, maxIDLength)
	}
	if strings.ContainsAny(id, "/#+") {
		return fmt.Errorf("%w: id %q contains a path separator or wildcard", ErrInvalidDevice, id)
	}

	if d.Type == "" {
		return fmt.Errorf("%w: %s: type is required", ErrInvalidDevice, id)
	}
	if len(d.Traits) == 0 {
		return fmt.Errorf("%w: %s: at least one trait is required", ErrInvalidDevice, id)
	}
	if len(d.Traits) > maxTraits {
		return fmt.Errorf("%w: %s: more than %d traits", ErrInvalidDevice, id, maxTraits)
	}

	name := strings.TrimSpace(d.Name.Name)
	if name == "" {
		return fmt.Errorf("%w: %s: name cannot be empty", ErrInvalidDevice, id)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %s: name exceeds %d characters", ErrInvalidDevice, id, maxNameLength)
	}

	if len(d.State) > maxStateKeys {
		return fmt.Errorf("%w: %s: state exceeds max keys (%d)", ErrInvalidDevice, id, maxStateKeys)
	}
	if err := validateMapSize(d.State, "state", 0); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if err := validateMapSize(d.Attributes, "attributes", 0); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}

	return nil
}

// validateMapSize recursively checks nested maps and slices against the size limits.
func validateMapSize(m map[string]any, field string, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: %s exceeds maximum nesting depth", ErrInvalidDevice, field)
	}
	for k, v := range m {
		if len(k) > maxStringValueLen {
			return fmt.Errorf("%w: %s key too long", ErrInvalidDevice, field)
		}
		if err := validateValueSize(v, field+"."+k, depth); err != nil {
			return err
		}
	}
	return nil
}

func validateValueSize(v any, field string, depth int) error {
	switch val := v.(type) {
	case string:
		if len(val) > maxStringValueLen {
			return fmt.Errorf("%w: %s string value too long", ErrInvalidDevice, field)
		}
	case map[string]any:
		if len(val) > maxNestedKeys {
			return fmt.Errorf("%w: %s nested map too large", ErrInvalidDevice, field)
		}
		return validateMapSize(val, field, depth+1)
	case []any:
		if len(val) > maxArrayItems {
			return fmt.Errorf("%w: %s array too large", ErrInvalidDevice, field)
		}
		for _, elem := range val {
			if err := validateValueSize(elem, field, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
