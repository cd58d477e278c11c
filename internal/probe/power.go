package probe

import (
	"strings"

	"github.com/buger/jsonparser"
)

// PowerState is a relay output state. The zero value means unknown.
type PowerState string

const (
	PowerOn      PowerState = "on"
	PowerOff     PowerState = "off"
	PowerUnknown PowerState = ""
)

var powerKeys = []string{
	"output", "ison", "isOn", "is_on", "state", "value",
	"switch", "power", "enabled", "relay", "mode",
}

var powerArrays = []string{"relays", "lights", "switches", "outputs", "devices"}

// DerivePowerState reads a relay state out of a status-like document.
// It checks well-known keys on the document itself, then channel arrays,
// then per-channel objects such as "switch:0", then any bare scalar.
func DerivePowerState(status []byte) PowerState {
	if _, typ, _, err := jsonparser.Get(status); err != nil || typ != jsonparser.Object {
		return PowerUnknown
	}
	if s := powerFromEntry(status); s != PowerUnknown {
		return s
	}

	for _, key := range powerArrays {
		arr, typ, _, err := jsonparser.Get(status, key)
		if err != nil || typ != jsonparser.Array {
			continue
		}
		state := PowerUnknown
		_, _ = jsonparser.ArrayEach(arr, func(v []byte, typ jsonparser.ValueType, _ int, _ error) {
			if state == PowerUnknown && typ == jsonparser.Object {
				state = powerFromEntry(v)
			}
		})
		if state != PowerUnknown {
			return state
		}
	}

	state := PowerUnknown
	_ = jsonparser.ObjectEach(status, func(k, v []byte, typ jsonparser.ValueType, _ int) error {
		if state != PowerUnknown {
			return nil
		}
		key := string(k)
		switch typ {
		case jsonparser.Object:
			if strings.HasPrefix(key, "switch") || strings.HasPrefix(key, "relay") || strings.Contains(key, ":") {
				state = powerFromEntry(v)
			}
		case jsonparser.Array, jsonparser.Null:
		default:
			state = toPowerState(v, typ)
		}
		return nil
	})
	return state
}

// DerivePowerStateFromSnapshot prefers a nested "status" document and then
// the top level. Stored raw payloads have this shape.
func DerivePowerStateFromSnapshot(raw []byte) PowerState {
	if status, typ, _, err := jsonparser.Get(raw, "status"); err == nil && typ == jsonparser.Object {
		if s := DerivePowerState(status); s != PowerUnknown {
			return s
		}
	}
	if _, typ, _, err := jsonparser.Get(raw); err != nil || typ != jsonparser.Object {
		return PowerUnknown
	}
	return powerFromEntry(raw)
}

func powerFromEntry(entry []byte) PowerState {
	for _, key := range powerKeys {
		v, typ, _, err := jsonparser.Get(entry, key)
		if err != nil {
			continue
		}
		if s := toPowerState(v, typ); s != PowerUnknown {
			return s
		}
	}
	return PowerUnknown
}

func toPowerState(v []byte, typ jsonparser.ValueType) PowerState {
	on, ok := normalizeBool(v, typ)
	if !ok {
		return PowerUnknown
	}
	if on {
		return PowerOn
	}
	return PowerOff
}

// normalizeBool accepts JSON booleans, numbers, and the usual on/off words.
func normalizeBool(v []byte, typ jsonparser.ValueType) (value, ok bool) {
	switch typ {
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(v)
		return b, err == nil
	case jsonparser.Number:
		f, err := jsonparser.ParseFloat(v)
		if err != nil {
			return false, false
		}
		return f != 0, true
	case jsonparser.String:
		s, err := jsonparser.ParseString(v)
		if err != nil {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "on", "true", "1", "yes", "enabled":
			return true, true
		case "off", "false", "0", "no", "disabled":
			return false, true
		}
	}
	return false, false
}
