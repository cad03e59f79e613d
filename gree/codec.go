package gree

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Properties maps friendly property names to values. Symbolic values are
// strings ("on", "cool"), numeric ones are ints.
type Properties map[string]any

// ToWire translates friendly properties into wire codes and values.
//
// Read-only properties are rejected before any other key is looked at, so a
// request containing one never produces a partial result.
func ToWire(props Properties) (map[string]int, error) {
	keys := slices.Sorted(maps.Keys(props))

	for _, k := range keys {
		if IsReadOnlyProperty(k) {
			return nil, &PropertyError{Property: k, Value: props[k], Err: ErrReadOnlyProperty}
		}
	}

	wire := make(map[string]int, len(props))
	for _, k := range keys {
		p, ok := propertyByName[k]
		if !ok {
			return nil, &PropertyError{Property: k, Err: ErrUnknownProperty}
		}
		v, ok := p.toWireValue(props[k])
		if !ok {
			return nil, &PropertyError{Property: k, Value: props[k], Err: ErrInvalidValue}
		}
		wire[p.code] = v
	}
	return wire, nil
}

func (p *propertyDef) toWireValue(v any) (int, bool) {
	if p.values == nil {
		return toInt(v)
	}
	switch x := v.(type) {
	case string:
		if i, ok := p.valueIndex(x); ok {
			return i, true
		}
	case bool:
		if len(p.values) == 2 && p.values[1] == "on" {
			if x {
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}
	i, ok := toInt(v)
	if !ok || i < 0 || i >= len(p.values) {
		return 0, false
	}
	return i, true
}

// FromWire translates wire codes and values into friendly properties. Codes
// outside the table pass through unchanged.
func FromWire(wire map[string]int) Properties {
	props := make(Properties, len(wire))
	for code, v := range wire {
		p, ok := propertyByCode[code]
		if !ok {
			props[code] = v
			continue
		}
		props[p.name] = p.fromWireValue(v)
	}
	return props
}

func (p *propertyDef) fromWireValue(v int) any {
	if p.values != nil && v >= 0 && v < len(p.values) {
		return p.values[v]
	}
	if p.fromWire != nil {
		return p.fromWire(v)
	}
	return v
}

// KeysToWire translates friendly property names into wire codes.
func KeysToWire(names []string) ([]string, error) {
	codes := make([]string, 0, len(names))
	for _, name := range names {
		p, ok := propertyByName[name]
		if !ok {
			return nil, &PropertyError{Property: name, Err: ErrUnknownProperty}
		}
		codes = append(codes, p.code)
	}
	return codes, nil
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int8:
		return int(x), true
	case int16:
		return int(x), true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case uint8:
		return int(x), true
	case uint16:
		return int(x), true
	case uint32:
		return int(x), true
	case uint:
		return uintToInt(uint64(x))
	case uint64:
		return uintToInt(x)
	case uintptr:
		return uintToInt(uint64(x))
	case float32:
		return floatToInt(float64(x))
	case float64:
		return floatToInt(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		if f, err := x.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		if i, err := strconv.Atoi(x); err == nil {
			return i, true
		}
	}
	return 0, false
}

func uintToInt(u uint64) (int, bool) {
	if u > math.MaxInt {
		return 0, false
	}
	return int(u), true
}

func floatToInt(f float64) (int, bool) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}
