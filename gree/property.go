package gree

// Friendly property names
const (
	PropertyPower              = "power"
	PropertyMode               = "mode"
	PropertyTemperatureUnit    = "temperatureUnit"
	PropertyTemperature        = "temperature"
	PropertyCurrentTemperature = "currentTemperature"
	PropertyFanSpeed           = "fanSpeed"
	PropertyAir                = "air"
	PropertyBlow               = "blow"
	PropertyHealth             = "health"
	PropertySleep              = "sleep"
	PropertyLights             = "lights"
	PropertySwingHor           = "swingHor"
	PropertySwingVert          = "swingVert"
	PropertyQuiet              = "quiet"
	PropertyTurbo              = "turbo"
	PropertyPowerSave          = "powerSave"
	PropertySafetyHeating      = "safetyHeating"
)

type propertyDef struct {
	name     string
	code     string
	values   []string // index is the wire value; nil for numeric properties
	readOnly bool
	// fromWire runs after the symbolic lookup.
	fromWire func(int) int
}

var onOff = []string{"off", "on"}

// properties is ordered as the appliance reports them.
var properties = []propertyDef{
	{name: PropertyPower, code: "Pow", values: onOff},
	{name: PropertyMode, code: "Mod", values: []string{"auto", "cool", "dry", "fan_only", "heat"}},
	{name: PropertyTemperatureUnit, code: "TemUn", values: []string{"celsius", "fahrenheit"}},
	{name: PropertyTemperature, code: "SetTem"},
	{name: PropertyCurrentTemperature, code: "TemSen", readOnly: true, fromWire: sensedTemperature},
	{name: PropertyFanSpeed, code: "WdSpd", values: []string{"auto", "low", "mediumLow", "medium", "mediumHigh", "high"}},
	{name: PropertyAir, code: "Air", values: []string{"off", "inside", "outside", "mode3"}},
	{name: PropertyBlow, code: "Blo", values: onOff},
	{name: PropertyHealth, code: "Health", values: onOff},
	{name: PropertySleep, code: "SwhSlp", values: onOff},
	{name: PropertyLights, code: "Lig", values: onOff},
	{name: PropertySwingHor, code: "SwingLfRig", values: []string{
		"default", "full", "fixedLeft", "fixedMidLeft", "fixedMid", "fixedMidRight", "fixedRight", "fullAlt",
	}},
	{name: PropertySwingVert, code: "SwUpDn", values: []string{
		"default", "full", "fixedTop", "fixedMidTop", "fixedMid", "fixedMidBottom", "fixedBottom",
		"swingBottom", "swingMidBottom", "swingMid", "swingMidTop", "swingTop",
	}},
	{name: PropertyQuiet, code: "Quiet", values: []string{"off", "mode1", "mode2", "mode3"}},
	{name: PropertyTurbo, code: "Tur", values: onOff},
	{name: PropertyPowerSave, code: "SvSt", values: onOff},
	{name: PropertySafetyHeating, code: "StHt", values: onOff},
}

// sensedTemperature removes the +40 wire bias. Zero means "unsupported".
func sensedTemperature(v int) int {
	if v == 0 {
		return 0
	}
	return v - 40
}

var (
	propertyByName = make(map[string]*propertyDef, len(properties))
	propertyByCode = make(map[string]*propertyDef, len(properties))
)

func init() {
	for i := range properties {
		p := &properties[i]
		propertyByName[p.name] = p
		propertyByCode[p.code] = p
	}
}

func (p *propertyDef) valueIndex(s string) (int, bool) {
	for i, v := range p.values {
		if v == s {
			return i, true
		}
	}
	return 0, false
}

// PropertyNames returns every friendly property name in wire order.
func PropertyNames() []string {
	names := make([]string, len(properties))
	for i, p := range properties {
		names[i] = p.name
	}
	return names
}

// PropertyValues returns the symbolic values of a property, indexed by their
// wire value. Numeric properties return nil.
func PropertyValues(name string) []string {
	p, ok := propertyByName[name]
	if !ok || p.values == nil {
		return nil
	}
	return append([]string(nil), p.values...)
}

// IsReadOnlyProperty reports whether a property is reported by the appliance only.
func IsReadOnlyProperty(name string) bool {
	p, ok := propertyByName[name]
	return ok && p.readOnly
}

// WireCode returns the wire code of a friendly property name.
func WireCode(name string) (string, bool) {
	p, ok := propertyByName[name]
	if !ok {
		return "", false
	}
	return p.code, true
}
