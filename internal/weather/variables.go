package weather

import "math"

// VariableKind tells the hourly collapse how to merge values within one hour.
type VariableKind int

const (
	// Continuous values are averaged.
	Continuous VariableKind = iota
	// Categorical values (condition codes) take the majority value.
	Categorical
)

// Variable describes one hourly field: its storage column, the payload keys
// accepted for it, and whether it belongs to the baseline table definition.
type Variable struct {
	Name     string
	Aliases  []string
	SQLType  string
	Kind     VariableKind
	Baseline bool
}

// SourceNames returns the payload keys to try, canonical name first.
func (v Variable) SourceNames() []string {
	return append([]string{v.Name}, v.Aliases...)
}

// Accepts reports whether a parsed value can be stored for this variable.
// Categorical codes must be integral and fit a SMALLINT column.
func (v Variable) Accepts(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	if v.Kind == Categorical {
		return f == math.Trunc(f) && f >= math.MinInt16 && f <= math.MaxInt16
	}
	return true
}

// Variables is the canonical, ordered variable set. Observation.Values is
// positional against this slice, so entries are append-only: never reorder,
// rename or remove one.
var Variables = []Variable{
	{Name: "temperature_2m", SQLType: "DOUBLE", Kind: Continuous, Baseline: true},
	{Name: "relative_humidity_2m", Aliases: []string{"relativehumidity_2m"}, SQLType: "DOUBLE", Kind: Continuous, Baseline: true},
	{Name: "precipitation", SQLType: "DOUBLE", Kind: Continuous, Baseline: true},
	{Name: "wind_speed_10m", Aliases: []string{"windspeed_10m"}, SQLType: "DOUBLE", Kind: Continuous, Baseline: true},
	{Name: "weathercode", Aliases: []string{"weather_code"}, SQLType: "SMALLINT", Kind: Categorical},
	{Name: "precipitation_probability", SQLType: "DOUBLE", Kind: Continuous},
	{Name: "cloudcover", Aliases: []string{"cloud_cover"}, SQLType: "DOUBLE", Kind: Continuous},
}

// VariableNames returns the canonical names in catalog order.
func VariableNames() []string {
	names := make([]string, len(Variables))
	for i, v := range Variables {
		names[i] = v.Name
	}
	return names
}

// VariableIndex returns the position of a canonical name, or -1.
func VariableIndex(name string) int {
	for i, v := range Variables {
		if v.Name == name {
			return i
		}
	}
	return -1
}
