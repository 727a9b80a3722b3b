package labs

// ValueSet is an ordered, immutable collection of measurements.
// Names may repeat; consumers address measurements by position.
type ValueSet struct {
	measurements []Measurement
}

// CategoryGroup lists the positions of the measurements sharing a category
type CategoryGroup struct {
	Category string
	Indices  []int
}

// NewValueSet validates the inputs and builds a value set.
// The first invalid input aborts construction with a *ValidationError.
func NewValueSet(inputs []MeasurementInput) (*ValueSet, error) {
	measurements := make([]Measurement, 0, len(inputs))
	for i, in := range inputs {
		if err := in.validate(i); err != nil {
			return nil, err
		}
		measurements = append(measurements, in.toMeasurement())
	}
	return &ValueSet{measurements: measurements}, nil
}

// Len returns the number of measurements
func (s *ValueSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.measurements)
}

// At returns a copy of the measurement at position i
func (s *ValueSet) At(i int) Measurement {
	m := s.measurements[i]
	m.ReferenceMin = copyFloat(m.ReferenceMin)
	m.ReferenceMax = copyFloat(m.ReferenceMax)
	return m
}

// Measurements returns a copy of all measurements in order
func (s *ValueSet) Measurements() []Measurement {
	out := make([]Measurement, s.Len())
	for i := range out {
		out[i] = s.At(i)
	}
	return out
}

// Values returns the measurement values in order
func (s *ValueSet) Values() []float64 {
	out := make([]float64, s.Len())
	for i := range out {
		out[i] = s.measurements[i].Value
	}
	return out
}

// Names returns the measurement names in order
func (s *ValueSet) Names() []string {
	out := make([]string, s.Len())
	for i := range out {
		out[i] = s.measurements[i].Name
	}
	return out
}

// Groups partitions positions by category in first-seen order
func (s *ValueSet) Groups() []CategoryGroup {
	var groups []CategoryGroup
	index := make(map[string]int)
	for i := 0; i < s.Len(); i++ {
		category := s.measurements[i].Category
		g, ok := index[category]
		if !ok {
			g = len(groups)
			index[category] = g
			groups = append(groups, CategoryGroup{Category: category})
		}
		groups[g].Indices = append(groups[g].Indices, i)
	}
	return groups
}
