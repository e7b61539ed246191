package analytics

import "vitals-service/internal/models"

// Kind tags how a field is reduced inside a bucket.
type Kind int

const (
	// KindMean reduces a numeric field with the range's mean strategy.
	KindMean Kind = iota
	// KindMode picks the most frequent bed status.
	KindMode
	// KindFirst keeps the signal strength of the earliest sample.
	KindFirst
)

type Aggregate struct {
	Kind  Kind
	Field models.Field
}

// Selector is the set of aggregates computed for one metric. All KindMean
// fields are required jointly: a sample missing any of them is skipped for
// all of them.
type Selector struct {
	Name       string
	Aggregates []Aggregate
}

var (
	Vitals = Selector{Name: "vitals", Aggregates: []Aggregate{
		{Kind: KindMean, Field: models.FieldHR},
		{Kind: KindMean, Field: models.FieldRR},
		{Kind: KindFirst},
		{Kind: KindMode},
	}}
	HRV = single("hrv", models.FieldHRV)
	SV  = single("sv", models.FieldSV)
	STR = single("str", models.FieldSTR)
	RS  = single("rs", models.FieldRS)
)

func single(name string, f models.Field) Selector {
	return Selector{Name: name, Aggregates: []Aggregate{{Kind: KindMean, Field: f}}}
}

// MeanFields lists the numeric fields the selector averages.
func (s Selector) MeanFields() []models.Field {
	var out []models.Field
	for _, a := range s.Aggregates {
		if a.Kind == KindMean {
			out = append(out, a.Field)
		}
	}
	return out
}

func (s Selector) has(k Kind) bool {
	for _, a := range s.Aggregates {
		if a.Kind == k {
			return true
		}
	}
	return false
}

func (s Selector) accepts(sample models.Sample) bool {
	for _, a := range s.Aggregates {
		if a.Kind != KindMean {
			continue
		}
		if _, ok := sample.Value(a.Field); !ok {
			return false
		}
	}
	return true
}

// Required lists the fields a store must return non-null for this selector.
// Selectors with a bed status mode need every row, since the mode also counts
// samples without numeric readings.
func (s Selector) Required() []models.Field {
	if s.has(KindMode) {
		return nil
	}
	return s.MeanFields()
}
