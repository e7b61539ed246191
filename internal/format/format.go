// Package format turns bucket statistics and raw samples into the records
// returned by the API.
package format

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"vitals-service/internal/models"
)

const (
	QualityPoor = "poor"
	QualityFair = "fair"
	QualityGood = "good"

	// ReliableSignal is the strength from which a reading is trusted.
	ReliableSignal = 1000
	goodSignal     = 2000
)

// Round2 rounds half away from zero at two decimals, using the shortest
// decimal representation of v so 72.345 becomes 72.35.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

func round2Ptr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	r := Round2(v)
	return &r
}

func SignalQuality(strength *float64) string {
	switch {
	case strength == nil || *strength < ReliableSignal:
		return QualityPoor
	case *strength < goodSignal:
		return QualityFair
	default:
		return QualityGood
	}
}

func Reliable(strength *float64) bool {
	return strength != nil && *strength >= ReliableSignal
}

func SignalValue(strength *float64) int {
	if strength == nil {
		return 0
	}
	return int(decimal.NewFromFloat(*strength).Round(0).IntPart())
}

// BedStatusText returns nil when the status is unknown.
func BedStatusText(status *models.BedStatus) *string {
	if status == nil {
		return nil
	}
	var text string
	switch *status {
	case models.BedOut:
		text = "out of bed"
	case models.BedIn:
		text = "in bed"
	default:
		text = "movement"
	}
	return &text
}

func bedStatusInt(status *models.BedStatus) *int {
	if status == nil {
		return nil
	}
	v := int(*status)
	return &v
}

func Vitals(stats []models.BucketStat) []models.VitalsRecord {
	out := make([]models.VitalsRecord, 0, len(stats))
	for _, st := range stats {
		hr, hrOK := st.Means[models.FieldHR]
		rr, rrOK := st.Means[models.FieldRR]
		out = append(out, models.VitalsRecord{
			Timestamp:       models.FormatTimestamp(st.Start),
			HeartRate:       round2Ptr(hr, hrOK),
			RespirationRate: round2Ptr(rr, rrOK),
			SignalStrength:  SignalValue(st.SignalStrength),
			SignalQuality:   SignalQuality(st.SignalStrength),
			BedStatus:       bedStatusInt(st.Mode),
			BedStatusText:   BedStatusText(st.Mode),
			HRReliable:      Reliable(st.SignalStrength),
			SampleCount:     st.SampleCount,
		})
	}
	return out
}

// Series formats a single-field aggregation under the given JSON name.
func Series(name string, field models.Field, stats []models.BucketStat) []models.SeriesRecord {
	out := make([]models.SeriesRecord, 0, len(stats))
	for _, st := range stats {
		v, ok := st.Means[field]
		out = append(out, models.SeriesRecord{
			Time:  st.Start,
			Name:  name,
			Value: round2Ptr(v, ok),
		})
	}
	return out
}

// MergeHRVSV outer-joins two series on bucket start. Every start present in
// either input appears exactly once, ascending; a side without data is null.
func MergeHRVSV(hrv, sv []models.SeriesRecord) []models.HRVSVRecord {
	type pair struct {
		at  time.Time
		hrv *float64
		sv  *float64
	}
	merged := make(map[int64]*pair, len(hrv)+len(sv))
	order := make([]*pair, 0, len(hrv)+len(sv))
	at := func(t time.Time) *pair {
		key := t.UnixNano()
		p, ok := merged[key]
		if !ok {
			p = &pair{at: t}
			merged[key] = p
			order = append(order, p)
		}
		return p
	}
	for _, r := range hrv {
		at(r.Time).hrv = r.Value
	}
	for _, r := range sv {
		at(r.Time).sv = r.Value
	}

	slices.SortStableFunc(order, func(a, b *pair) int { return a.at.Compare(b.at) })

	out := make([]models.HRVSVRecord, len(order))
	for i, p := range order {
		out[i] = models.HRVSVRecord{Timestamp: models.FormatTimestamp(p.at), HRV: p.hrv, SV: p.sv}
	}
	return out
}

// LiveField pairs a sample field with the JSON name it is served under.
type LiveField struct {
	Field models.Field
	Name  string
}

// Live formats raw samples oldest first.
func Live(samples []models.Sample, fields []LiveField, reliableKey string) []models.LiveRecord {
	sorted := slices.Clone(samples)
	slices.SortStableFunc(sorted, func(a, b models.Sample) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	out := make([]models.LiveRecord, 0, len(sorted))
	for _, s := range sorted {
		r := models.LiveRecord{
			Time:           s.Timestamp,
			Values:         make([]models.NamedValue, 0, len(fields)),
			SignalStrength: SignalValue(s.SignalStrength),
			SignalQuality:  SignalQuality(s.SignalStrength),
			BedStatus:      bedStatusInt(s.BedStatus),
			BedStatusText:  BedStatusText(s.BedStatus),
			ReliableKey:    reliableKey,
			Reliable:       Reliable(s.SignalStrength),
		}
		for _, f := range fields {
			v, ok := s.Value(f.Field)
			r.Values = append(r.Values, models.NamedValue{Name: f.Name, Value: round2Ptr(v, ok)})
		}
		out = append(out, r)
	}
	return out
}
