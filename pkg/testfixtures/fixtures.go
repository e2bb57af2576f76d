// Package testfixtures provides metric family builders for tests.
package testfixtures

import (
	"sort"

	"google.golang.org/protobuf/proto"

	dto "github.com/prometheus/client_model/go"
)

// FamilyBuilder helps construct metric families with default values.
type FamilyBuilder struct {
	fam *dto.MetricFamily
}

// Counter creates a builder for a counter family.
func Counter(name string) *FamilyBuilder {
	return newFamilyBuilder(name, dto.MetricType_COUNTER)
}

// Gauge creates a builder for a gauge family.
func Gauge(name string) *FamilyBuilder {
	return newFamilyBuilder(name, dto.MetricType_GAUGE)
}

// Histogram creates a builder for a histogram family.
func Histogram(name string) *FamilyBuilder {
	return newFamilyBuilder(name, dto.MetricType_HISTOGRAM)
}

// Summary creates a builder for a summary family.
func Summary(name string) *FamilyBuilder {
	return newFamilyBuilder(name, dto.MetricType_SUMMARY)
}

// Untyped creates a builder for an untyped family.
func Untyped(name string) *FamilyBuilder {
	return newFamilyBuilder(name, dto.MetricType_UNTYPED)
}

func newFamilyBuilder(name string, typ dto.MetricType) *FamilyBuilder {
	return &FamilyBuilder{
		fam: &dto.MetricFamily{
			Name: proto.String(name),
			Type: typ.Enum(),
		},
	}
}

// WithHelp sets the family help text.
func (b *FamilyBuilder) WithHelp(help string) *FamilyBuilder {
	b.fam.Help = proto.String(help)
	return b
}

// WithValue appends an unlabeled sample.
func (b *FamilyBuilder) WithValue(value float64) *FamilyBuilder {
	return b.WithLabeledValue(value)
}

// WithLabeledValue appends a sample with labels given as name/value pairs.
// It panics on an odd number of label arguments.
func (b *FamilyBuilder) WithLabeledValue(value float64, labels ...string) *FamilyBuilder {
	if len(labels)%2 != 0 {
		panic("testfixtures: labels must be name/value pairs")
	}

	m := &dto.Metric{Label: labelPairs(labels)}

	switch b.fam.GetType() {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: proto.Float64(value)}
	case dto.MetricType_GAUGE:
		m.Gauge = &dto.Gauge{Value: proto.Float64(value)}
	case dto.MetricType_UNTYPED:
		m.Untyped = &dto.Untyped{Value: proto.Float64(value)}
	default:
		panic("testfixtures: WithLabeledValue requires a scalar family type")
	}

	b.fam.Metric = append(b.fam.Metric, m)
	return b
}

// WithHistogram appends a histogram sample with the given cumulative
// bucket counts keyed by upper bound.
func (b *FamilyBuilder) WithHistogram(count uint64, sum float64, buckets map[float64]uint64, labels ...string) *FamilyBuilder {
	if b.fam.GetType() != dto.MetricType_HISTOGRAM {
		panic("testfixtures: WithHistogram requires a histogram family")
	}
	if len(labels)%2 != 0 {
		panic("testfixtures: labels must be name/value pairs")
	}

	bounds := make([]float64, 0, len(buckets))
	for bound := range buckets {
		bounds = append(bounds, bound)
	}
	sort.Float64s(bounds)

	hist := &dto.Histogram{
		SampleCount: proto.Uint64(count),
		SampleSum:   proto.Float64(sum),
	}
	for _, bound := range bounds {
		hist.Bucket = append(hist.Bucket, &dto.Bucket{
			UpperBound:      proto.Float64(bound),
			CumulativeCount: proto.Uint64(buckets[bound]),
		})
	}

	b.fam.Metric = append(b.fam.Metric, &dto.Metric{
		Label:     labelPairs(labels),
		Histogram: hist,
	})
	return b
}

// WithSummary appends a summary sample with the given quantile values.
func (b *FamilyBuilder) WithSummary(count uint64, sum float64, quantiles map[float64]float64, labels ...string) *FamilyBuilder {
	if b.fam.GetType() != dto.MetricType_SUMMARY {
		panic("testfixtures: WithSummary requires a summary family")
	}
	if len(labels)%2 != 0 {
		panic("testfixtures: labels must be name/value pairs")
	}

	qs := make([]float64, 0, len(quantiles))
	for q := range quantiles {
		qs = append(qs, q)
	}
	sort.Float64s(qs)

	smry := &dto.Summary{
		SampleCount: proto.Uint64(count),
		SampleSum:   proto.Float64(sum),
	}
	for _, q := range qs {
		smry.Quantile = append(smry.Quantile, &dto.Quantile{
			Quantile: proto.Float64(q),
			Value:    proto.Float64(quantiles[q]),
		})
	}

	b.fam.Metric = append(b.fam.Metric, &dto.Metric{
		Label:   labelPairs(labels),
		Summary: smry,
	})
	return b
}

// Build returns the built metric family.
func (b *FamilyBuilder) Build() *dto.MetricFamily {
	return b.fam
}

// Families builds a slice of metric families.
func Families(builders ...*FamilyBuilder) []*dto.MetricFamily {
	out := make([]*dto.MetricFamily, len(builders))
	for i, b := range builders {
		out[i] = b.Build()
	}
	return out
}

// labelPairs converts name/value pairs into sorted dto label pairs.
func labelPairs(labels []string) []*dto.LabelPair {
	if len(labels) == 0 {
		return nil
	}

	pairs := make([]*dto.LabelPair, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		pairs = append(pairs, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].GetName() < pairs[j].GetName()
	})
	return pairs
}
