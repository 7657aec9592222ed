package forensic

import (
	"fmt"
	"time"

	"github.com/GABRIELS562/zero-downtime-pipeline-sub000/pkg/canonicalize"
	"github.com/shopspring/decimal"
)

// BusinessMetric is a single observed business quantity from a collector.
// The integrity hash is computed at construction; the record is immutable
// afterwards.
type BusinessMetric struct {
	Name       string            `json:"name"`
	Value      decimal.Decimal   `json:"value"`
	Timestamp  time.Time         `json:"timestamp"`
	Currency   string            `json:"currency,omitempty"`
	Unit       string            `json:"unit,omitempty"`
	Source     string            `json:"source,omitempty"`
	Confidence float64           `json:"confidence"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Hash       string            `json:"hash"`
}

// NewBusinessMetric builds a metric and seals it with its integrity hash.
// Confidence outside [0,1] is rejected.
func NewBusinessMetric(name string, value decimal.Decimal, ts time.Time, confidence float64) (*BusinessMetric, error) {
	if name == "" {
		return nil, fmt.Errorf("forensic: metric name is required")
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("forensic: metric confidence %v outside [0,1]", confidence)
	}
	m := &BusinessMetric{
		Name:       name,
		Value:      value,
		Timestamp:  ts.UTC(),
		Confidence: confidence,
	}
	h, err := m.computeHash()
	if err != nil {
		return nil, err
	}
	m.Hash = h
	return m, nil
}

// WithSource attaches source labelling before the metric is sealed elsewhere.
// It re-seals the hash so the labels are covered.
func (m *BusinessMetric) WithSource(source, currency, unit string) (*BusinessMetric, error) {
	out := *m
	out.Source = source
	out.Currency = currency
	out.Unit = unit
	h, err := out.computeHash()
	if err != nil {
		return nil, err
	}
	out.Hash = h
	return &out, nil
}

func (m *BusinessMetric) computeHash() (string, error) {
	return canonicalize.Hash(map[string]interface{}{
		"name":       m.Name,
		"value":      m.Value.String(),
		"timestamp":  m.Timestamp.Format(time.RFC3339Nano),
		"currency":   m.Currency,
		"unit":       m.Unit,
		"source":     m.Source,
		"confidence": fmt.Sprintf("%.6f", m.Confidence),
		"metadata":   m.Metadata,
	})
}

// VerifyIntegrity recomputes the hash and compares it to the sealed one.
func (m *BusinessMetric) VerifyIntegrity() bool {
	h, err := m.computeHash()
	return err == nil && h == m.Hash
}
