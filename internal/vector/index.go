// Package vector provides an exhaustive vector index with snapshot persistence.
package vector

import "fmt"

// Metric selects how similarity is scored. Fixed per index instance.
type Metric string

const (
	// MetricInnerProduct scores by inner product; equals cosine similarity
	// when vectors are L2-normalized.
	MetricInnerProduct Metric = "ip"
	// MetricL2 scores by negated squared Euclidean distance, so that higher
	// is always better regardless of metric.
	MetricL2 Metric = "l2"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricInnerProduct, MetricL2:
		return Metric(s), nil
	case "":
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: ip, l2)", s)
	}
}

// Result is a single index hit. Slot is the insertion slot of the vector and is
// stable across replace-in-place, which makes repeated searches deterministic.
type Result struct {
	ID    string
	Score float64
	Slot  int
}

// Index is the similarity-search capability of the store: add with replace
// semantics on an existing id, exhaustive top-k search, full reset.
// Implementations are not synchronized; the owning store serializes access.
type Index interface {
	Add(ids []string, vectors [][]float32) error
	Search(query []float32, k int) ([]Result, error)
	Reset()
	Save(path string) error
	Load(path string) error
	Size() int
	Has(id string) bool
	Dimensions() int
	Metric() Metric
}
