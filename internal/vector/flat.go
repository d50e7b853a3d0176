package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// FlatIndex is an exhaustive (brute-force) vector index. Adding an id that is
// already present replaces its vector in place, keeping the original insertion
// slot, so the index never holds duplicates and search order stays stable.
//
// FlatIndex carries no internal locking: the vector store owns it exclusively
// and serializes mutation behind its single-writer lock.
type FlatIndex struct {
	dimensions int
	metric     Metric
	ids        []string
	vectors    [][]float32
	slots      map[string]int
}

// NewFlatIndex creates an empty index with the given dimension and metric.
func NewFlatIndex(dimensions int, metric Metric) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric != MetricInnerProduct && metric != MetricL2 {
		return nil, fmt.Errorf("unknown metric: %s", metric)
	}
	return &FlatIndex{
		dimensions: dimensions,
		metric:     metric,
		slots:      make(map[string]int),
	}, nil
}

// Add inserts or replaces vectors by id.
func (f *FlatIndex) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for i, v := range vectors {
		if len(v) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch for %q: got %d, expected %d", ids[i], len(v), f.dimensions)
		}
	}
	for i, id := range ids {
		vec := make([]float32, f.dimensions)
		copy(vec, vectors[i])
		if slot, ok := f.slots[id]; ok {
			f.vectors[slot] = vec
			continue
		}
		f.slots[id] = len(f.ids)
		f.ids = append(f.ids, id)
		f.vectors = append(f.vectors, vec)
	}
	return nil
}

// Search returns the top-k entries sorted by descending score. Ties are broken
// by ascending insertion slot, then lexicographic id. An empty index returns an
// empty slice.
func (f *FlatIndex) Search(query []float32, k int) ([]Result, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	if k <= 0 || len(f.ids) == 0 {
		return []Result{}, nil
	}
	results := make([]Result, len(f.ids))
	for slot, vec := range f.vectors {
		results[slot] = Result{ID: f.ids[slot], Score: f.score(query, vec), Slot: slot}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Slot != results[j].Slot {
			return results[i].Slot < results[j].Slot
		}
		return results[i].ID < results[j].ID
	})
	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

func (f *FlatIndex) score(query, vec []float32) float64 {
	if f.metric == MetricL2 {
		var dist float64
		for i := 0; i < f.dimensions; i++ {
			d := float64(query[i] - vec[i])
			dist += d * d
		}
		return -dist
	}
	return InnerProduct(query, vec)
}

// Reset removes all vectors.
func (f *FlatIndex) Reset() {
	f.ids = nil
	f.vectors = nil
	f.slots = make(map[string]int)
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int { return len(f.ids) }

// Has reports whether id is present.
func (f *FlatIndex) Has(id string) bool {
	_, ok := f.slots[id]
	return ok
}

// Dimensions returns the fixed embedding dimension.
func (f *FlatIndex) Dimensions() int { return f.dimensions }

// Metric returns the index's similarity metric.
func (f *FlatIndex) Metric() Metric { return f.metric }

// Save writes a snapshot to path atomically (temp file + rename). Format:
// metric byte, dimension (4), n (4), then per vector: idLen (4), id bytes,
// vector (dimension*4 bytes). Little endian throughout.
func (f *FlatIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	if err := f.write(out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

func (f *FlatIndex) write(w io.Writer) error {
	var metricByte byte
	if f.metric == MetricL2 {
		metricByte = 1
	}
	if _, err := w.Write([]byte{metricByte}); err != nil {
		return fmt.Errorf("write metric: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for slot, id := range f.ids {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(f.vectors[slot])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads a snapshot from path and replaces the in-memory contents. The
// snapshot's metric and dimension must match. A missing file is not an error;
// the index stays empty.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer in.Close()

	header := make([]byte, 1)
	if _, err := io.ReadFull(in, header); err != nil {
		return fmt.Errorf("read metric: %w", err)
	}
	metric := MetricInnerProduct
	if header[0] == 1 {
		metric = MetricL2
	}
	if metric != f.metric {
		return fmt.Errorf("metric mismatch: file has %s, index expects %s", metric, f.metric)
	}
	var dim, n uint32
	if err := binary.Read(in, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, f.dimensions)
	}
	if err := binary.Read(in, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	slots := make(map[string]int, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(in, binary.LittleEndian, &idLen); err != nil {
			return fmt.Errorf("read id len: %w", err)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(in, idBytes); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(in, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		id := string(idBytes)
		if _, dup := slots[id]; dup {
			return fmt.Errorf("duplicate id in snapshot: %s", id)
		}
		slots[id] = len(ids)
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}
	f.ids = ids
	f.vectors = vectors
	f.slots = slots
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
