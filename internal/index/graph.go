package index

import (
	"math"
	"sort"

	"github.com/coder/hnsw"
)

// Graph is an HNSW graph with dense labels 0..n-1 mapped to external ids.
// It is not safe for concurrent use; indexContext guards it.
type Graph struct {
	hnsw     *hnsw.Graph[uint64]
	labels   []string
	capacity int
	params   BuildParams
}

type addOutcome int

const (
	outcomeAdded addOutcome = iota
	outcomeMalformed
	outcomeOverflow
)

// NewGraph creates an empty cosine-distance graph sized for capacity vectors.
func NewGraph(capacity int, params BuildParams) *Graph {
	params = params.withDefaults(DefaultBuildParams())

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = params.M
	g.EfSearch = params.EfSearch
	g.Ml = 0.25

	return &Graph{
		hnsw:     g,
		labels:   make([]string, 0),
		capacity: capacity,
		params:   params,
	}
}

// Count returns the number of inserted vectors.
func (g *Graph) Count() int { return len(g.labels) }

// Capacity returns the maximum number of vectors.
func (g *Graph) Capacity() int { return g.capacity }

// Params returns the build parameters.
func (g *Graph) Params() BuildParams { return g.params }

// add inserts r under the next label. Malformed vectors and inserts past
// capacity leave the graph untouched.
func (g *Graph) add(r Record) addOutcome {
	if !validVector(r.Vector) {
		return outcomeMalformed
	}
	if len(g.labels) >= g.capacity {
		return outcomeOverflow
	}

	label := uint64(len(g.labels))
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	normalizeVectorInPlace(vec)

	g.hnsw.Add(hnsw.MakeNode(label, vec))
	g.labels = append(g.labels, r.ID)
	return outcomeAdded
}

// search returns up to k external ids nearest to query with their cosine
// distances, ascending. Both slices always have the same length.
func (g *Graph) search(query []float32, k int) ([]string, []float32) {
	if n := g.hnsw.Len(); k > n {
		k = n
	}
	if k <= 0 {
		return []string{}, []float32{}
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := g.hnsw.Search(q, k)

	type hit struct {
		label    uint64
		distance float32
	}
	hits := make([]hit, 0, len(nodes))
	for _, node := range nodes {
		hits = append(hits, hit{label: node.Key, distance: g.hnsw.Distance(q, node.Value)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	neighbors := make([]string, 0, len(hits))
	distances := make([]float32, 0, len(hits))
	for _, h := range hits {
		if h.label >= uint64(len(g.labels)) {
			continue
		}
		neighbors = append(neighbors, g.labels[h.label])
		distances = append(distances, h.distance)
	}
	return neighbors, distances
}

// validVector reports whether v can be inserted or queried: the right
// length, finite, and not all zero.
func validVector(v []float32) bool {
	if len(v) != Dimension {
		return false
	}
	var sumSquares float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sumSquares += f * f
	}
	return sumSquares > 0
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
