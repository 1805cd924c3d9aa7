// Package vectorindex adapts an approximate-nearest-neighbor graph
// (github.com/blevesearch/go-faiss) to the engine's narrow surface:
// insert/erase by sequence id, query-by-vector, and query-by-id, with
// soft deletes and a brute-force fallback under a small filtered
// candidate set. Only the query interface of the underlying ANN
// library is exercised — index construction/training internals are
// the library's own concern.
package vectorindex

import (
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	faiss "github.com/blevesearch/go-faiss"

	"github.com/mizusearch/core/types"
)

// Index wraps one field's vector graph.
type Index struct {
	dim      int
	distance types.VectorDistance
	graph    *faiss.IndexImpl

	vectors map[int64][]float32 // kept app-side for query_by_id and brute-force fallback
	erased  *roaring.Bitmap
	maxSeen int64
}

// metricFor maps the declared metric onto the graph's two native
// ones. Cosine rides on inner product: every cosine vector is scaled
// to unit length before it reaches the graph, and the inner product
// of unit vectors is their cosine similarity.
func metricFor(d types.VectorDistance) int {
	if d == types.DistanceIP || d == types.DistanceCosine {
		return faiss.MetricInnerProduct
	}
	return faiss.MetricL2
}

// New builds a graph for dim-dimensional vectors under the given
// distance metric.
func New(dim int, distance types.VectorDistance) (*Index, error) {
	graph, err := faiss.IndexFactory(dim, "HNSW32", metricFor(distance))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: build graph: %w", err)
	}
	return &Index{
		dim:      dim,
		distance: distance,
		graph:    graph,
		vectors:  make(map[int64][]float32),
		erased:   roaring.New(),
	}, nil
}

// Insert validates vec against the declared dimension and adds it
// under seqID. Re-inserting an id that already exists first erases
// the old entry. Under the cosine metric the stored copy is unit-
// normalized, so graph search and the brute-force path both rank by
// cosine similarity rather than raw magnitude.
func (ix *Index) Insert(seqID int64, vec []float32) error {
	if len(vec) != ix.dim {
		return fmt.Errorf("vectorindex: dimension mismatch: got %d, want %d", len(vec), ix.dim)
	}
	if _, ok := ix.vectors[seqID]; ok {
		ix.Erase(seqID)
	}
	stored := append([]float32(nil), vec...)
	if ix.distance == types.DistanceCosine {
		normalize(stored)
	}
	if err := ix.graph.AddWithIDs(stored, []int64{seqID}); err != nil {
		return fmt.Errorf("vectorindex: add: %w", err)
	}
	ix.vectors[seqID] = stored
	ix.erased.Remove(uint32(seqID))
	if seqID > ix.maxSeen {
		ix.maxSeen = seqID
	}
	return nil
}

// Erase soft-deletes seqID: the graph keeps its capacity slot, but the
// id is filtered out of every future query result.
func (ix *Index) Erase(seqID int64) {
	ix.erased.Add(uint32(seqID))
}

// Counts reports current (non-erased), deleted, and maximum observed
// vector counts.
func (ix *Index) Counts() (current, deleted, maximum int) {
	return len(ix.vectors) - int(ix.erased.GetCardinality()), int(ix.erased.GetCardinality()), len(ix.vectors)
}

// Result is one nearest-neighbor hit.
type Result struct {
	SeqID    int64
	Distance float32
}

// QueryByVector returns the k nearest non-erased neighbors of vec. If
// filterIDs is non-nil and its cardinality is below flatSearchCutoff,
// the adapter switches to a brute-force scan over exactly those ids
// instead of graph search.
func (ix *Index) QueryByVector(vec []float32, k int, distanceThreshold float64, hasThreshold bool, filterIDs *roaring.Bitmap, flatSearchCutoff int) ([]Result, error) {
	if len(vec) != ix.dim {
		return nil, fmt.Errorf("vectorindex: dimension mismatch: got %d, want %d", len(vec), ix.dim)
	}
	if ix.distance == types.DistanceCosine {
		vec = append([]float32(nil), vec...)
		normalize(vec)
	}
	if filterIDs != nil && int(filterIDs.GetCardinality()) < flatSearchCutoff {
		return ix.bruteForce(vec, k, distanceThreshold, hasThreshold, filterIDs), nil
	}

	// Over-fetch to absorb erased/filtered ids, doubling until satisfied
	// or the whole graph has been examined.
	fetch := k + int(ix.erased.GetCardinality())
	if fetch < k*2 {
		fetch = k * 2
	}
	if fetch < 1 {
		fetch = 1
	}
	for attempt := 0; attempt < 5; attempt++ {
		distances, labels, err := ix.graph.Search(vec, int64(fetch))
		if err != nil {
			return nil, fmt.Errorf("vectorindex: search: %w", err)
		}
		var out []Result
		for i, id := range labels {
			if id < 0 || ix.erased.Contains(uint32(id)) {
				continue
			}
			if filterIDs != nil && !filterIDs.Contains(uint32(id)) {
				continue
			}
			if hasThreshold && float64(distances[i]) > distanceThreshold {
				continue
			}
			out = append(out, Result{SeqID: id, Distance: distances[i]})
			if len(out) == k {
				return out, nil
			}
		}
		if len(out) >= k || fetch >= len(ix.vectors) {
			return out, nil
		}
		fetch *= 2
	}
	return ix.bruteForce(vec, k, distanceThreshold, hasThreshold, filterIDs), nil
}

// VectorFor returns the stored vector for seqID, if it was ever
// inserted (soft-deleted ids still return their last vector, matching
// how QueryByID can still derive from them).
func (ix *Index) VectorFor(seqID int64) ([]float32, bool) {
	v, ok := ix.vectors[seqID]
	return v, ok
}

// QueryByID derives the query vector from a previously inserted
// document's own stored vector.
func (ix *Index) QueryByID(seqID int64, k int) ([]Result, error) {
	vec, ok := ix.vectors[seqID]
	if !ok {
		return nil, fmt.Errorf("vectorindex: unknown seq_id %d", seqID)
	}
	return ix.QueryByVector(vec, k, 0, false, nil, 0)
}

func (ix *Index) bruteForce(vec []float32, k int, distanceThreshold float64, hasThreshold bool, filterIDs *roaring.Bitmap) []Result {
	var candidates []int64
	if filterIDs != nil {
		for _, id := range filterIDs.ToArray() {
			candidates = append(candidates, int64(id))
		}
	} else {
		for id := range ix.vectors {
			candidates = append(candidates, id)
		}
	}

	var out []Result
	for _, id := range candidates {
		if ix.erased.Contains(uint32(id)) {
			continue
		}
		v, ok := ix.vectors[id]
		if !ok {
			continue
		}
		d := distance(ix.distance, vec, v)
		if hasThreshold && float64(d) > distanceThreshold {
			continue
		}
		out = append(out, Result{SeqID: id, Distance: d})
	}
	sortByDistance(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// normalize scales v to unit length in place. A zero vector is left
// untouched rather than divided by zero.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// distance computes the brute-force path's distance. Cosine operands
// are already unit-normalized (on insert and at query entry), so the
// inner-product branch yields negative cosine similarity for them.
func distance(metric types.VectorDistance, a, b []float32) float32 {
	switch metric {
	case types.DistanceIP, types.DistanceCosine:
		var dot float32
		for i := range a {
			dot += a[i] * b[i]
		}
		return -dot // larger inner product is "closer", so negate for ascending sort
	default:
		var sum float32
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return float32(math.Sqrt(float64(sum)))
	}
}

func sortByDistance(rs []Result) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j].Distance < rs[j-1].Distance; j-- {
			rs[j], rs[j-1] = rs[j-1], rs[j]
		}
	}
}
