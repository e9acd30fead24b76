// Package vectorindex is an in-process inverted-file (IVF) index over unit-normalized vectors.
//
// Below MinTrain vectors every search is exact. Once trained, vectors are partitioned into Lists
// k-means cells and a search scans the Probes cells nearest to the query. New vectors are assigned
// to their nearest centroid on insert, so they are searchable immediately; the centroids themselves
// are retrained when the population has doubled since the last training.
package vectorindex

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/markdave123-py/documind/internal/core"
)

// Key identifies one chunk vector.
type Key struct {
	DocumentID string
	ChunkIndex int
}

// Hit is a search result.
type Hit struct {
	Key   Key
	Score float64
}

// Config tunes the index.
//
// Dim:      required vector length; 0 adopts the length of the first vector added.
// Lists:    number of k-means cells.
// Probes:   cells scanned per query.
// MinTrain: population below which search stays exact.
type Config struct {
	Dim      int
	Lists    int
	Probes   int
	MinTrain int
}

const kmeansIterations = 10

type entry struct {
	key  Key
	vec  []float32
	cell int
}

// Index is safe for concurrent use.
type Index struct {
	mu  sync.RWMutex
	cfg Config

	entries map[Key]*entry
	byDoc   map[string][]Key

	centroids [][]float32
	cells     []map[Key]*entry
	trainedAt int
}

// New returns an empty index.
func New(cfg Config) *Index {
	if cfg.Lists <= 0 {
		cfg.Lists = 16
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	if cfg.Probes > cfg.Lists {
		cfg.Probes = cfg.Lists
	}
	if cfg.MinTrain < cfg.Lists {
		cfg.MinTrain = cfg.Lists
	}
	return &Index{
		cfg:     cfg,
		entries: make(map[Key]*entry),
		byDoc:   make(map[string][]Key),
	}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Trained reports whether searches are served from the IVF cells.
func (ix *Index) Trained() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.centroids != nil
}

// Add indexes the vectors of one document. Either all are added or none.
func (ix *Index) Add(documentID string, vectors map[int][]float32) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for idx, v := range vectors {
		if err := ix.checkDim(len(v)); err != nil {
			return fmt.Errorf("chunk %d of %s: %w", idx, documentID, err)
		}
	}
	if ix.cfg.Dim == 0 {
		for _, v := range vectors {
			ix.cfg.Dim = len(v)
			break
		}
	}

	for idx, v := range vectors {
		k := Key{DocumentID: documentID, ChunkIndex: idx}
		if old, ok := ix.entries[k]; ok {
			ix.detach(old)
		} else {
			ix.byDoc[documentID] = append(ix.byDoc[documentID], k)
		}
		e := &entry{key: k, vec: normalize(v), cell: -1}
		ix.entries[k] = e
		ix.attach(e)
	}

	n := len(ix.entries)
	if n >= ix.cfg.MinTrain && (ix.centroids == nil || n >= 2*ix.trainedAt) {
		ix.train()
	}
	return nil
}

// RemoveDocument drops every vector of a document.
func (ix *Index) RemoveDocument(documentID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	keys := ix.byDoc[documentID]
	for _, k := range keys {
		if e, ok := ix.entries[k]; ok {
			ix.detach(e)
			delete(ix.entries, k)
		}
	}
	delete(ix.byDoc, documentID)
	return len(keys)
}

// Search returns at most k hits scoring strictly above threshold, best first.
// Equal scores are ordered by chunk index, then document id.
func (ix *Index) Search(query []float32, k int, threshold float64) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil, nil
	}
	if err := ix.checkDim(len(query)); err != nil {
		return nil, err
	}
	q := normalize(query)

	var hits []Hit
	consider := func(e *entry) {
		if s := dot(q, e.vec); s > threshold {
			hits = append(hits, Hit{Key: e.key, Score: s})
		}
	}

	if ix.centroids == nil {
		for _, e := range ix.entries {
			consider(e)
		}
	} else {
		for _, c := range ix.nearestCells(q, ix.cfg.Probes) {
			for _, e := range ix.cells[c] {
				consider(e)
			}
		}
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func compareHits(a, b Hit) int {
	if a.Score != b.Score {
		if a.Score > b.Score {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(a.Key.ChunkIndex, b.Key.ChunkIndex); c != 0 {
		return c
	}
	return cmp.Compare(a.Key.DocumentID, b.Key.DocumentID)
}

func (ix *Index) checkDim(n int) error {
	if ix.cfg.Dim != 0 && n != ix.cfg.Dim {
		return fmt.Errorf("%w: got %d want %d", core.ErrDimensionMismatch, n, ix.cfg.Dim)
	}
	if n == 0 {
		return fmt.Errorf("%w: empty vector", core.ErrDimensionMismatch)
	}
	return nil
}

func (ix *Index) attach(e *entry) {
	if ix.centroids == nil {
		return
	}
	e.cell = ix.nearestCells(e.vec, 1)[0]
	ix.cells[e.cell][e.key] = e
}

func (ix *Index) detach(e *entry) {
	if e.cell >= 0 && e.cell < len(ix.cells) {
		delete(ix.cells[e.cell], e.key)
	}
	e.cell = -1
}

// nearestCells ranks centroids by similarity to v and returns the best n cell numbers.
func (ix *Index) nearestCells(v []float32, n int) []int {
	order := make([]int, len(ix.centroids))
	scores := make([]float64, len(ix.centroids))
	for i, c := range ix.centroids {
		order[i] = i
		scores[i] = dot(v, c)
	}
	slices.SortFunc(order, func(a, b int) int {
		if scores[a] != scores[b] {
			if scores[a] > scores[b] {
				return -1
			}
			return 1
		}
		return cmp.Compare(a, b)
	})
	if n > len(order) {
		n = len(order)
	}
	return order[:n]
}

// train runs spherical k-means over every vector and rebuilds the cells.
// Initial centroids are evenly spaced over the key order so training is deterministic.
func (ix *Index) train() {
	all := make([]*entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		all = append(all, e)
	}
	slices.SortFunc(all, func(a, b *entry) int {
		if c := cmp.Compare(a.key.DocumentID, b.key.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.key.ChunkIndex, b.key.ChunkIndex)
	})

	lists := min(ix.cfg.Lists, len(all))
	centroids := make([][]float32, lists)
	stride := len(all) / lists
	for i := range centroids {
		centroids[i] = slices.Clone(all[i*stride].vec)
	}

	assign := make([]int, len(all))
	ix.centroids = centroids
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, e := range all {
			c := ix.nearestCells(e.vec, 1)[0]
			if iter == 0 || assign[i] != c {
				changed = true
			}
			assign[i] = c
		}
		if !changed {
			break
		}

		sums := make([][]float64, lists)
		for i := range sums {
			sums[i] = make([]float64, ix.cfg.Dim)
		}
		counts := make([]int, lists)
		for i, e := range all {
			c := assign[i]
			counts[c]++
			for d, x := range e.vec {
				sums[c][d] += float64(x)
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// empty cell keeps its previous centroid
				continue
			}
			next := make([]float32, ix.cfg.Dim)
			for d := range next {
				next[d] = float32(sums[c][d])
			}
			centroids[c] = normalize(next)
		}
	}

	ix.cells = make([]map[Key]*entry, lists)
	for i := range ix.cells {
		ix.cells[i] = make(map[Key]*entry)
	}
	for _, e := range all {
		e.cell = -1
		ix.attach(e)
	}
	ix.trainedAt = len(all)
}

// Cosine returns the cosine similarity of a and b, or 0 when either is the zero vector.
func Cosine(a, b []float32) float64 {
	var ab, aa, bb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		ab += float64(a[i]) * float64(b[i])
		aa += float64(a[i]) * float64(a[i])
		bb += float64(b[i]) * float64(b[i])
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	return ab / (math.Sqrt(aa) * math.Sqrt(bb))
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
