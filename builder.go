package goggles

import (
	"context"
	"fmt"
	"math"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index/flat"
	"github.com/sarvarunajvm/ideal-goggles-sub000/index/ivf"
)

// insertBatchSize bounds how many vectors are inserted between context
// checks during a rebuild, capping peak memory and keeping cancellation
// responsive.
const insertBatchSize = 10_000

// nlistFor returns the cluster count for n vectors: sqrt(n) clamped to
// [100, 4096].
func nlistFor(n int) int {
	nlist := int(math.Sqrt(float64(n)))
	if nlist < 100 {
		nlist = 100
	}
	if nlist > 4096 {
		nlist = 4096
	}
	// Clustering needs at least one training vector per cell.
	if nlist > n {
		nlist = n
	}
	return nlist
}

// nprobeFor returns the query-time scan width: a quarter of the clusters,
// capped at 100.
func nprobeFor(nlist int) int {
	nprobe := nlist / 4
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > 100 {
		nprobe = 100
	}
	return nprobe
}

// pqSubvectorsFor returns the largest chunk count up to 16 that divides
// the dimension, so every subvector has equal length.
func pqSubvectorsFor(dim int) int {
	for _, m := range []int{16, 8, 4, 2} {
		if dim%m == 0 {
			return m
		}
	}
	return 1
}

// buildBackend constructs and fills a backend of the given representation
// from flattened vectors. Clustered representations are trained on the
// full input before insertion; inserts run in bounded batches with a
// context check between them.
func buildBackend(ctx context.Context, kind index.Kind, dim int, vectors []float32, seed int64) (index.Backend, error) {
	n := len(vectors) / dim

	var backend index.Backend
	switch kind {
	case index.KindFlat:
		f, err := flat.New(dim)
		if err != nil {
			return nil, err
		}
		backend = f

	case index.KindIVF, index.KindIVFPQ:
		nlist := nlistFor(n)
		opts := ivf.Options{
			Dimension: dim,
			NList:     nlist,
			NProbe:    nprobeFor(nlist),
			Seed:      seed,
		}
		if kind == index.KindIVFPQ {
			opts.PQ = &ivf.PQConfig{
				NumSubvectors: pqSubvectorsFor(dim),
				NumCentroids:  256,
			}
		}
		iv, err := ivf.New(opts)
		if err != nil {
			return nil, err
		}
		if err := iv.Train(vectors); err != nil {
			return nil, err
		}
		backend = iv

	default:
		return nil, fmt.Errorf("unknown representation %s", kind)
	}

	for start := 0; start < n; start += insertBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + insertBatchSize
		if end > n {
			end = n
		}
		for i := start; i < end; i++ {
			if _, err := backend.Add(vectors[i*dim : (i+1)*dim]); err != nil {
				return nil, err
			}
		}
	}

	return backend, nil
}
