// Package ivf provides the inverted-file backend: vectors are partitioned
// into nlist Voronoi cells by a trained coarse quantizer and queries scan
// only the nprobe nearest cells. With product quantization enabled the
// cell entries store compact codes instead of raw vectors, trading recall
// for an order of magnitude less memory.
package ivf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/kmeans"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/math32"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/queue"
	"github.com/sarvarunajvm/ideal-goggles-sub000/quantization"
)

// Compile-time check that IVF satisfies the backend contract.
var _ index.Backend = (*IVF)(nil)

const (
	trainIterations = 20

	// Serialization flags.
	flagPQ = 1 << 0
)

func init() {
	index.RegisterDecoder(index.KindIVF, decodeBackend)
	index.RegisterDecoder(index.KindIVFPQ, decodeBackend)
}

// PQConfig enables product quantization of the stored vectors.
type PQConfig struct {
	// NumSubvectors is M, the number of independently quantized chunks.
	NumSubvectors int

	// NumCentroids is K, the codebook size per chunk (max 256).
	NumCentroids int
}

// Options configures an IVF backend.
type Options struct {
	// Dimension is the fixed vector dimensionality.
	Dimension int

	// NList is the number of Voronoi cells.
	NList int

	// NProbe is the number of cells scanned per query. Adjustable after
	// construction via SetNProbe.
	NProbe int

	// PQ, when non-nil, stores product-quantized codes instead of raw
	// vectors (the IVF-PQ representation).
	PQ *PQConfig

	// Seed fixes the training RNG for reproducible clustering. Zero
	// means a fixed default seed.
	Seed int64
}

// IVF is an inverted-file index. It must be trained before vectors can be
// added or searched.
type IVF struct {
	opts      Options
	centroids []float32 // nlist * dim
	lists     [][]uint32
	assign    []uint16 // slot -> cell, kept for serialization sanity

	// Exactly one of the two is populated, depending on PQ.
	data  []float32 // slot-major raw vectors (IVF)
	codes []byte    // slot-major PQ codes (IVF-PQ)
	pq    *quantization.ProductQuantizer

	count int
}

// New creates an untrained IVF backend.
func New(opts Options) (*IVF, error) {
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("ivf: invalid dimension %d", opts.Dimension)
	}
	if opts.NList <= 0 {
		return nil, fmt.Errorf("ivf: invalid nlist %d", opts.NList)
	}
	if opts.NProbe <= 0 {
		opts.NProbe = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}

	iv := &IVF{
		opts:  opts,
		lists: make([][]uint32, opts.NList),
	}

	if opts.PQ != nil {
		pq, err := quantization.New(opts.Dimension, opts.PQ.NumSubvectors, opts.PQ.NumCentroids)
		if err != nil {
			return nil, err
		}
		iv.pq = pq
	}

	return iv, nil
}

// Train learns the coarse quantizer (and the PQ codebooks when enabled)
// from the given training vectors, flattened (n * dim). There must be at
// least NList training vectors.
func (iv *IVF) Train(vectors []float32) error {
	dim := iv.opts.Dimension
	if len(vectors)%dim != 0 {
		return fmt.Errorf("ivf: training data not a multiple of dimension %d", dim)
	}
	n := len(vectors) / dim
	if n < iv.opts.NList {
		return fmt.Errorf("ivf: need at least %d training vectors for %d cells, got %d",
			iv.opts.NList, iv.opts.NList, n)
	}

	rng := rand.New(rand.NewSource(iv.opts.Seed))
	centroids := kmeans.Train(rng, vectors, dim, iv.opts.NList, trainIterations)
	if centroids == nil {
		return fmt.Errorf("ivf: clustering failed for nlist=%d", iv.opts.NList)
	}
	iv.centroids = centroids

	if iv.pq != nil {
		if err := iv.pq.Train(rng, vectors); err != nil {
			return err
		}
	}

	return nil
}

// Trained reports whether the coarse quantizer has been learned.
func (iv *IVF) Trained() bool { return iv.centroids != nil }

// SetNProbe adjusts the number of cells scanned per query.
func (iv *IVF) SetNProbe(nprobe int) {
	if nprobe < 1 {
		nprobe = 1
	}
	if nprobe > iv.opts.NList {
		nprobe = iv.opts.NList
	}
	iv.opts.NProbe = nprobe
}

// NProbe returns the current cluster-scan width.
func (iv *IVF) NProbe() int { return iv.opts.NProbe }

// NList returns the number of Voronoi cells.
func (iv *IVF) NList() int { return iv.opts.NList }

// Add assigns the vector to its nearest cell and appends it.
func (iv *IVF) Add(vec []float32) (uint32, error) {
	if len(vec) == 0 {
		return 0, index.ErrEmptyVector
	}
	dim := iv.opts.Dimension
	if len(vec) != dim {
		return 0, &index.ErrDimensionMismatch{Expected: dim, Actual: len(vec)}
	}
	if !iv.Trained() {
		return 0, index.ErrNotTrained
	}

	slot := uint32(iv.count)
	cell := kmeans.Nearest(vec, iv.centroids, dim)
	iv.lists[cell] = append(iv.lists[cell], slot)
	iv.assign = append(iv.assign, uint16(cell))

	if iv.pq != nil {
		code, err := iv.pq.Encode(vec)
		if err != nil {
			return 0, err
		}
		iv.codes = append(iv.codes, code...)
	} else {
		iv.data = append(iv.data, vec...)
	}

	iv.count++
	return slot, nil
}

// Search scans the nprobe cells nearest the query and returns the k best
// candidates by cosine score, descending, padded with NoSlot.
func (iv *IVF) Search(query []float32, k int) ([]index.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	dim := iv.opts.Dimension
	if len(query) != dim {
		return nil, &index.ErrDimensionMismatch{Expected: dim, Actual: len(query)}
	}
	if !iv.Trained() {
		return nil, index.ErrNotTrained
	}

	cells := kmeans.NearestN(query, iv.centroids, dim, iv.opts.NProbe)
	top := queue.NewTopK(k)

	if iv.pq != nil {
		table, err := iv.pq.BuildDistanceTable(query)
		if err != nil {
			return nil, err
		}
		m := iv.pq.CodeSize()
		for _, cell := range cells {
			for _, slot := range iv.lists[cell] {
				code := iv.codes[int(slot)*m : (int(slot)+1)*m]
				// Unit vectors: squared L2 distance d maps to cosine
				// similarity 1 - d/2, which preserves ordering.
				top.Push(slot, 1-iv.pq.AdcDistance(table, code)/2)
			}
		}
	} else {
		for _, cell := range cells {
			for _, slot := range iv.lists[cell] {
				vec := iv.data[int(slot)*dim : (int(slot)+1)*dim]
				top.Push(slot, math32.Dot(query, vec))
			}
		}
	}

	items := top.Drain()
	out := make([]index.Candidate, k)
	for i := range out {
		if i < len(items) {
			out[i] = index.Candidate{Slot: items[i].Slot, Score: items[i].Score}
		} else {
			out[i] = index.Candidate{Slot: index.NoSlot}
		}
	}
	return out, nil
}

// Reconstruct returns the stored vector for a slot. With PQ enabled the
// result is the codebook approximation, not the original vector.
func (iv *IVF) Reconstruct(slot uint32) ([]float32, error) {
	if int(slot) >= iv.count {
		return nil, &index.ErrSlotOutOfRange{Slot: slot}
	}
	dim := iv.opts.Dimension

	if iv.pq != nil {
		m := iv.pq.CodeSize()
		return iv.pq.Decode(iv.codes[int(slot)*m : (int(slot)+1)*m])
	}

	out := make([]float32, dim)
	copy(out, iv.data[int(slot)*dim:(int(slot)+1)*dim])
	return out, nil
}

// Count returns the number of occupied slots.
func (iv *IVF) Count() int { return iv.count }

// Dimension returns the fixed vector dimensionality.
func (iv *IVF) Dimension() int { return iv.opts.Dimension }

// Kind identifies the representation.
func (iv *IVF) Kind() index.Kind {
	if iv.pq != nil {
		return index.KindIVFPQ
	}
	return index.KindIVF
}

// SizeBytes estimates the in-memory footprint.
func (iv *IVF) SizeBytes() int64 {
	size := int64(len(iv.centroids))*4 + int64(len(iv.assign))*2
	for _, l := range iv.lists {
		size += int64(len(l)) * 4
	}
	size += int64(len(iv.data))*4 + int64(len(iv.codes))
	return size
}

// WriteTo serializes the backend.
// Layout: dim, nlist, nprobe, count, flags (uint32 each), centroids,
// per-slot cell assignments, then raw data or PQ quantizer + codes.
func (iv *IVF) WriteTo(w io.Writer) error {
	if !iv.Trained() {
		return index.ErrNotTrained
	}

	var flags uint32
	if iv.pq != nil {
		flags |= flagPQ
	}
	hdr := []uint32{
		uint32(iv.opts.Dimension),
		uint32(iv.opts.NList),
		uint32(iv.opts.NProbe),
		uint32(iv.count),
		flags,
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, iv.centroids); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, iv.assign); err != nil {
		return err
	}

	if iv.pq != nil {
		if err := iv.pq.WriteTo(w); err != nil {
			return err
		}
		_, err := w.Write(iv.codes)
		return err
	}
	return binary.Write(w, binary.LittleEndian, iv.data)
}

// ReadFrom deserializes a backend written by WriteTo.
func ReadFrom(r io.Reader) (*IVF, error) {
	hdr := make([]uint32, 5)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("ivf: read header: %w", err)
	}

	dim, nlist, nprobe := int(hdr[0]), int(hdr[1]), int(hdr[2])
	count, flags := int(hdr[3]), hdr[4]

	opts := Options{Dimension: dim, NList: nlist, NProbe: nprobe}
	iv := &IVF{
		opts:      opts,
		centroids: make([]float32, nlist*dim),
		lists:     make([][]uint32, nlist),
		assign:    make([]uint16, count),
		count:     count,
	}
	if err := binary.Read(r, binary.LittleEndian, iv.centroids); err != nil {
		return nil, fmt.Errorf("ivf: read centroids: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, iv.assign); err != nil {
		return nil, fmt.Errorf("ivf: read assignments: %w", err)
	}

	// Rebuild the inverted lists from the per-slot assignments.
	for slot, cell := range iv.assign {
		if int(cell) >= nlist {
			return nil, fmt.Errorf("ivf: corrupt assignment %d for slot %d", cell, slot)
		}
		iv.lists[cell] = append(iv.lists[cell], uint32(slot))
	}

	if flags&flagPQ != 0 {
		pq, err := quantization.ReadFrom(r)
		if err != nil {
			return nil, fmt.Errorf("ivf: read quantizer: %w", err)
		}
		iv.pq = pq
		iv.codes = make([]byte, count*pq.CodeSize())
		if _, err := io.ReadFull(r, iv.codes); err != nil {
			return nil, fmt.Errorf("ivf: read codes: %w", err)
		}
	} else {
		iv.data = make([]float32, count*dim)
		if err := binary.Read(r, binary.LittleEndian, iv.data); err != nil {
			return nil, fmt.Errorf("ivf: read vectors: %w", err)
		}
	}

	return iv, nil
}

func decodeBackend(r io.Reader) (index.Backend, error) {
	return ReadFrom(r)
}
