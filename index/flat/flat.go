// Package flat provides the exact-scan backend. It is the starting
// representation for every engine and the ground truth the clustered
// backends are measured against.
package flat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sarvarunajvm/ideal-goggles-sub000/index"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/math32"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/queue"
)

// Compile-time check that Flat satisfies the backend contract.
var _ index.Backend = (*Flat)(nil)

func init() {
	index.RegisterDecoder(index.KindFlat, func(r io.Reader) (index.Backend, error) {
		return ReadFrom(r)
	})
}

// Flat is an append-only exact index: vectors live in a single contiguous
// float32 slice and every search is a full scan.
type Flat struct {
	dim  int
	data []float32 // count * dim, slot-major
}

// New creates an empty flat backend for the given dimension.
func New(dimension int) (*Flat, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("flat: invalid dimension %d", dimension)
	}
	return &Flat{dim: dimension}, nil
}

// Add appends a vector and returns its slot.
func (f *Flat) Add(vec []float32) (uint32, error) {
	if len(vec) == 0 {
		return 0, index.ErrEmptyVector
	}
	if len(vec) != f.dim {
		return 0, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(vec)}
	}

	slot := uint32(len(f.data) / f.dim)
	f.data = append(f.data, vec...)
	return slot, nil
}

// Search scans every slot and returns the k best candidates by cosine
// score, descending, padded with NoSlot once slots are exhausted.
func (f *Flat) Search(query []float32, k int) ([]index.Candidate, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}
	if len(query) != f.dim {
		return nil, &index.ErrDimensionMismatch{Expected: f.dim, Actual: len(query)}
	}

	top := queue.NewTopK(k)
	count := f.Count()
	for slot := 0; slot < count; slot++ {
		vec := f.data[slot*f.dim : (slot+1)*f.dim]
		top.Push(uint32(slot), math32.Dot(query, vec))
	}

	return padCandidates(top.Drain(), k), nil
}

// Reconstruct returns a copy of the stored vector for a slot.
func (f *Flat) Reconstruct(slot uint32) ([]float32, error) {
	if int(slot) >= f.Count() {
		return nil, &index.ErrSlotOutOfRange{Slot: slot}
	}
	out := make([]float32, f.dim)
	copy(out, f.data[int(slot)*f.dim:(int(slot)+1)*f.dim])
	return out, nil
}

// Count returns the number of occupied slots.
func (f *Flat) Count() int { return len(f.data) / f.dim }

// Dimension returns the fixed vector dimensionality.
func (f *Flat) Dimension() int { return f.dim }

// Kind identifies the representation.
func (f *Flat) Kind() index.Kind { return index.KindFlat }

// SizeBytes estimates the in-memory footprint.
func (f *Flat) SizeBytes() int64 { return int64(len(f.data)) * 4 }

// WriteTo serializes the backend: dimension and count as uint32, then the
// raw vector data.
func (f *Flat) WriteTo(w io.Writer) error {
	hdr := []uint32{uint32(f.dim), uint32(f.Count())}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.data)
}

// ReadFrom deserializes a backend written by WriteTo.
func ReadFrom(r io.Reader) (*Flat, error) {
	hdr := make([]uint32, 2)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return nil, fmt.Errorf("flat: read header: %w", err)
	}
	f, err := New(int(hdr[0]))
	if err != nil {
		return nil, err
	}
	f.data = make([]float32, int(hdr[0])*int(hdr[1]))
	if err := binary.Read(r, binary.LittleEndian, f.data); err != nil {
		return nil, fmt.Errorf("flat: read vectors: %w", err)
	}
	return f, nil
}

// padCandidates converts collected items into a fixed-length candidate
// list, padding with the NoSlot sentinel.
func padCandidates(items []queue.Item, k int) []index.Candidate {
	out := make([]index.Candidate, k)
	for i := range out {
		if i < len(items) {
			out[i] = index.Candidate{Slot: items[i].Slot, Score: items[i].Score}
		} else {
			out[i] = index.Candidate{Slot: index.NoSlot}
		}
	}
	return out
}
