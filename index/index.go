// Package index defines the contract between the vector store and its
// interchangeable search structures (flat scan, inverted file, inverted
// file with product quantization).
package index

import (
	"errors"
	"fmt"
	"io"
)

// NoSlot is the sentinel a backend uses to pad search results once it has
// run out of candidates. Callers must stop consuming a result list at the
// first NoSlot entry.
const NoSlot = ^uint32(0)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned when an empty vector is inserted or queried.
	ErrEmptyVector = errors.New("vector must not be empty")

	// ErrNotTrained is returned when a clustered backend is used before
	// its coarse quantizer has been trained.
	ErrNotTrained = errors.New("index not trained")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrSlotOutOfRange indicates a slot that was never assigned.
type ErrSlotOutOfRange struct {
	Slot uint32
}

func (e *ErrSlotOutOfRange) Error() string {
	return fmt.Sprintf("slot %d out of range", e.Slot)
}

// Kind identifies the representation a backend implements.
type Kind uint8

const (
	KindFlat Kind = iota
	KindIVF
	KindIVFPQ
)

// String returns the canonical representation name, matching what the
// metadata sidecar and backup manifests store.
func (k Kind) String() string {
	switch k {
	case KindFlat:
		return "Flat"
	case KindIVF:
		return "IVF"
	case KindIVFPQ:
		return "IVF-PQ"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// ParseKind maps a canonical name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "Flat":
		return KindFlat, true
	case "IVF":
		return KindIVF, true
	case "IVF-PQ":
		return KindIVFPQ, true
	default:
		return 0, false
	}
}

// Candidate is a single backend search hit. Score is cosine similarity in
// [-1, 1]; vectors are normalized on insert so the dot product suffices.
type Candidate struct {
	Slot  uint32
	Score float32
}

// Backend is an append-only vector search structure.
//
// Slots are assigned densely on Add and are never reused; logical deletion
// is the store's concern (tombstones), physical reclamation happens by
// rebuilding into a fresh backend. Implementations must be safe for
// concurrent readers, but Add and Search are externally serialized by the
// store's readers-writer lock.
type Backend interface {
	// Add appends a vector and returns its slot.
	Add(vec []float32) (uint32, error)

	// Search returns the k best candidates in descending score order,
	// padded with NoSlot entries once candidates are exhausted.
	Search(query []float32, k int) ([]Candidate, error)

	// Reconstruct returns the stored vector for a slot. For lossy
	// representations this is an approximation.
	Reconstruct(slot uint32) ([]float32, error)

	// Count returns the number of occupied slots, tombstoned or not.
	Count() int

	// Dimension returns the fixed vector dimensionality.
	Dimension() int

	// Kind identifies the representation.
	Kind() Kind

	// SizeBytes estimates the in-memory footprint of the structure.
	SizeBytes() int64

	// WriteTo serializes the structure. Use Encode/Decode for the
	// self-describing framed form.
	WriteTo(w io.Writer) error
}

// DecoderFunc reconstructs a backend from its serialized form.
type DecoderFunc func(r io.Reader) (Backend, error)

var decoders = map[Kind]DecoderFunc{}

// RegisterDecoder registers a decoder for a backend kind. Called from the
// implementation packages' init functions.
func RegisterDecoder(kind Kind, fn DecoderFunc) {
	decoders[kind] = fn
}

// Encode writes a kind tag followed by the backend's serialized form.
func Encode(w io.Writer, b Backend) error {
	if _, err := w.Write([]byte{byte(b.Kind())}); err != nil {
		return err
	}
	return b.WriteTo(w)
}

// Decode reads a backend previously written by Encode.
func Decode(r io.Reader) (Backend, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, fmt.Errorf("index: read kind tag: %w", err)
	}
	fn, ok := decoders[Kind(tag[0])]
	if !ok {
		return nil, fmt.Errorf("index: no decoder for kind %s", Kind(tag[0]))
	}
	return fn(r)
}
