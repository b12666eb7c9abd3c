// Package quantization provides product quantization for lossy vector
// compression. The IVF backend layers it on top of its inverted lists to
// form the compressed representation tier.
package quantization

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"

	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/kmeans"
	"github.com/sarvarunajvm/ideal-goggles-sub000/internal/math32"
)

const trainIterations = 20

// ProductQuantizer compresses vectors by splitting them into M subvectors
// and quantizing each against its own codebook of K centroids.
//
// Example: a 512-dim vector with M=8 becomes 8 uint8 codes (256x smaller
// than float32 storage).
type ProductQuantizer struct {
	numSubvectors int // M
	numCentroids  int // K, <= 256 so codes fit in uint8
	dimension     int // D
	subvectorDim  int // D/M
	codebooks     []float32 // flattened: M * K * subvectorDim
	trained       bool
}

// New creates a product quantizer. dimension must be divisible by
// numSubvectors and numCentroids must fit in a uint8 code.
func New(dimension, numSubvectors, numCentroids int) (*ProductQuantizer, error) {
	if dimension <= 0 || numSubvectors <= 0 {
		return nil, fmt.Errorf("quantization: invalid shape %d/%d", dimension, numSubvectors)
	}
	if dimension%numSubvectors != 0 {
		return nil, errors.New("quantization: dimension must be divisible by numSubvectors")
	}
	if numCentroids <= 0 || numCentroids > 256 {
		return nil, errors.New("quantization: numCentroids must be in (0, 256]")
	}

	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
	}, nil
}

// Train calibrates the codebooks from training vectors. Must be called
// before Encode/Decode. vectors is flattened (n * dimension).
func (pq *ProductQuantizer) Train(rng *rand.Rand, vectors []float32) error {
	n := len(vectors) / pq.dimension
	if n == 0 {
		return errors.New("quantization: no training vectors")
	}
	if len(vectors)%pq.dimension != 0 {
		return errors.New("quantization: training data not a multiple of dimension")
	}

	sd := pq.subvectorDim
	pq.codebooks = make([]float32, pq.numSubvectors*pq.numCentroids*sd)

	sub := make([]float32, n*sd)
	for m := 0; m < pq.numSubvectors; m++ {
		for i := 0; i < n; i++ {
			start := i*pq.dimension + m*sd
			copy(sub[i*sd:(i+1)*sd], vectors[start:start+sd])
		}

		centroids := kmeans.Train(rng, sub, sd, pq.numCentroids, trainIterations)
		if centroids == nil {
			// Fewer training vectors than centroids: pad by cycling data.
			centroids = make([]float32, pq.numCentroids*sd)
			for c := 0; c < pq.numCentroids; c++ {
				src := (c % n) * sd
				copy(centroids[c*sd:(c+1)*sd], sub[src:src+sd])
			}
		}
		copy(pq.codebook(m), centroids)
	}

	pq.trained = true
	return nil
}

func (pq *ProductQuantizer) codebook(m int) []float32 {
	size := pq.numCentroids * pq.subvectorDim
	return pq.codebooks[m*size : (m+1)*size]
}

// Encode quantizes a vector into M uint8 codes.
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	if !pq.trained {
		return nil, errors.New("quantization: not trained")
	}
	if len(vec) != pq.dimension {
		return nil, fmt.Errorf("quantization: vector has %d dims, want %d", len(vec), pq.dimension)
	}

	sd := pq.subvectorDim
	codes := make([]byte, pq.numSubvectors)
	for m := 0; m < pq.numSubvectors; m++ {
		subvec := vec[m*sd : (m+1)*sd]
		codes[m] = uint8(kmeans.Nearest(subvec, pq.codebook(m), sd))
	}
	return codes, nil
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if !pq.trained {
		return nil, errors.New("quantization: not trained")
	}
	if len(codes) != pq.numSubvectors {
		return nil, fmt.Errorf("quantization: got %d codes, want %d", len(codes), pq.numSubvectors)
	}

	sd := pq.subvectorDim
	out := make([]float32, pq.dimension)
	for m, c := range codes {
		cb := pq.codebook(m)
		copy(out[m*sd:(m+1)*sd], cb[int(c)*sd:(int(c)+1)*sd])
	}
	return out, nil
}

// BuildDistanceTable precomputes squared distances from the query to every
// centroid. table[m*K + k] is the squared L2 distance from query subvector
// m to centroid k. Asymmetric distance computation then reduces to M table
// lookups per encoded vector.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	if !pq.trained {
		return nil, errors.New("quantization: not trained")
	}
	if len(query) != pq.dimension {
		return nil, fmt.Errorf("quantization: query has %d dims, want %d", len(query), pq.dimension)
	}

	sd := pq.subvectorDim
	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	for m := 0; m < pq.numSubvectors; m++ {
		subq := query[m*sd : (m+1)*sd]
		cb := pq.codebook(m)
		for k := 0; k < pq.numCentroids; k++ {
			table[m*pq.numCentroids+k] = math32.SquaredL2(subq, cb[k*sd:(k+1)*sd])
		}
	}
	return table, nil
}

// AdcDistance computes the approximate squared L2 distance between a query
// (represented by its distance table) and an encoded vector.
func (pq *ProductQuantizer) AdcDistance(table []float32, codes []byte) float32 {
	var dist float32
	for m, c := range codes {
		dist += table[m*pq.numCentroids+int(c)]
	}
	return dist
}

// CodeSize returns the compressed size per vector in bytes.
func (pq *ProductQuantizer) CodeSize() int { return pq.numSubvectors }

// Dimension returns the original vector dimensionality.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// Trained reports whether the quantizer has been calibrated.
func (pq *ProductQuantizer) Trained() bool { return pq.trained }

// Encode/decode of the quantizer itself for the persistence layer.
// Layout: M, K, D as uint32, then the flattened codebooks.

// WriteTo serializes the trained quantizer.
func (pq *ProductQuantizer) WriteTo(w io.Writer) error {
	if !pq.trained {
		return errors.New("quantization: cannot persist untrained quantizer")
	}
	hdr := []uint32{uint32(pq.numSubvectors), uint32(pq.numCentroids), uint32(pq.dimension)}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pq.codebooks)
}

// ReadFrom deserializes a quantizer written by WriteTo.
func ReadFrom(r io.Reader) (*ProductQuantizer, error) {
	hdr := make([]uint32, 3)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	pq, err := New(int(hdr[2]), int(hdr[0]), int(hdr[1]))
	if err != nil {
		return nil, err
	}
	pq.codebooks = make([]float32, pq.numSubvectors*pq.numCentroids*pq.subvectorDim)
	if err := binary.Read(r, binary.LittleEndian, pq.codebooks); err != nil {
		return nil, err
	}
	pq.trained = true
	return pq, nil
}
