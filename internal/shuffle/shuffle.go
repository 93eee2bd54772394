// Package shuffle randomizes the presentation of exam questions and their
// answer options, and translates a student's positional choice back to the
// original answer-key index for scoring.
package shuffle

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// ErrIndexOutOfRange is returned when a presented index is not in [0,3].
var ErrIndexOutOfRange = errors.New("presented index out of range")

// Mapping is the permutation linking a presented option position back to its
// original answer-key position: Mapping[presentedPosition] = originalIndex.
type Mapping [OptionCount]int

// Valid reports whether the mapping is a bijection over {0,1,2,3}.
func (m Mapping) Valid() bool {
	var seen [OptionCount]bool
	for _, orig := range m {
		if orig < 0 || orig >= OptionCount {
			return false
		}
		if seen[orig] {
			return false
		}
		seen[orig] = true
	}
	return true
}

// rng is the shared PCG source. Seeded from crypto/rand at startup so option
// order is not predictable from a wall-clock seed; guarded by a mutex because
// rand.PCG is not safe for concurrent use.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewPCG(cryptoSeed(), cryptoSeed()))
)

func cryptoSeed() uint64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no useful recovery path at this layer.
		panic(fmt.Sprintf("shuffle: read entropy: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}

func intn(n int) int {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.IntN(n)
}

// Options produces a uniformly random permutation of the 4 answer options and
// the corresponding mapping from presented position to original index.
//
// The caller must store the mapping alongside the presented paper: scoring is
// only reproducible against the exact option order the student saw, so a
// mapping handed to the client is never regenerated.
func Options(options [OptionCount]string) (shuffled [OptionCount]string, mapping Mapping) {
	order := Perm(OptionCount)
	for pos, orig := range order {
		shuffled[pos] = options[orig]
		mapping[pos] = orig
	}
	return shuffled, mapping
}

// Perm returns a uniformly random permutation of [0,n) using Fisher–Yates.
// Used directly for question-order shuffling, which is independent of option
// shuffling.
func Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j := intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
	return p
}

// Deshuffle translates the position a student clicked into the original
// answer-key index via the stored mapping.
func Deshuffle(selectedPresentedIndex int, mapping Mapping) (int, error) {
	if selectedPresentedIndex < 0 || selectedPresentedIndex >= OptionCount {
		return 0, fmt.Errorf("%w: %d", ErrIndexOutOfRange, selectedPresentedIndex)
	}
	return mapping[selectedPresentedIndex], nil
}
