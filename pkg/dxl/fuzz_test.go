// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dxl

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomValue returns a value that fits length bytes
func randomValue(rng *rand.Rand, length int, signed bool) int64 {
	u := rng.Uint64()
	if length < 8 {
		u &= 1<<(8*uint(length)) - 1
	}
	if signed {
		return DecodeValue(le64(u, length), true)
	}
	if length == 8 {
		u &^= 1 << 63
	}
	return int64(u)
}

func le64(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// randomIDs returns n distinct actuator IDs in random order
func randomIDs(rng *rand.Rand, n int) []uint8 {
	perm := rng.Perm(int(protocol.MaxIDV2) + 1)
	ids := make([]uint8, n)
	for i := range ids {
		ids[i] = uint8(perm[i])
	}
	return ids
}

// ============================================================
// Value Fuzz Tests
// ============================================================

// TestFuzzValue_RoundTrip encodes random in-range values and verifies they
// decode unchanged
func TestFuzzValue_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := 1 + rng.Intn(MaxValueLength)
		signed := rng.Intn(2) == 0
		value := randomValue(rng, length, signed)

		data, err := EncodeValue(value, length, signed)
		if err != nil {
			t.Fatalf("Round %d: EncodeValue(%d, %d, %v) failed: %v", i, value, length, signed, err)
		}
		if len(data) != length {
			t.Fatalf("Round %d: encoded %d bytes, want %d", i, len(data), length)
		}
		if got := DecodeValue(data, signed); got != value {
			t.Fatalf("Round %d: decoded %d, want %d", i, got, value)
		}
	}
}

// ============================================================
// Fast Read Fuzz Tests
// ============================================================

// TestFuzzSplitFast builds aggregated fast read payloads for random targets
// and verifies every value and error byte lands on the right ID
func TestFuzzSplitFast(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		ids := randomIDs(rng, 1+rng.Intn(8))
		targets := make([]target, len(ids))
		values := make(map[uint8]int64)
		codes := make(map[uint8]uint8)

		st := protocol.StatusPacket{ID: protocol.BroadcastID}
		for j, id := range ids {
			tg := target{id: id, length: 1 + rng.Intn(MaxValueLength), signed: rng.Intn(2) == 0}
			targets[j] = tg
			values[id] = randomValue(rng, tg.length, tg.signed)
			codes[id] = uint8(rng.Intn(3))
			data, _ := EncodeValue(values[id], tg.length, tg.signed)

			if j == 0 {
				st.Error = codes[id]
			} else {
				st.Params = append(st.Params, byte(rng.Intn(256)), byte(rng.Intn(256)), codes[id])
			}
			st.Params = append(st.Params, id)
			st.Params = append(st.Params, data...)
		}

		if n := fastPayload(targets); n != len(st.Params) {
			t.Fatalf("Round %d: fastPayload = %d, built %d", i, n, len(st.Params))
		}
		got, err := splitFast(st, targets)
		if err != nil {
			t.Fatalf("Round %d: splitFast failed: %v", i, err)
		}
		resp := groupValues(protocol.V2, targets, got, nil)
		for _, tg := range targets {
			if resp.Data[tg.id] != values[tg.id] {
				t.Fatalf("Round %d: ID %d = %d, want %d", i, tg.id, resp.Data[tg.id], values[tg.id])
			}
			if (resp.Errors[tg.id] != nil) != (codes[tg.id] != 0) {
				t.Fatalf("Round %d: ID %d error %v, code %d", i, tg.id, resp.Errors[tg.id], codes[tg.id])
			}
		}

		// any truncation must be reported, never misread
		if len(st.Params) > 1 {
			cut := st
			cut.Params = st.Params[:rng.Intn(len(st.Params))]
			if _, err := splitFast(cut, targets); err == nil {
				t.Fatalf("Round %d: truncated payload accepted", i)
			}
		}
	}
}
