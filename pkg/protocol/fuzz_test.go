// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
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

// randomParams returns random parameter bytes, biased towards header-like
// runs so stuffing gets exercised
func randomParams(rng *rand.Rand, max int) []byte {
	n := rng.Intn(max + 1)
	params := make([]byte, n)
	for i := range params {
		switch rng.Intn(4) {
		case 0:
			params[i] = 0xFF
		case 1:
			params[i] = 0xFD
		default:
			params[i] = byte(rng.Intn(256))
		}
	}
	return params
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

// TestFuzzCodec_RoundTrip encodes random instruction packets and verifies
// decoding recovers the ID, instruction and parameters
func TestFuzzCodec_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for _, v := range []Version{V1, V2} {
		c, _ := CodecFor(v)
		for i := 0; i < rounds; i++ {
			id := uint8(rng.Intn(BroadcastID + 1))
			inst := Instruction(rng.Intn(256))
			params := randomParams(rng, 200)

			raw, err := c.Encode(id, inst, params)
			if err != nil {
				t.Fatalf("v%s round %d: encode error: %v", v, i, err)
			}
			frame, n, err := c.Decode(raw)
			if err != nil {
				t.Fatalf("v%s round %d: decode error: %v (frame % X)", v, i, err, raw)
			}
			if n != len(raw) {
				t.Errorf("v%s round %d: consumed %d of %d bytes", v, i, n, len(raw))
			}
			gotInst, gotParams := frame.Instruction()
			if frame.ID != id || gotInst != inst || !bytes.Equal(gotParams, params) {
				t.Errorf("v%s round %d: round trip mismatch: id %d/%d inst 0x%02X/0x%02X params % X / % X",
					v, i, frame.ID, id, uint8(gotInst), uint8(inst), gotParams, params)
			}
		}
	}
}

// TestFuzzStuffing_RoundTrip verifies Unstuff(Stuff(x)) == x and that a
// stuffed payload never contains an unescaped header
func TestFuzzStuffing_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		params := randomParams(rng, 64)
		stuffed := Stuff(params)
		if back := Unstuff(stuffed); !bytes.Equal(back, params) {
			t.Fatalf("round %d: % X -> % X -> % X", i, params, stuffed, back)
		}
		for j := 0; j+3 < len(stuffed); j++ {
			if stuffed[j] == 0xFF && stuffed[j+1] == 0xFF && stuffed[j+2] == 0xFD && stuffed[j+3] != 0xFD {
				t.Fatalf("round %d: unescaped header at %d in % X", i, j, stuffed)
			}
		}
	}
}

// TestFuzzDecoder_RandomBytes feeds random bytes to the stream decoder
// and verifies it doesn't crash or panic
func TestFuzzDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for _, v := range []Version{V1, V2} {
		c, _ := CodecFor(v)
		for i := 0; i < rounds; i++ {
			d := NewDecoder(c)

			length := rng.Intn(512) + 1
			data := make([]byte, length)
			rng.Read(data)

			d.Write(data)
			for {
				_, err := d.Next()
				if errors.Is(err, ErrIncomplete) {
					break
				}
			}
			if d.Buffered() > len(data) {
				t.Fatalf("decoder grew beyond its input: %d > %d", d.Buffered(), len(data))
			}
		}
	}
}

// TestFuzzDecoder_NoiseBetweenFrames surrounds valid frames with random
// noise that cannot contain a header and verifies every frame is recovered
func TestFuzzDecoder_NoiseBetweenFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	c, _ := CodecFor(V2)
	for i := 0; i < rounds; i++ {
		d := NewDecoder(c)

		count := rng.Intn(4) + 1
		var ids []uint8
		for j := 0; j < count; j++ {
			noise := make([]byte, rng.Intn(8))
			for k := range noise {
				noise[k] = byte(rng.Intn(0xFF)) // never 0xFF
			}
			d.Write(noise)

			id := uint8(rng.Intn(int(MaxIDV2) + 1))
			raw, _ := c.Encode(id, InstStatus, append([]byte{0x00}, randomParams(rng, 16)...))
			d.Write(raw)
			ids = append(ids, id)
		}

		for j := 0; j < count; j++ {
			f, err := d.Next()
			if err != nil {
				t.Fatalf("round %d frame %d: %v", i, j, err)
			}
			if f.ID != ids[j] {
				t.Errorf("round %d frame %d: expected ID %d, got %d", i, j, ids[j], f.ID)
			}
		}
	}
}

// TestFuzzDecoder_CorruptedFrames flips a random byte inside a frame and
// verifies the decoder never returns a frame with different content
func TestFuzzDecoder_CorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for _, v := range []Version{V1, V2} {
		c, _ := CodecFor(v)
		for i := 0; i < rounds; i++ {
			params := randomParams(rng, 32)
			raw, _ := c.Encode(uint8(rng.Intn(MaxIDV2+1)), InstWrite, params)

			idx := rng.Intn(len(raw))
			raw[idx] ^= byte(rng.Intn(255) + 1)

			d := NewDecoder(c)
			d.Write(raw)
			for {
				f, err := d.Next()
				if errors.Is(err, ErrIncomplete) {
					break
				}
				if err == nil && bytes.Equal(f.Raw, raw) {
					t.Fatalf("v%s round %d: corrupted frame accepted: % X", v, i, raw)
				}
			}
		}
	}
}
