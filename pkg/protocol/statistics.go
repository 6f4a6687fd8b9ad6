// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package protocol

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks frame statistics and error rates. It is safe for
// concurrent use; read it through Snapshot.
type Statistics struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// StatsSnapshot is a point-in-time copy of the counters
type StatsSnapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames        uint64
	ValidFrames        uint64
	InstructionFrames  uint64
	StatusFrames       uint64
	CRCErrors          uint64
	DecodeErrors       uint64
	MalformedFrames    uint64
	HardwareErrors     uint64
	Timeouts           uint64
	Transactions       uint64
	FailedTransactions uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: StatsSnapshot{StartTime: now, LastUpdateTime: now}}
}

// Update records one decode result with its validation errors
func (st *Statistics) Update(f *Frame, decodeErr error, validationErrors []ValidationError) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := &st.s

	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrChecksumMismatch) {
			s.CRCErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if f != nil {
		if f.Version == V2 && f.IsStatus() {
			s.StatusFrames++
		} else if f.Version == V2 {
			s.InstructionFrames++
		}
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	malformed := false
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyHardwareError, AnomalyHardwareAlert:
			s.HardwareErrors++
		default:
			malformed = true
		}
	}
	if malformed {
		s.MalformedFrames++
	} else {
		s.ValidFrames++
	}
}

// RecordTransaction counts one completed bus transaction
func (st *Statistics) RecordTransaction(ok, timedOut bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Transactions++
	if !ok {
		st.s.FailedTransactions++
	}
	if timedOut {
		st.s.Timeouts++
	}
	st.s.LastUpdateTime = time.Now()
}

// Snapshot returns a copy of the counters with rates calculated
func (st *Statistics) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := st.s
	elapsed := time.Since(snap.StartTime).Seconds()
	if elapsed > 0 {
		snap.FrameRate = float64(snap.TotalFrames) / elapsed
		snap.ErrorRate = float64(snap.Errors()) / elapsed
	}
	return snap
}

// Errors returns the number of frames that failed decoding or validation
func (s StatsSnapshot) Errors() uint64 {
	return s.CRCErrors + s.DecodeErrors + s.MalformedFrames
}

// String returns a formatted statistics summary
func (s StatsSnapshot) String() string {
	var validPercent, crcErrorPercent, decodeErrorPercent, malformedPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		crcErrorPercent = float64(s.CRCErrors) * 100.0 / float64(s.TotalFrames)
		decodeErrorPercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.MalformedFrames) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.InstructionFrames > 0 || s.StatusFrames > 0 {
		result += fmt.Sprintf("  Instructions:   %7d\n", s.InstructionFrames)
		result += fmt.Sprintf("  Status:         %7d\n", s.StatusFrames)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, crcErrorPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodeErrorPercent)
	}
	if s.MalformedFrames > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.MalformedFrames, malformedPercent)
	}
	if s.HardwareErrors > 0 {
		result += fmt.Sprintf("Hardware Errors: %8d\n", s.HardwareErrors)
	}
	if s.Transactions > 0 {
		result += fmt.Sprintf("Transactions:    %8d (%d failed, %d timeouts)\n",
			s.Transactions, s.FailedTransactions, s.Timeouts)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.s = StatsSnapshot{StartTime: now, LastUpdateTime: now}
}
