// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recording stores polled register samples as a CBOR sequence.
//
// A recording starts with one header record followed by sample records.
// Every record is a two element array [record_type, payload_map] whose map
// uses small integer keys.
package recording

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/fxamacker/cbor/v2"
)

// Record types
const (
	RecordHeader uint8 = 0x01
	RecordSample uint8 = 0x02
)

// Header payload keys
const (
	keyProtocol = 0
	keyAddress  = 1
	keyLength   = 2
	keySigned   = 3
	keyIDs      = 4
	keyStarted  = 5
)

// Sample payload keys
const (
	keyOffset  = 0
	keyValues  = 1
	keyErrors  = 2
	keyMissing = 3
)

// Header describes the register polled in a recording
type Header struct {
	Protocol protocol.Version
	Address  int
	Length   int
	Signed   bool
	IDs      []uint8
	Started  time.Time
}

// Sample is one poll of every actuator in the header
type Sample struct {
	// Offset is the time since Header.Started
	Offset  time.Duration
	Values  map[uint8]int64
	Errors  map[uint8]uint8
	Missing []uint8
}

// NewSample converts a group read into a sample
func NewSample(offset time.Duration, resp dxl.GroupResponse[int64]) Sample {
	s := Sample{
		Offset:  offset,
		Values:  make(map[uint8]int64, len(resp.Data)),
		Errors:  make(map[uint8]uint8, len(resp.Errors)),
		Missing: append([]uint8(nil), resp.Missing...),
	}
	for id, v := range resp.Data {
		s.Values[id] = v
	}
	for id, herr := range resp.Errors {
		s.Errors[id] = herr.Code
	}
	return s
}

// ============================================================
// Writer
// ============================================================

// Writer appends records to a stream
type Writer struct {
	w io.Writer
}

// NewWriter writes the header and returns a writer for samples
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	ids := make([]interface{}, len(h.IDs))
	for i, id := range h.IDs {
		ids[i] = uint64(id)
	}
	payload := map[int]interface{}{
		keyProtocol: uint64(h.Protocol),
		keyAddress:  uint64(h.Address),
		keyLength:   uint64(h.Length),
		keySigned:   h.Signed,
		keyIDs:      ids,
		keyStarted:  h.Started.UnixMilli(),
	}
	rw := &Writer{w: w}
	if err := rw.write(RecordHeader, payload); err != nil {
		return nil, err
	}
	return rw, nil
}

// WriteSample appends one sample
func (rw *Writer) WriteSample(s Sample) error {
	payload := map[int]interface{}{
		keyOffset: s.Offset.Microseconds(),
	}
	if len(s.Values) > 0 {
		values := make(map[int]interface{}, len(s.Values))
		for id, v := range s.Values {
			values[int(id)] = v
		}
		payload[keyValues] = values
	}
	if len(s.Errors) > 0 {
		codes := make(map[int]interface{}, len(s.Errors))
		for id, code := range s.Errors {
			codes[int(id)] = uint64(code)
		}
		payload[keyErrors] = codes
	}
	if len(s.Missing) > 0 {
		missing := make([]interface{}, len(s.Missing))
		for i, id := range s.Missing {
			missing[i] = uint64(id)
		}
		payload[keyMissing] = missing
	}
	return rw.write(RecordSample, payload)
}

func (rw *Writer) write(recordType uint8, payload map[int]interface{}) error {
	data, err := cbor.Marshal([]interface{}{uint64(recordType), payload})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := rw.w.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// ============================================================
// Reader
// ============================================================

// ErrNoHeader is returned when a stream does not start with a header record
var ErrNoHeader = errors.New("recording does not start with a header")

// Reader reads a recording written by Writer
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads the header of a recording
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{dec: cbor.NewDecoder(r)}
	recordType, payload, err := rr.next()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	if recordType != RecordHeader {
		return nil, ErrNoHeader
	}

	h := Header{}
	v, _ := getUint(payload, keyProtocol)
	h.Protocol = protocol.Version(v)
	v, _ = getUint(payload, keyAddress)
	h.Address = int(v)
	v, _ = getUint(payload, keyLength)
	h.Length = int(v)
	h.Signed, _ = payload[keySigned].(bool)
	if h.IDs, err = getIDs(payload, keyIDs); err != nil {
		return nil, err
	}
	started, _ := getInt(payload, keyStarted)
	h.Started = time.UnixMilli(started)

	rr.header = h
	return rr, nil
}

// Header returns the recording header
func (rr *Reader) Header() Header {
	return rr.header
}

// Next returns the next sample, or io.EOF at the end of the recording.
// Unknown record types are skipped.
func (rr *Reader) Next() (Sample, error) {
	for {
		recordType, payload, err := rr.next()
		if err != nil {
			return Sample{}, err
		}
		if recordType != RecordSample {
			continue
		}

		offset, _ := getInt(payload, keyOffset)
		s := Sample{
			Offset: time.Duration(offset) * time.Microsecond,
			Values: make(map[uint8]int64),
			Errors: make(map[uint8]uint8),
		}
		values, err := getMap(payload, keyValues)
		if err != nil {
			return Sample{}, err
		}
		for id := range values {
			v, _ := getInt(values, id)
			s.Values[uint8(id)] = v
		}
		codes, err := getMap(payload, keyErrors)
		if err != nil {
			return Sample{}, err
		}
		for id := range codes {
			code, _ := getUint(codes, id)
			s.Errors[uint8(id)] = uint8(code)
		}
		if s.Missing, err = getIDs(payload, keyMissing); err != nil {
			return Sample{}, err
		}
		return s, nil
	}
}

// next decodes one [record_type, payload_map] record
func (rr *Reader) next() (uint8, map[int]interface{}, error) {
	var msg []interface{}
	if err := rr.dec.Decode(&msg); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if len(msg) != 2 {
		return 0, nil, fmt.Errorf("expected 2-element array, got %d elements", len(msg))
	}

	recordType, ok := msg[0].(uint64)
	if !ok || recordType > 255 {
		return 0, nil, fmt.Errorf("invalid record type %v", msg[0])
	}
	payload, err := toIntMap(msg[1])
	if err != nil {
		return 0, nil, err
	}
	return uint8(recordType), payload, nil
}

// ============================================================
// Map Helpers
// ============================================================

func toIntMap(v interface{}) (map[int]interface{}, error) {
	if v == nil {
		return nil, nil
	}
	m, ok := v.(map[interface{}]interface{})
	if !ok {
		return nil, fmt.Errorf("expected map, got %T", v)
	}
	out := make(map[int]interface{}, len(m))
	for key, val := range m {
		switch k := key.(type) {
		case uint64:
			out[int(k)] = val
		case int64:
			out[int(k)] = val
		default:
			return nil, fmt.Errorf("expected integer map key, got %T", key)
		}
	}
	return out, nil
}

func getMap(m map[int]interface{}, key int) (map[int]interface{}, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	return toIntMap(v)
}

func getUint(m map[int]interface{}, key int) (uint64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return v, true
	case int64:
		if v >= 0 {
			return uint64(v), true
		}
	}
	return 0, false
}

func getInt(m map[int]interface{}, key int) (int64, bool) {
	switch v := m[key].(type) {
	case uint64:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func getIDs(m map[int]interface{}, key int) ([]uint8, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected ID array, got %T", v)
	}
	ids := make([]uint8, 0, len(list))
	for _, item := range list {
		id, ok := item.(uint64)
		if !ok || id > 255 {
			return nil, fmt.Errorf("invalid ID %v", item)
		}
		ids = append(ids, uint8(id))
	}
	return ids, nil
}

// SortedIDs returns the IDs of a sample's values in ascending order
func (s Sample) SortedIDs() []uint8 {
	ids := make([]uint8, 0, len(s.Values))
	for id := range s.Values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
