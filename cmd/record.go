// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/recording"
	"github.com/spf13/cobra"
)

var (
	recordOutput   string
	recordDuration time.Duration
	recordCount    int

	playbackRealtime bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a polled register to a file",
	Long: `Poll one register on a set of actuators and write every sample to a file.

The register and actuators are chosen with the same flags as monitor. The
file is a stream of CBOR records that playback prints back. Recording stops
after --duration or --count samples, or on Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runRecord,
}

var playbackCmd = &cobra.Command{
	Use:   "playback <file>",
	Short: "Print a recording made with record",
	Long: `Print every sample of a recording.

With --realtime the samples are printed at the pace they were recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlayback,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	addPollFlags(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Output file (required)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 = until Ctrl+C)")
	recordCmd.Flags().IntVar(&recordCount, "count", 0, "Stop after this many samples (0 = unlimited)")
	recordCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(playbackCmd)
	playbackCmd.Flags().BoolVar(&playbackRealtime, "realtime", false, "Replay at the recorded pace")
}

func runRecord(cmd *cobra.Command, args []string) error {
	var ids []uint8
	if monitorIDs != "" {
		var err error
		if ids, err = parseIDList(monitorIDs); err != nil {
			return err
		}
	}

	bus, connInfo, err := OpenBus()
	if err != nil {
		return err
	}
	defer bus.Disconnect()

	fmt.Printf("dxlstat - Record\n")
	fmt.Printf("Connection: %s\n", connInfo)

	if len(ids) == 0 {
		found, err := discover(bus)
		if err != nil {
			return err
		}
		for _, info := range found {
			ids = append(ids, info.ID)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no actuators found")
		}
	}

	address, length, _, _ := pollRegister(bus.Version())
	p, err := newPoller(bus, ids, address, length, monitorSigned, monitorFast)
	if err != nil {
		return err
	}

	f, err := os.Create(recordOutput)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", recordOutput, err)
	}
	defer f.Close()

	started := time.Now()
	w, err := recording.NewWriter(f, recording.Header{
		Protocol: bus.Version(),
		Address:  address,
		Length:   length,
		Signed:   monitorSigned,
		IDs:      ids,
		Started:  started,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Register: %d (%d bytes) on %d actuator(s) every %dms\n", address, length, len(ids), monitorInterval)
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if recordDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, recordDuration)
		defer cancel()
	}

	ticker := time.NewTicker(time.Duration(monitorInterval) * time.Millisecond)
	defer ticker.Stop()

	samples, failed := 0, 0
	for recordCount == 0 || samples < recordCount {
		resp := p.poll()
		if linkLost(resp.Err) {
			return fmt.Errorf("recording stopped after %d samples: %w", samples, resp.Err)
		}
		if err := w.WriteSample(recording.NewSample(time.Since(started), resp)); err != nil {
			return err
		}
		samples++
		if !resp.OK {
			failed++
		}
		fmt.Printf("\rSamples: %d (%d incomplete)", samples, failed)

		select {
		case <-ctx.Done():
			fmt.Printf("\n\nRecorded %d samples in %s\n", samples, time.Since(started).Round(time.Millisecond))
			return nil
		case <-ticker.C:
		}
	}

	fmt.Printf("\n\nRecorded %d samples in %s\n", samples, time.Since(started).Round(time.Millisecond))
	return nil
}

func runPlayback(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	defer f.Close()

	r, err := recording.NewReader(f)
	if err != nil {
		return err
	}

	h := r.Header()
	fmt.Printf("dxlstat - Playback\n")
	fmt.Printf("Recorded: %s | Protocol %s\n", h.Started.Format("2006-01-02 15:04:05"), h.Protocol)
	fmt.Printf("Register: %d (%d bytes%s) on IDs %s\n\n", h.Address, h.Length, signedSuffix(h.Signed), formatIDs(h.IDs))

	start := time.Now()
	samples := 0
	for {
		s, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("sample %d: %w", samples+1, err)
		}
		samples++

		if playbackRealtime {
			if wait := s.Offset - time.Since(start); wait > 0 {
				time.Sleep(wait)
			}
		}
		fmt.Println(formatSample(h, s))
	}

	fmt.Printf("\n%d samples\n", samples)
	return nil
}

// formatSample renders one sample as a single line
func formatSample(h recording.Header, s recording.Sample) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%10.3fs", s.Offset.Seconds())

	missing := make(map[uint8]bool, len(s.Missing))
	for _, id := range s.Missing {
		missing[id] = true
	}
	for _, id := range h.IDs {
		switch v, ok := s.Values[id]; {
		case ok:
			fmt.Fprintf(&b, "  %d=%d", id, v)
		case missing[id]:
			fmt.Fprintf(&b, "  %d=--", id)
		default:
			fmt.Fprintf(&b, "  %d=?", id)
		}
		if code, ok := s.Errors[id]; ok {
			herr := &protocol.HardwareError{ID: id, Version: h.Protocol, Code: code}
			fmt.Fprintf(&b, "[%s]", strings.Join(herr.Flags(), ","))
		}
	}
	return b.String()
}

func formatIDs(ids []uint8) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
