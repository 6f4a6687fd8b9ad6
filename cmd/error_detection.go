// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and actuator errors",
	Long: `Track frame errors, malformed instructions, and actuator faults with statistics.

This command validates each frame seen on the bus and detects:
  - Checksum errors and decode failures
  - Malformed instructions (parameter length mismatches, reserved or
    duplicate IDs in group instructions, group instructions not broadcast)
  - Hardware errors and alerts reported in status packets
  - Instructions that never received a status packet (protocol 2.0)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	Args: cobra.NoArgs,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	port, codec, connInfo, err := OpenPort()
	if err != nil {
		return err
	}
	defer port.Close()

	if useTUI {
		return runTUIMode(port, codec, connInfo)
	}
	return runTextMode(port, codec, connInfo)
}

//////////////////////////////////////////////////////////////
// Response Tracking
//////////////////////////////////////////////////////////////

// responseTracker notices protocol 2.0 instructions addressed to a single
// actuator that were followed by another instruction instead of a status
// packet
type responseTracker struct {
	pending bool
	id      uint8
	inst    protocol.Instruction
}

// observe records f and returns the instruction left unanswered, if any
func (rt *responseTracker) observe(f protocol.Frame) (protocol.Instruction, uint8, bool) {
	if f.Version != protocol.V2 {
		return 0, 0, false
	}

	if f.IsStatus() {
		if rt.pending && f.ID == rt.id {
			rt.pending = false
		}
		return 0, 0, false
	}

	inst, _ := f.Instruction()
	missedInst, missedID, missed := rt.inst, rt.id, rt.pending
	rt.pending = f.ID != protocol.BroadcastID
	rt.id = f.ID
	rt.inst = inst
	return missedInst, missedID, missed
}

//////////////////////////////////////////////////////////////
// Text Mode
//////////////////////////////////////////////////////////////

// printDecodeError prints a decode error in highlighted format
func printDecodeError(at time.Time, err error) {
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", at.Format("15:04:05.000"), err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(ev frameEvent, errors []protocol.ValidationError) {
	timestamp := ev.at.Format("15:04:05.000")
	inst, _ := ev.frame.Instruction()
	label := fmt.Sprintf("%s (0x%02X)", protocol.FormatInstruction(inst), uint8(inst))
	rejected := false

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s id=%s\n", timestamp, label, protocol.FormatID(ev.frame.ID))
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case protocol.AnomalyLengthMismatch:
			rejected = true
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if received, ok := err.Details["received"].(int); ok {
				if expected, ok := err.Details["expected"].(string); ok {
					fmt.Printf("    Length: received=%d, expected=%s\n", received, expected)
				}
			}

		case protocol.AnomalyInvalidID, protocol.AnomalyDuplicateID, protocol.AnomalyNotBroadcast,
			protocol.AnomalyUnknownInstruction:
			rejected = true
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case protocol.AnomalyHardwareError, protocol.AnomalyHardwareAlert:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if code, ok := err.Details["error"].(uint8); ok {
				fmt.Printf("    error=0x%02X\n", code)
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	if rejected {
		fmt.Printf("  >>> FRAME MALFORMED <<<\n\n")
	} else {
		fmt.Println()
	}
}

// printMissedResponse prints an instruction that got no status packet
func printMissedResponse(at time.Time, inst protocol.Instruction, id uint8) {
	fmt.Printf("[%s] \033[1;33mNO RESPONSE:\033[0m %s to id=%s\n\n",
		at.Format("15:04:05.000"), protocol.FormatInstruction(inst), protocol.FormatID(id))
}

// runTextMode runs error detection in text mode
func runTextMode(port transport.Port, codec protocol.Codec, connInfo string) error {
	fmt.Printf("dxlstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := protocol.NewStatistics()
	tracker := &responseTracker{}
	events := make(chan frameEvent, 64)
	syncs := make(chan uint64, 1)
	done := make(chan error, 1)

	go func() {
		done <- sniff(port, codec, func(skipped uint64) { syncs <- skipped }, func(ev frameEvent) {
			events <- ev
		})
	}()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case skipped := <-syncs:
			if skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", skipped)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}

		case ev := <-events:
			if ev.decodeErr != nil {
				stats.Update(nil, ev.decodeErr, nil)
				printDecodeError(ev.at, ev.decodeErr)
				continue
			}

			if inst, id, missed := tracker.observe(ev.frame); missed {
				stats.RecordTransaction(false, true)
				printMissedResponse(ev.at, inst, id)
			}

			validationErrors := protocol.ValidateFrame(ev.frame)
			stats.Update(&ev.frame, nil, validationErrors)

			if len(validationErrors) > 0 {
				printValidationErrors(ev, validationErrors)
			} else if showAll {
				fmt.Print(protocol.FormatFrame(ev.frame, ev.at))
			}

		case err := <-done:
			fmt.Println()
			fmt.Print(stats.Snapshot().String())
			return err

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.Snapshot().String())
			fmt.Println()
		}
	}
}

//////////////////////////////////////////////////////////////
// TUI Mode
//////////////////////////////////////////////////////////////

// runTUIMode runs error detection in TUI mode
func runTUIMode(port transport.Port, codec protocol.Codec, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		err := sniff(port, codec, func(skipped uint64) {
			p.Send(syncMsg{invalidBytes: skipped})
		}, func(ev frameEvent) {
			var validationErrors []protocol.ValidationError
			if ev.decodeErr == nil {
				validationErrors = protocol.ValidateFrame(ev.frame)
			}
			p.Send(frameDataMsg{event: ev, validationErrors: validationErrors})
		})
		if err != nil {
			log.Printf("Read error: %v", err)
		}
		p.Send(linkClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
