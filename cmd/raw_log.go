// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
	"github.com/spf13/cobra"
)

// sniffPoll bounds each passive read so the loop notices a closed port
const sniffPoll = 100 * time.Millisecond

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display bus traffic in human-readable format",
	Long: `Continuously decode and display Dynamixel frames as they appear on the bus.

Each frame is shown with a timestamp, its instruction, the target ID and the
decoded parameters. Nothing is transmitted; run it on a spare adapter or a
bridge that mirrors another controller's traffic.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	port, codec, connInfo, err := OpenPort()
	if err != nil {
		return err
	}
	defer port.Close()

	fmt.Printf("dxlstat - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	return sniff(port, codec, nil, func(ev frameEvent) {
		if ev.decodeErr != nil {
			fmt.Printf("[ERROR] %v\n", ev.decodeErr)
			return
		}
		fmt.Print(protocol.FormatFrame(ev.frame, ev.at))
	})
}

// frameEvent is one decode result from a passive reader
type frameEvent struct {
	frame     protocol.Frame
	at        time.Time
	decodeErr error
}

// sniff reads port until it fails, handing every decoded frame and every
// decode error to fn. Decode errors before the first good frame are line
// noise and are not reported; onSync, if set, receives the number of bytes
// skipped to get there.
func sniff(port transport.Port, codec protocol.Codec, onSync func(skipped uint64), fn func(frameEvent)) error {
	dec := protocol.NewDecoder(codec)
	buf := make([]byte, 256)
	synchronized := false

	for {
		n, err := port.ReadUntil(buf, time.Now().Add(sniffPoll))
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				log.Printf("Connection closed")
				return nil
			}
			return fmt.Errorf("failed to read: %w", err)
		}
		if n == 0 {
			continue
		}
		dec.Write(buf[:n])

		for {
			frame, err := dec.Next()
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				if synchronized {
					fn(frameEvent{at: time.Now(), decodeErr: err})
				}
				continue
			}
			if !synchronized {
				synchronized = true
				if onSync != nil {
					onSync(dec.Discarded())
				}
			}
			fn(frameEvent{frame: frame, at: time.Now()})
		}
	}
}
