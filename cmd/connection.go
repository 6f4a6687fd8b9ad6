// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/dxlstat/pkg/dxl"
	"github.com/Thermoquad/dxlstat/pkg/protocol"
	"github.com/Thermoquad/dxlstat/pkg/transport"
	"golang.org/x/term"
)

// Process exit codes
const (
	exitFailed     = 1
	exitConnection = 2
)

// exitError attaches a process exit code to an error returned by a command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func connectionError(err error) error {
	return &exitError{code: exitConnection, err: err}
}

func usageError(format string, args ...interface{}) error {
	return &exitError{code: exitConnection, err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error returned by Execute to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ve *dxl.ValidationError
	if errors.As(err, &ve) {
		return exitConnection
	}
	return exitFailed
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("DXL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// busVersion parses the --protocol flag
func busVersion() (protocol.Version, error) {
	v, err := protocol.ParseVersion(protocolVer)
	if err != nil {
		return 0, usageError("%v", err)
	}
	return v, nil
}

// openerFromFlags picks the transport for the connection flags and returns
// it with the port path and a one-line description
func openerFromFlags() (transport.Opener, string, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", "", connectionError(err)
			}
		}
		opener := transport.WebSocketOpener(wsURL, wsUsername, password, wsNoSSLVerify)
		return opener, wsURL, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		opener, err := transport.OpenerFor(driverName)
		if err != nil {
			return nil, "", "", usageError("%v", err)
		}
		return opener, portName, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", "", usageError("either --port or --url must be specified")
}

// busConfig builds the bus configuration from the global flags without
// opening anything
func busConfig() (dxl.Config, string, error) {
	version, err := busVersion()
	if err != nil {
		return dxl.Config{}, "", err
	}
	opener, path, info, err := openerFromFlags()
	if err != nil {
		return dxl.Config{}, "", err
	}

	cfg := dxl.Config{
		Port:         path,
		BaudRate:     baudRate,
		Protocol:     version,
		Opener:       opener,
		LatencyTimer: time.Duration(latencyMs) * time.Millisecond,
	}
	if verbose {
		cfg.Logger = log.New(os.Stderr, "", 0)
	}
	return cfg, fmt.Sprintf("%s | Protocol %s", info, version), nil
}

// OpenBus creates a bus from the connection flags and connects it
func OpenBus() (*dxl.Bus, string, error) {
	cfg, info, err := busConfig()
	if err != nil {
		return nil, "", err
	}

	bus, err := dxl.New(cfg)
	if err != nil {
		return nil, "", usageError("%v", err)
	}
	if err := bus.Connect(); err != nil {
		return nil, "", connectionError(err)
	}
	return bus, info, nil
}

// OpenPort opens the raw byte link for passive monitoring, together with
// the codec for the selected protocol version
func OpenPort() (transport.Port, protocol.Codec, string, error) {
	version, err := busVersion()
	if err != nil {
		return nil, nil, "", err
	}
	codec, err := protocol.CodecFor(version)
	if err != nil {
		return nil, nil, "", usageError("%v", err)
	}
	opener, path, info, err := openerFromFlags()
	if err != nil {
		return nil, nil, "", err
	}

	port, err := opener(path, baudRate)
	if err != nil {
		return nil, nil, "", connectionError(fmt.Errorf("failed to open %s: %w", path, err))
	}
	return port, codec, fmt.Sprintf("%s | Protocol %s", info, version), nil
}
