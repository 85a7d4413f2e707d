package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/headset"
)

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, headset.ErrBluetoothOff):
		return "Bluetooth is turned off. Turn it on and try again."
	case errors.Is(err, headset.ErrUnsupported):
		return "Bluetooth LE is not available on this platform; use --sdk stub"
	case errors.Is(err, channel.ErrNotImplemented):
		return fmt.Sprintf("%s (available methods: %s)", err, strings.Join(channel.Methods(), ", "))
	}

	if cerr, ok := channel.AsError(err); ok {
		if strings.Contains(strings.ToLower(cerr.Message), headset.ErrBluetoothOff.Error()) {
			return "Bluetooth is turned off. Turn it on and try again."
		}
		return fmt.Sprintf("%s (%s)", cerr.Message, cerr.Code)
	}
	return err.Error()
}
