package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/stream"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var callCmd = &cobra.Command{
	Use:   "call <method> [key=value...]",
	Short: "Invoke one command channel method",
	Long: `Invoke one method on the bridge's command channel and print its result as JSON.

Arguments are key=value pairs; "true" and "false" become booleans, everything
else is passed as a string. With --wait, every event stream is listened to
and events are printed, one JSON object per line, until the wait elapses.

Methods: ` + strings.Join(channel.Methods(), ", "),
	Example: `  musebridge call requestBluetoothPermissions
  musebridge call connectToDevice deviceId=stub-muse-001
  musebridge call startDeviceScan --wait 3s`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	addBridgeFlags(callCmd)
	callCmd.Flags().Duration("wait", 0, "Print stream events for this long after the call")
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}
	wait, _ := cmd.Flags().GetDuration("wait")

	call, err := parseCall(args[0], args[1:])
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := &lockedWriter{w: cmd.OutOrStdout()}
	if wait > 0 {
		for name, h := range rt.bridge.Streams() {
			if _, err := h.OnListen(nil, newPrintSink(out, name)); err != nil {
				return err
			}
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := rt.bridge.Handle(ctx, call)
	if err != nil {
		return fmt.Errorf("%s: %w", call.Method, err)
	}

	line := orderedmap.New[string, any]()
	line.Set("method", call.Method)
	line.Set("result", result)
	if err := out.writeJSON(line); err != nil {
		return err
	}

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	rt.loop.Sync()
	return nil
}

// parseCall builds a call from a method name and key=value arguments
func parseCall(method string, pairs []string) (*channel.Call, error) {
	kv := make([]any, 0, len(pairs)*2)
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", p)
		}
		switch value {
		case "true", "false":
			kv = append(kv, key, value == "true")
		default:
			kv = append(kv, key, value)
		}
	}
	return channel.NewCall(method, kv...), nil
}

// lockedWriter serializes JSON lines written from the looper and the command
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintln(l.w, string(data))
	return err
}

func newPrintSink(out *lockedWriter, channelName string) stream.Sink {
	write := func(kind string, payload any) {
		line := orderedmap.New[string, any]()
		line.Set("channel", channelName)
		line.Set(kind, payload)
		_ = out.writeJSON(line)
	}
	return &stream.FuncSink{
		OnEvent: func(event any) { write("event", event) },
		OnError: func(code, message string, details any) {
			write("error", channel.NewError(code, message, details))
		},
		OnEnd: func() { write("end", true) },
	}
}
