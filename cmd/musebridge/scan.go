package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/stream"
	"github.com/srg/musebridge/pkg/config"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"
)

// lowBatteryPercent highlights batteries at or below this level
const lowBatteryPercent = 20

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover Muse headsets",
	Long: `Run one discovery session through the bridge's command channel and print
every headset reported on the device_scan stream.`,
	Example: `  musebridge scan --duration 5s
  musebridge scan --sdk ble --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	defaults := config.DefaultConfig()
	addBridgeFlags(scanCmd)
	scanCmd.Flags().DurationP("duration", "d", defaults.ScanDuration, "Scan duration")
	scanCmd.Flags().StringP("format", "f", defaults.OutputFormat, "Output format (table, json)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", logrus.PanicLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Later lists replace earlier entries but keep first-seen order
	devices := orderedmap.New[string, headset.Descriptor]()
	var mu sync.Mutex
	var progress *ScanProgress
	switch {
	case isJSON(cfg.OutputFormat):
	case colorEnabled(cmd.ErrOrStderr()):
		progress = NewScanProgress(cmd.ErrOrStderr(), "Scanning for Muse headsets", cfg.ScanDuration)
		progress.Start()
		defer progress.Stop()
	default:
		fmt.Fprintf(cmd.ErrOrStderr(), "Scanning for Muse headsets for %s...\n", cfg.ScanDuration)
	}

	sink := stream.NewFuncSink(func(event any) {
		list, ok := event.([]headset.Descriptor)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		for _, d := range list {
			devices.Set(d.ID, d)
		}
		if progress != nil {
			progress.SetFound(devices.Len())
		}
	})
	if _, err := rt.bridge.Streams()[stream.DeviceScan.ChannelName()].OnListen(nil, sink); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.ScanDuration)
	defer cancel()

	if _, err := rt.bridge.Handle(ctx, channel.NewCall(channel.MethodStartScan)); err != nil {
		return err
	}
	<-ctx.Done()
	if _, err := rt.bridge.Handle(context.Background(), channel.NewCall(channel.MethodStopScan)); err != nil {
		logger.WithError(err).Warn("Stop scan failed")
	}
	// Deliver list updates already queued on the main looper
	rt.loop.Sync()
	if progress != nil {
		progress.Stop()
	}

	mu.Lock()
	result := make([]headset.Descriptor, 0, devices.Len())
	for pair := devices.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	mu.Unlock()

	if isJSON(cfg.OutputFormat) {
		return displayDevicesJSON(cmd.OutOrStdout(), result)
	}
	displayDevicesTable(cmd.OutOrStdout(), result)
	return nil
}

func isJSON(format string) bool {
	return format == "json"
}

func displayDevicesTable(out io.Writer, devices []headset.Descriptor) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No headsets found")
		return
	}

	connected := color.New(color.FgGreen)
	low := color.New(color.FgRed)
	if !colorEnabled(out) {
		connected.DisableColor()
		low.DisableColor()
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tID\tCONNECTED\tBATTERY")
	for _, d := range devices {
		state := "no"
		if d.IsConnected {
			state = connected.Sprint("yes")
		}
		battery := "-"
		if d.BatteryPercent != headset.PlaceholderBattery {
			battery = strconv.Itoa(d.BatteryPercent) + "%"
			if d.BatteryPercent <= lowBatteryPercent {
				battery = low.Sprint(battery)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.ID, state, battery)
	}
	_ = w.Flush()
	fmt.Fprintf(out, "\n%d headset(s) found\n", len(devices))
}

func displayDevicesJSON(out io.Writer, devices []headset.Descriptor) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

// colorEnabled reports whether out is an interactive terminal
func colorEnabled(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd())) && !color.NoColor
}
