package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/stream"
	"github.com/srg/musebridge/internal/transport/mqttsink"
	"github.com/srg/musebridge/internal/transport/ws"
	"github.com/srg/musebridge/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge behind a WebSocket host shell",
	Long: `Run the bridge and expose it to host applications over WebSocket.

Clients connect to ws://<addr>/ws and exchange JSON frames:
  {"type":"call","id":1,"method":"startDeviceScan"}
  {"type":"listen","id":2,"channel":"com.muselog.muse/device_scan"}
  {"type":"cancel","id":3,"channel":"com.muselog.muse/device_scan"}

Prometheus metrics are served on /metrics, liveness on /healthz.
With --mqtt-broker, the selected event streams are also republished to MQTT.`,
	Example: `  # Synthetic headset on the default address
  musebridge serve

  # Real headsets, explicit permission model, events mirrored to MQTT
  musebridge serve --sdk ble --platform explicit --api-level 33 \
    --grant android.permission.BLUETOOTH_SCAN,android.permission.BLUETOOTH_CONNECT \
    --mqtt-broker tcp://localhost:1883 --mqtt-streams eeg_data,imu`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	defaults := config.DefaultConfig()
	addBridgeFlags(serveCmd)
	serveCmd.Flags().String("addr", defaults.Listen, "Listen address")
	serveCmd.Flags().String("mqtt-broker", "", "MQTT broker URL (tcp://, ssl://, ws://); empty disables MQTT")
	serveCmd.Flags().String("mqtt-prefix", defaults.MQTT.Prefix, "MQTT topic prefix")
	serveCmd.Flags().StringSlice("mqtt-streams", nil, "Event streams to republish (default: all but device_scan)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg.LogLevel)
	if err != nil {
		return err
	}

	var categories []stream.Category
	if cfg.MQTT.Broker != "" {
		if categories, err = mqttCategories(cfg.MQTT.Categories); err != nil {
			return err
		}
	}

	// Arguments are valid past this point
	cmd.SilenceUsage = true

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.WithError(err).Warn("Bridge dispose reported errors")
		}
	}()

	if cfg.MQTT.Broker != "" {
		pub, err := mqttsink.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, logger)
		if err != nil {
			return err
		}
		sink := mqttsink.New(pub, mqttsink.Options{
			Prefix:  cfg.MQTT.Prefix,
			QoS:     cfg.MQTT.QoS,
			Metrics: rt.metrics,
			Logger:  logger,
		})
		defer sink.Close()
		if err := sink.Attach(rt.bridge.Streams(), categories...); err != nil {
			return err
		}
	}

	srv := ws.NewServer(rt.bridge, ws.Options{
		Addr:      cfg.Listen,
		QueueSize: cfg.ClientQueueSize,
		Metrics:   rt.metrics,
		Registry:  metrics.NewRegistry(rt.metrics),
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"addr":     cfg.Listen,
		"sdk":      cfg.SDK,
		"platform": cfg.Platform,
		"mqtt":     cfg.MQTT.Broker,
	}).Info("Serving")

	return srv.Start(ctx)
}

// mqttCategories parses stream names, defaulting to every stream except discovery
func mqttCategories(names []string) ([]stream.Category, error) {
	if len(names) == 0 {
		var out []stream.Category
		for _, c := range stream.Categories() {
			if c != stream.DeviceScan {
				out = append(out, c)
			}
		}
		return out, nil
	}

	out := make([]stream.Category, 0, len(names))
	for _, name := range names {
		c, err := stream.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("invalid --mqtt-streams: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
