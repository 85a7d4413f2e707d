package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/musebridge/internal/bridge"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/headset/goble"
	"github.com/srg/musebridge/internal/headset/stub"
	"github.com/srg/musebridge/internal/looper"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/permission"
	"github.com/srg/musebridge/pkg/config"
)

// runtime is one in-process bridge with everything it owns
type runtime struct {
	cfg     *config.Config
	logger  *logrus.Logger
	metrics *metrics.Metrics
	loop    *looper.Looper
	bridge  *bridge.Bridge
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*runtime, error) {
	loop := looper.New("bridge-main", logger)

	sdk, err := newSDK(cfg, loop, logger)
	if err != nil {
		loop.Close()
		return nil, err
	}

	platform, err := permission.ParsePlatform(cfg.Platform)
	if err != nil {
		loop.Close()
		return nil, err
	}
	gate, err := permission.New(platform, cfg.APILevel, permission.NewStaticHost(cfg.GrantedPermissions...), logger)
	if err != nil {
		loop.Close()
		return nil, err
	}

	m := metrics.New()
	b, err := bridge.New(bridge.Options{
		SDK:     sdk,
		Gate:    gate,
		Looper:  loop,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		loop.Close()
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"sdk":      cfg.SDK,
		"platform": platform,
	}).Debug("Bridge ready")

	return &runtime{cfg: cfg, logger: logger, metrics: m, loop: loop, bridge: b}, nil
}

func newSDK(cfg *config.Config, scheduler looper.Scheduler, logger *logrus.Logger) (headset.SDK, error) {
	switch cfg.SDK {
	case config.SDKStub:
		return stub.New(scheduler, cfg.ScanDelay, logger), nil
	case config.SDKBLE:
		return goble.New(scheduler, &goble.Options{
			AllowDuplicates: true,
			ConnectTimeout:  cfg.ConnectTimeout,
			Preset:          cfg.Preset,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown sdk %q", cfg.SDK)
	}
}

func (r *runtime) Close() error {
	return r.bridge.Dispose()
}

// loadConfig reads --config and applies the command's explicitly set flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	set := func(name string, apply func() error) error {
		if f := flags.Lookup(name); f == nil || !f.Changed {
			return nil
		}
		return apply()
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(set("sdk", func() (err error) { cfg.SDK, err = flags.GetString("sdk"); return }))
	collect(set("platform", func() (err error) { cfg.Platform, err = flags.GetString("platform"); return }))
	collect(set("api-level", func() (err error) { cfg.APILevel, err = flags.GetInt("api-level"); return }))
	collect(set("grant", func() (err error) { cfg.GrantedPermissions, err = flags.GetStringSlice("grant"); return }))
	collect(set("scan-delay", func() (err error) { cfg.ScanDelay, err = flags.GetDuration("scan-delay"); return }))
	collect(set("duration", func() (err error) { cfg.ScanDuration, err = flags.GetDuration("duration"); return }))
	collect(set("format", func() (err error) { cfg.OutputFormat, err = flags.GetString("format"); return }))
	collect(set("addr", func() (err error) { cfg.Listen, err = flags.GetString("addr"); return }))
	collect(set("mqtt-broker", func() (err error) { cfg.MQTT.Broker, err = flags.GetString("mqtt-broker"); return }))
	collect(set("mqtt-prefix", func() (err error) { cfg.MQTT.Prefix, err = flags.GetString("mqtt-prefix"); return }))
	collect(set("mqtt-streams", func() (err error) { cfg.MQTT.Categories, err = flags.GetStringSlice("mqtt-streams"); return }))
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// addBridgeFlags registers the flags shared by every command that runs a bridge
func addBridgeFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	cmd.Flags().String("sdk", defaults.SDK, "Headset SDK (stub, ble)")
	cmd.Flags().String("platform", defaults.Platform, "Permission platform (implicit/ios, explicit/android)")
	cmd.Flags().Int("api-level", defaults.APILevel, "Platform API level for explicit permissions")
	cmd.Flags().StringSlice("grant", nil, "Permissions granted on explicit platforms")
	cmd.Flags().Duration("scan-delay", defaults.ScanDelay, "Stub scan result delay")
}
