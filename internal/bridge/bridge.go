// Package bridge dispatches host commands to a headset SDK and routes the
// SDK's events into the stream registry.
//
// One Bridge serves one host shell. Commands arrive through Handle; events
// leave through the sinks attached to the registry's stream handlers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/musebridge/internal/channel"
	"github.com/srg/musebridge/internal/headset"
	"github.com/srg/musebridge/internal/looper"
	"github.com/srg/musebridge/internal/metrics"
	"github.com/srg/musebridge/internal/permission"
	"github.com/srg/musebridge/internal/stream"
)

// ErrDisposed is returned by Handle after Dispose
var ErrDisposed = errors.New("bridge disposed")

// Options configures a Bridge
type Options struct {
	SDK      headset.SDK // required
	Gate     permission.Gate
	Registry *stream.Registry
	// Looper is closed by Dispose. Nil means the bridge creates its own.
	Looper  *looper.Looper
	Metrics *metrics.Metrics
	Logger  *logrus.Logger
}

type commandHandler func(ctx context.Context, call *channel.Call) (any, error)

// Bridge is the command dispatcher and the headset.Listener of the SDK
type Bridge struct {
	sdk      headset.SDK
	gate     permission.Gate
	registry *stream.Registry
	loop     *looper.Looper
	metrics  *metrics.Metrics
	logger   *logrus.Logger
	commands map[string]commandHandler

	mu       sync.RWMutex
	disposed bool

	// cmdMu runs command handlers one at a time
	cmdMu sync.Mutex
}

var _ headset.Listener = (*Bridge)(nil)

// New creates a bridge
func New(opts Options) (*Bridge, error) {
	if opts.SDK == nil {
		return nil, fmt.Errorf("bridge: headset SDK is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	gate := opts.Gate
	if gate == nil {
		gate = permission.ImplicitGate{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = stream.NewRegistry(logger)
	}
	loop := opts.Looper
	if loop == nil {
		loop = looper.New("bridge-main", logger)
	}

	b := &Bridge{
		sdk:      opts.SDK,
		gate:     gate,
		registry: registry,
		loop:     loop,
		metrics:  opts.Metrics,
		logger:   logger,
	}
	b.commands = map[string]commandHandler{
		channel.MethodRequestPermissions: b.requestPermissions,
		channel.MethodStartScan:          b.startScan,
		channel.MethodStopScan:           b.stopScan,
		channel.MethodConnect:            b.withDeviceID(b.connect),
		channel.MethodDisconnect:         b.withDeviceID(b.disconnect),
		channel.MethodStartStream:        b.withDeviceID(b.startStream),
		channel.MethodStopStream:         b.withDeviceID(b.stopStream),
	}

	if registry.OnChange == nil && b.metrics != nil {
		registry.OnChange = func(c stream.Category, active bool) {
			b.metrics.SinkActive(string(c), active)
		}
	}
	if g, ok := gate.(*permission.ExplicitGate); ok && g.OnResult == nil {
		g.OnResult = func(granted bool, results map[string]bool) {
			b.logger.WithFields(logrus.Fields{
				"granted": granted,
				"results": results,
			}).Info("Bluetooth permission request completed")
		}
	}
	return b, nil
}

// Registry returns the stream registry
func (b *Bridge) Registry() *stream.Registry {
	return b.registry
}

// Streams returns the host-facing stream handlers keyed by channel name
func (b *Bridge) Streams() map[string]*stream.Handler {
	return b.registry.Handlers()
}

// Scheduler returns the main loop that SDK callbacks run on
func (b *Bridge) Scheduler() looper.Scheduler {
	return b.loop
}

// Handle dispatches one command and returns its result. Failures are
// *channel.Error values; unknown methods return channel.ErrNotImplemented.
// Handlers never run concurrently, whichever goroutine calls Handle.
func (b *Bridge) Handle(ctx context.Context, call *channel.Call) (any, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.disposed {
		return nil, ErrDisposed
	}
	if call == nil {
		return nil, channel.ErrNotImplemented
	}

	logger := b.logger.WithField("method", call.Method)

	handler, ok := b.commands[call.Method]
	if !ok {
		logger.Debug("Method not implemented")
		b.metrics.Command(metrics.UnknownMethod, metrics.OutcomeNotImplemented)
		return nil, channel.ErrNotImplemented
	}

	b.cmdMu.Lock()
	result, err := handler(ctx, call)
	b.cmdMu.Unlock()
	if err != nil {
		logger.WithError(err).Warn("Command failed")
		b.metrics.Command(call.Method, metrics.OutcomeError)
		return nil, err
	}
	logger.WithField("result", result).Debug("Command handled")
	b.metrics.Command(call.Method, metrics.OutcomeOK)
	return result, nil
}

// withDeviceID rejects calls without a string deviceId before fn runs
func (b *Bridge) withDeviceID(fn func(ctx context.Context, id string) (any, error)) commandHandler {
	return func(ctx context.Context, call *channel.Call) (any, error) {
		id, ok := call.StringArgument(channel.ArgDeviceID)
		if !ok {
			return nil, channel.ErrDeviceIDRequired()
		}
		return fn(ctx, id)
	}
}

func (b *Bridge) requestPermissions(context.Context, *channel.Call) (any, error) {
	return b.gate.RequestBluetooth(), nil
}

func (b *Bridge) startScan(ctx context.Context, _ *channel.Call) (any, error) {
	if err := b.sdk.StartScan(ctx, b.onDeviceList); err != nil {
		return nil, channel.NewError(channel.CodeScanError, err.Error(), nil)
	}
	return nil, nil
}

func (b *Bridge) stopScan(context.Context, *channel.Call) (any, error) {
	if err := b.sdk.StopScan(); err != nil {
		return nil, channel.NewError(channel.CodeScanError, err.Error(), nil)
	}
	return nil, nil
}

func (b *Bridge) connect(ctx context.Context, id string) (any, error) {
	ok, err := b.sdk.Connect(ctx, id, b)
	if err != nil {
		return nil, channel.NewError(channel.CodeConnectionError, err.Error(), nil)
	}
	return ok, nil
}

func (b *Bridge) disconnect(_ context.Context, id string) (any, error) {
	if err := b.sdk.Disconnect(id); err != nil {
		return nil, channel.NewError(channel.CodeConnectionError, err.Error(), nil)
	}
	return nil, nil
}

func (b *Bridge) startStream(_ context.Context, id string) (any, error) {
	if err := b.sdk.StartStream(id); err != nil {
		return nil, channel.NewError(channel.CodeStreamError, err.Error(), nil)
	}
	return nil, nil
}

func (b *Bridge) stopStream(_ context.Context, id string) (any, error) {
	if err := b.sdk.StopStream(id); err != nil {
		return nil, channel.NewError(channel.CodeStreamError, err.Error(), nil)
	}
	return nil, nil
}

// onDeviceList publishes the discovery list; dropped when nobody listens
func (b *Bridge) onDeviceList(list []headset.Descriptor) {
	b.emit(stream.DeviceScan, list)
}

func (b *Bridge) OnConnectionStatus(s headset.ConnectionStatus) {
	b.emit(stream.ConnectionStatus, s)
}

func (b *Bridge) OnEEG(s headset.EEGSample) {
	b.emit(stream.EEGData, s)
}

func (b *Bridge) OnBandPower(p headset.BandPower) {
	b.emit(stream.BandPower, p)
}

func (b *Bridge) OnOptical(s headset.OpticalSample) {
	b.emit(stream.Optical, s)
}

func (b *Bridge) OnMotion(s headset.MotionSample) {
	b.emit(stream.Motion, s)
}

func (b *Bridge) emit(c stream.Category, event any) bool {
	delivered := b.registry.Emit(c, event)
	b.metrics.Event(string(c), delivered)
	return delivered
}

// Dispose stops scanning, releases the SDK, ends every attached stream and
// stops the main loop. Safe to call more than once.
func (b *Bridge) Dispose() error {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return nil
	}
	b.disposed = true
	b.mu.Unlock()

	b.logger.Debug("Disposing bridge")

	var errs []error
	if err := b.sdk.StopScan(); err != nil {
		errs = append(errs, fmt.Errorf("stop scan: %w", err))
	}
	if err := b.sdk.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close sdk: %w", err))
	}

	b.loop.Close()

	for _, c := range stream.Categories() {
		if sink := b.registry.Detach(c); sink != nil {
			sink.EndOfStream()
		}
	}
	return errors.Join(errs...)
}
