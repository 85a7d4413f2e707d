package testutils

import (
	"sync"
	"time"

	"github.com/srg/musebridge/internal/headset"
)

// InlineScheduler runs posted tasks immediately on the caller's goroutine;
// delayed tasks run on a timer goroutine.
type InlineScheduler struct{}

func (InlineScheduler) Post(fn func()) bool {
	fn()
	return true
}

func (InlineScheduler) PostDelayed(delay time.Duration, fn func()) bool {
	time.AfterFunc(delay, fn)
	return true
}

// RecordingListener is a headset.Listener that keeps everything it receives.
type RecordingListener struct {
	mu       sync.Mutex
	Statuses []headset.ConnectionStatus
	EEG      []headset.EEGSample
	Bands    []headset.BandPower
	Optical  []headset.OpticalSample
	Motion   []headset.MotionSample
}

var _ headset.Listener = (*RecordingListener)(nil)

func (l *RecordingListener) OnConnectionStatus(s headset.ConnectionStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Statuses = append(l.Statuses, s)
}

func (l *RecordingListener) OnEEG(s headset.EEGSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.EEG = append(l.EEG, s)
}

func (l *RecordingListener) OnBandPower(b headset.BandPower) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Bands = append(l.Bands, b)
}

func (l *RecordingListener) OnOptical(s headset.OpticalSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Optical = append(l.Optical, s)
}

func (l *RecordingListener) OnMotion(s headset.MotionSample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Motion = append(l.Motion, s)
}

// StatusSnapshot returns a copy of received connection statuses
func (l *RecordingListener) StatusSnapshot() []headset.ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]headset.ConnectionStatus(nil), l.Statuses...)
}
