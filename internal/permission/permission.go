// Package permission decides whether the bridge may use Bluetooth.
//
// On implicit platforms access is granted by the operating system. On
// explicit platforms a fixed set of runtime permissions, chosen by the
// platform API level, must be granted first; when any is missing a request
// is issued and the gate answers false right away. The request outcome
// arrives later through ExplicitGate.OnResult.
package permission

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Runtime permission names
const (
	BluetoothScan      = "android.permission.BLUETOOTH_SCAN"
	BluetoothConnect   = "android.permission.BLUETOOTH_CONNECT"
	Bluetooth          = "android.permission.BLUETOOTH"
	BluetoothAdmin     = "android.permission.BLUETOOTH_ADMIN"
	AccessFineLocation = "android.permission.ACCESS_FINE_LOCATION"
)

// SplitBluetoothAPILevel is the first API level with the split
// scan/connect Bluetooth permissions.
const SplitBluetoothAPILevel = 31

// Platform selects the gate flavour
type Platform string

const (
	Implicit Platform = "implicit"
	Explicit Platform = "explicit"
)

// ParsePlatform accepts the platform names and their ios/android aliases
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "implicit", "ios", "darwin":
		return Implicit, nil
	case "explicit", "android":
		return Explicit, nil
	default:
		return "", fmt.Errorf("unknown platform %q (want implicit or explicit)", s)
	}
}

// Gate answers whether Bluetooth access is currently granted
type Gate interface {
	RequestBluetooth() bool
}

// RequiredFor returns the permission set needed at apiLevel
func RequiredFor(apiLevel int) []string {
	if apiLevel >= SplitBluetoothAPILevel {
		return []string{BluetoothScan, BluetoothConnect, AccessFineLocation}
	}
	return []string{Bluetooth, BluetoothAdmin, AccessFineLocation}
}

// Checker reports whether a single permission is granted
type Checker interface {
	IsGranted(permission string) bool
}

// Requester asks the host to grant permissions. done receives the per
// permission outcome and may be called on any goroutine.
type Requester interface {
	Request(permissions []string, done func(results map[string]bool))
}

// ImplicitGate always grants access
type ImplicitGate struct{}

func (ImplicitGate) RequestBluetooth() bool { return true }

// ExplicitGate checks runtime permissions and requests the missing ones.
type ExplicitGate struct {
	APILevel  int
	Checker   Checker
	Requester Requester
	// OnResult, when set, receives the outcome of an issued request
	OnResult func(granted bool, results map[string]bool)

	logger *logrus.Logger
}

// NewExplicit creates an explicit gate
func NewExplicit(apiLevel int, checker Checker, requester Requester, logger *logrus.Logger) *ExplicitGate {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExplicitGate{
		APILevel:  apiLevel,
		Checker:   checker,
		Requester: requester,
		logger:    logger,
	}
}

// RequestBluetooth returns true when every required permission is granted.
// Otherwise it issues a request for the whole set and returns false without
// waiting for the outcome.
func (g *ExplicitGate) RequestBluetooth() bool {
	required := RequiredFor(g.APILevel)

	var missing []string
	for _, p := range required {
		if g.Checker == nil || !g.Checker.IsGranted(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return true
	}

	g.logger.WithFields(logrus.Fields{
		"api_level": g.APILevel,
		"missing":   missing,
	}).Info("Requesting Bluetooth permissions")

	if g.Requester != nil {
		g.Requester.Request(required, func(results map[string]bool) {
			granted := true
			for _, p := range required {
				if !results[p] {
					granted = false
					break
				}
			}
			g.logger.WithField("granted", granted).Debug("Permission request completed")
			if g.OnResult != nil {
				g.OnResult(granted, results)
			}
		})
	}
	return false
}

// StaticHost is a Checker and Requester backed by a fixed grant set. A
// request grants nothing new and reports the current state.
type StaticHost struct {
	mu      sync.RWMutex
	granted map[string]bool
}

// NewStaticHost creates a host with the given permissions granted
func NewStaticHost(granted ...string) *StaticHost {
	h := &StaticHost{granted: make(map[string]bool, len(granted))}
	for _, p := range granted {
		h.granted[p] = true
	}
	return h
}

func (h *StaticHost) IsGranted(permission string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.granted[permission]
}

// Grant marks permissions as granted
func (h *StaticHost) Grant(permissions ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range permissions {
		h.granted[p] = true
	}
}

// Granted returns the granted permissions, sorted
func (h *StaticHost) Granted() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.granted))
	for p, ok := range h.granted {
		if ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (h *StaticHost) Request(permissions []string, done func(map[string]bool)) {
	results := make(map[string]bool, len(permissions))
	for _, p := range permissions {
		results[p] = h.IsGranted(p)
	}
	if done != nil {
		done(results)
	}
}

// New builds the gate for platform. Explicit gates use host as both
// checker and requester.
func New(platform Platform, apiLevel int, host *StaticHost, logger *logrus.Logger) (Gate, error) {
	switch platform {
	case Implicit:
		return ImplicitGate{}, nil
	case Explicit:
		if host == nil {
			host = NewStaticHost()
		}
		return NewExplicit(apiLevel, host, host, logger), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}
