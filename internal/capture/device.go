package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNoLoopbackDevice is returned when no device can capture system output
var ErrNoLoopbackDevice = errors.New("no loopback capture device found")

// fallbackSampleRate is used when a device reports no default rate
const fallbackSampleRate = 48000

// DeviceError reports a capture device failure. It is fatal to the pipeline.
type DeviceError struct {
	Op     string // resolve, open, read, reopen
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("capture %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("capture %s failed on %q: %v", e.Op, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// DeviceInfo is one enumerated audio device
type DeviceInfo struct {
	ID                int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// DeviceDescriptor describes the device chosen for capture
type DeviceDescriptor struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	HostAPI    string `json:"host_api"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Loopback   bool   `json:"loopback"`
}

// Inventory is a snapshot of the devices visible to the host audio system
type Inventory struct {
	Devices       []DeviceInfo
	DefaultOutput *DeviceInfo
}

// Enumerator lists devices. Implementations must not keep any device handle
// open after Enumerate returns.
type Enumerator interface {
	Enumerate() (Inventory, error)
}

// IsLoopbackName reports whether a device name marks a loopback or monitor
// source: WASAPI "[Loopback]" devices and PulseAudio/PipeWire monitors
func IsLoopbackName(name string) bool {
	n := strings.TrimSpace(name)
	return strings.HasSuffix(n, "[Loopback]") ||
		strings.HasPrefix(n, "Monitor of ") ||
		strings.HasSuffix(n, ".monitor")
}

// Describe converts enumerated info into a capture descriptor
func Describe(d DeviceInfo) DeviceDescriptor {
	rate := int(d.DefaultSampleRate)
	if rate <= 0 {
		rate = fallbackSampleRate
	}
	channels := 1
	if d.MaxInputChannels >= 2 {
		channels = 2
	}
	return DeviceDescriptor{
		ID:         d.ID,
		Name:       d.Name,
		HostAPI:    d.HostAPI,
		SampleRate: rate,
		Channels:   channels,
		Loopback:   IsLoopbackName(d.Name),
	}
}

// isLoopbackInput reports whether d can be opened as a loopback input
func isLoopbackInput(d DeviceInfo) bool {
	return d.MaxInputChannels > 0 && IsLoopbackName(d.Name)
}

// SelectLoopback picks the loopback device paired with the default output:
// the default output itself when it is a loopback device, then a loopback
// device on the same host API whose name contains the output's name, then
// any loopback device on that host API
func SelectLoopback(inv Inventory) (DeviceDescriptor, error) {
	if inv.DefaultOutput == nil {
		return DeviceDescriptor{}, fmt.Errorf("%w: no default output device", ErrNoLoopbackDevice)
	}
	out := *inv.DefaultOutput

	if isLoopbackInput(out) {
		return Describe(out), nil
	}

	for _, d := range inv.Devices {
		if d.HostAPI == out.HostAPI && isLoopbackInput(d) && strings.Contains(d.Name, out.Name) {
			return Describe(d), nil
		}
	}

	for _, d := range inv.Devices {
		if d.HostAPI == out.HostAPI && isLoopbackInput(d) {
			return Describe(d), nil
		}
	}

	return DeviceDescriptor{}, fmt.Errorf("%w for output %q on %s", ErrNoLoopbackDevice, out.Name, out.HostAPI)
}

// Resolver finds the capture device once per session
type Resolver struct {
	enumerator Enumerator
	preferred  string
	logger     *slog.Logger
}

// NewResolver creates a resolver. A non-empty preferred name overrides
// loopback selection with the first input device whose name contains it.
func NewResolver(enumerator Enumerator, preferred string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{enumerator: enumerator, preferred: preferred, logger: logger}
}

// Resolve enumerates devices and returns the one to capture from
func (r *Resolver) Resolve() (DeviceDescriptor, error) {
	inv, err := r.enumerator.Enumerate()
	if err != nil {
		return DeviceDescriptor{}, &DeviceError{Op: "resolve", Err: err}
	}

	r.logger.Debug("Enumerated audio devices", slog.Int("count", len(inv.Devices)))

	var device DeviceDescriptor
	if r.preferred != "" {
		device, err = selectByName(inv, r.preferred)
	} else {
		device, err = SelectLoopback(inv)
	}
	if err != nil {
		return DeviceDescriptor{}, &DeviceError{Op: "resolve", Err: err}
	}

	r.logger.Info("Selected capture device",
		slog.String("name", device.Name),
		slog.String("host_api", device.HostAPI),
		slog.Int("sample_rate", device.SampleRate),
		slog.Int("channels", device.Channels))
	return device, nil
}

func selectByName(inv Inventory, name string) (DeviceDescriptor, error) {
	for _, d := range inv.Devices {
		if d.MaxInputChannels > 0 && strings.Contains(d.Name, name) {
			return Describe(d), nil
		}
	}
	return DeviceDescriptor{}, fmt.Errorf("%w: no input device matching %q", ErrNoLoopbackDevice, name)
}
