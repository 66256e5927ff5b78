package capture

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

// ErrOverflow marks a read that lost samples in the device buffer. The
// returned block is still valid.
var ErrOverflow = errors.New("input overflowed")

// Stream is an open capture stream
type Stream interface {
	// Read blocks until one block of interleaved samples is available and
	// returns a slice the caller owns
	Read() ([]float32, error)
	Close() error
}

// Opener opens capture streams on a resolved device
type Opener interface {
	Open(device DeviceDescriptor, framesPerRead int) (Stream, error)
}

// PortAudioEnumerator lists devices through PortAudio
type PortAudioEnumerator struct{}

// Enumerate initializes PortAudio, snapshots the device list and terminates
// it again before returning
func (PortAudioEnumerator) Enumerate() (Inventory, error) {
	if err := portaudio.Initialize(); err != nil {
		return Inventory{}, fmt.Errorf("failed to initialize portaudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return Inventory{}, fmt.Errorf("failed to list devices: %w", err)
	}

	var inv Inventory
	for _, d := range devices {
		inv.Devices = append(inv.Devices, toDeviceInfo(d))
	}

	if out, err := portaudio.DefaultOutputDevice(); err == nil && out != nil {
		info := toDeviceInfo(out)
		inv.DefaultOutput = &info
	}
	return inv, nil
}

func toDeviceInfo(d *portaudio.DeviceInfo) DeviceInfo {
	info := DeviceInfo{
		ID:                d.Index,
		Name:              d.Name,
		MaxInputChannels:  d.MaxInputChannels,
		MaxOutputChannels: d.MaxOutputChannels,
		DefaultSampleRate: d.DefaultSampleRate,
	}
	if d.HostApi != nil {
		info.HostAPI = d.HostApi.Name
	}
	return info
}

// PortAudioOpener opens blocking-read PortAudio input streams
type PortAudioOpener struct{}

// Open starts a blocking input stream on the device
func (PortAudioOpener) Open(device DeviceDescriptor, framesPerRead int) (Stream, error) {
	if framesPerRead <= 0 {
		framesPerRead = device.SampleRate
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	info, err := findDevice(device.ID)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	buf := make([]float32, framesPerRead*device.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: device.Channels,
			Latency:  info.DefaultHighInputLatency,
		},
		SampleRate:      float64(device.SampleRate),
		FramesPerBuffer: framesPerRead,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	return &portAudioStream{stream: stream, buf: buf}, nil
}

func findDevice(id int) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.Index == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device %d is no longer available", id)
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
}

func (s *portAudioStream) Read() ([]float32, error) {
	err := s.stream.Read()
	if err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, err
	}

	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	if err != nil {
		return out, ErrOverflow
	}
	return out, nil
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	termErr := portaudio.Terminate()
	return errors.Join(stopErr, closeErr, termErr)
}
