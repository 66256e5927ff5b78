package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
)

// scriptedStream returns the queued results in order, then blocks until closed
type scriptedStream struct {
	mu      sync.Mutex
	results []readResult
	closed  chan struct{}
	once    sync.Once
}

type readResult struct {
	samples []float32
	err     error
}

func newScriptedStream(results ...readResult) *scriptedStream {
	return &scriptedStream{results: results, closed: make(chan struct{})}
}

func (s *scriptedStream) Read() ([]float32, error) {
	s.mu.Lock()
	if len(s.results) > 0 {
		r := s.results[0]
		s.results = s.results[1:]
		s.mu.Unlock()
		return r.samples, r.err
	}
	s.mu.Unlock()

	select {
	case <-s.closed:
		return nil, errors.New("stream closed")
	case <-time.After(5 * time.Millisecond):
		return make([]float32, 4), nil
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	streams []Stream
	opens   int
	err     error
}

func (f *fakeOpener) Open(device DeviceDescriptor, framesPerRead int) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.streams) == 0 {
		return nil, errors.New("device unplugged")
	}
	s := f.streams[0]
	f.streams = f.streams[1:]
	return s, nil
}

var testDevice = DeviceDescriptor{ID: 1, Name: "test [Loopback]", SampleRate: 48000, Channels: 2}

func TestLoopDeliversFrames(t *testing.T) {
	stream := newScriptedStream(
		readResult{samples: []float32{0.1, 0.2, 0.3, 0.4}},
		readResult{samples: []float32{0.5, 0.6, 0.7, 0.8}, err: ErrOverflow},
	)
	loop := NewLoop(testDevice, &fakeOpener{streams: []Stream{stream}}, LoopConfig{FramesPerRead: 2, MaxReopens: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan audio.Frame, 16)
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, out) }()

	first := <-out
	if first.SampleRate != 48000 || first.Channels != 2 || first.Frames() != 2 {
		t.Errorf("Unexpected frame: %+v", first)
	}
	second := <-out
	if second.Samples[0] != 0.5 {
		t.Errorf("Expected overflowed block to be delivered, got %v", second.Samples)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Loop did not stop after cancellation")
	}

	stats := loop.GetStats()
	if stats.Overflows != 1 {
		t.Errorf("Expected 1 overflow, got %d", stats.Overflows)
	}
	if stats.FramesRead < 2 {
		t.Errorf("Expected at least 2 frames read, got %d", stats.FramesRead)
	}
}

func TestLoopDropsWhenConsumerIsBehind(t *testing.T) {
	stream := newScriptedStream(
		readResult{samples: []float32{1, 1}},
		readResult{samples: []float32{2, 2}},
		readResult{samples: []float32{3, 3}},
	)
	loop := NewLoop(testDevice, &fakeOpener{streams: []Stream{stream}}, LoopConfig{FramesPerRead: 1}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan audio.Frame, 1)
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx, out) }()

	deadline := time.Now().Add(time.Second)
	for loop.GetStats().FramesDropped < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Expected frames to be dropped while nobody reads")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	frame := <-out
	if frame.Samples[0] != 1 {
		t.Errorf("Expected the first frame to be kept, got %v", frame.Samples)
	}
}

func TestLoopReopen(t *testing.T) {
	readErr := errors.New("device invalidated")

	t.Run("reopens once then recovers", func(t *testing.T) {
		opener := &fakeOpener{streams: []Stream{
			newScriptedStream(readResult{err: readErr}),
			newScriptedStream(readResult{samples: []float32{0.9, 0.9}}),
		}}
		loop := NewLoop(testDevice, opener, LoopConfig{FramesPerRead: 1, MaxReopens: 1}, nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		out := make(chan audio.Frame, 16)
		done := make(chan error, 1)
		go func() { done <- loop.Run(ctx, out) }()

		frame := <-out
		if frame.Samples[0] != 0.9 {
			t.Errorf("Expected frame from reopened stream, got %v", frame.Samples)
		}
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Expected nil after recovery, got %v", err)
		}
		if loop.GetStats().Reopens != 1 {
			t.Errorf("Expected 1 reopen, got %d", loop.GetStats().Reopens)
		}
	})

	t.Run("second failure is fatal", func(t *testing.T) {
		opener := &fakeOpener{streams: []Stream{
			newScriptedStream(readResult{err: readErr}),
			newScriptedStream(readResult{err: readErr}),
		}}
		loop := NewLoop(testDevice, opener, LoopConfig{FramesPerRead: 1, MaxReopens: 1}, nil, nil)

		err := loop.Run(context.Background(), make(chan audio.Frame, 1))
		var devErr *DeviceError
		if !errors.As(err, &devErr) || devErr.Op != "read" {
			t.Fatalf("Expected read DeviceError, got %v", err)
		}
		if !errors.Is(err, readErr) {
			t.Errorf("Expected the read error to be wrapped, got %v", err)
		}
		if opener.opens != 2 {
			t.Errorf("Expected 2 opens, got %d", opener.opens)
		}
	})

	t.Run("reopen failure is fatal", func(t *testing.T) {
		opener := &fakeOpener{streams: []Stream{newScriptedStream(readResult{err: readErr})}}
		loop := NewLoop(testDevice, opener, LoopConfig{FramesPerRead: 1, MaxReopens: 1}, nil, nil)

		err := loop.Run(context.Background(), make(chan audio.Frame, 1))
		var devErr *DeviceError
		if !errors.As(err, &devErr) || devErr.Op != "reopen" {
			t.Errorf("Expected reopen DeviceError, got %v", err)
		}
	})
}

func TestLoopOpenFailure(t *testing.T) {
	loop := NewLoop(testDevice, &fakeOpener{err: errors.New("busy")}, LoopConfig{}, nil, nil)

	err := loop.Run(context.Background(), make(chan audio.Frame, 1))
	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.Op != "open" {
		t.Errorf("Expected open DeviceError, got %v", err)
	}
}
