package audio

import (
	"math"
	"testing"
	"time"
)

func TestFramerChunks(t *testing.T) {
	framer, err := NewFramer(TargetSampleRate, 100*time.Millisecond, 0.001)
	if err != nil {
		t.Fatalf("Failed to create framer: %v", err)
	}
	if framer.ChunkSamples() != 1600 {
		t.Fatalf("Expected 1600 samples per chunk, got %d", framer.ChunkSamples())
	}

	chunks := framer.Push(make([]float32, 1000))
	if len(chunks) != 0 {
		t.Errorf("Expected no chunks from a partial push, got %d", len(chunks))
	}

	loud := make([]float32, 4000)
	for i := range loud {
		loud[i] = 0.5
	}
	chunks = framer.Push(loud)
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	if framer.Pending() != 5000-3*1600 {
		t.Errorf("Expected %d pending, got %d", 5000-3*1600, framer.Pending())
	}

	// first chunk straddles the silent and loud pushes
	if chunks[0].Samples[0] != 0 || chunks[0].Samples[1599] != 0.5 {
		t.Error("Expected first chunk to keep push order")
	}
	for i, chunk := range chunks {
		if chunk.Policy != PolicyStream {
			t.Errorf("Chunk %d: expected stream policy", i)
		}
		if len(chunk.Samples) != 1600 {
			t.Errorf("Chunk %d: expected 1600 samples, got %d", i, len(chunk.Samples))
		}
		if chunk.Decision != DecisionSpeech {
			t.Errorf("Chunk %d: expected loud chunk to be tagged speech", i)
		}
	}
}

func TestNewFramerValidation(t *testing.T) {
	if _, err := NewFramer(0, 100*time.Millisecond, 0.001); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := NewFramer(16000, 0, 0.001); err == nil {
		t.Error("Expected error for zero chunk duration")
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	input := []float32{0, 0.5, -0.5, 1, -1, 1.5, -1.5}
	data := ToPCM16(input)
	if len(data) != len(input)*2 {
		t.Fatalf("Expected %d bytes, got %d", len(input)*2, len(data))
	}

	// little endian 0.5 * 32767 = 16384 (rounded) = 0x4000
	if data[2] != 0x00 || data[3] != 0x40 {
		t.Errorf("Expected little-endian 0x4000, got %#x %#x", data[2], data[3])
	}

	decoded, err := FromPCM16(data)
	if err != nil {
		t.Fatalf("FromPCM16 failed: %v", err)
	}
	expected := []float32{0, 0.5, -0.5, 1, -1, 1, -1}
	for i := range expected {
		if math.Abs(float64(decoded[i]-expected[i])) > 1e-3 {
			t.Errorf("Sample %d: expected %f, got %f", i, expected[i], decoded[i])
		}
	}

	if _, err := FromPCM16([]byte{1}); err == nil {
		t.Error("Expected error for odd byte count")
	}
}

func TestSilencePCM16(t *testing.T) {
	data := SilencePCM16(1600)
	if len(data) != 3200 {
		t.Fatalf("Expected 3200 bytes, got %d", len(data))
	}
	for _, b := range data {
		if b != 0 {
			t.Fatal("Expected all-zero silence")
		}
	}
}
