package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/skypro1111/loopback-transcriber/internal/audio"
)

// WhisperConfig configures the local whisper command engine
type WhisperConfig struct {
	Command  string // shell-style command line, audio args are appended
	Model    string
	Language string
	TempDir  string
	Timeout  time.Duration
}

// WhisperEngine runs a local whisper command per window. The command gets
// --audio <wav> --model <model> [--language <lang>] appended and must print a
// JSON object {"text", "confidence", "language", "words"} on stdout.
type WhisperEngine struct {
	cmd    []string
	config WhisperConfig
	mu     sync.Mutex
}

type whisperResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Words      []Word  `json:"words"`
}

// NewWhisperEngine parses the command line and returns an engine
func NewWhisperEngine(config WhisperConfig) (*WhisperEngine, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(config.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("whisper model cannot be empty")
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &WhisperEngine{cmd: args, config: config}, nil
}

// Name returns the engine name
func (w *WhisperEngine) Name() string { return EngineWhisper }

// Model returns the configured model
func (w *WhisperEngine) Model() string { return w.config.Model }

// Probe transcribes one second of silence
func (w *WhisperEngine) Probe(ctx context.Context) error {
	return silenceProbe(ctx, w, audio.TargetSampleRate)
}

// Transcribe writes the window to a temporary WAV file and runs the command on it
func (w *WhisperEngine) Transcribe(ctx context.Context, in Audio) (Transcript, error) {
	if len(in.Samples) == 0 {
		return Transcript{}, ErrEmptyAudio
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	path, err := audio.WriteTempWAV(w.config.TempDir, in.Samples, in.SampleRate)
	if err != nil {
		return Transcript{}, err
	}
	defer os.Remove(path)

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	args := append([]string{}, w.cmd[1:]...)
	args = append(args, "--audio", path, "--model", w.config.Model)
	if w.config.Language != "" {
		args = append(args, "--language", w.config.Language)
	}

	command := exec.CommandContext(ctx, w.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Transcript{}, fmt.Errorf("whisper command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp whisperResult
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return Transcript{}, fmt.Errorf("%w: decode whisper output: %v", ErrProtocol, err)
	}

	return Transcript{
		Text:       strings.TrimSpace(resp.Text),
		Confidence: resp.Confidence,
		Language:   resp.Language,
		Words:      resp.Words,
		Final:      true,
		Latency:    time.Since(start),
	}, nil
}
