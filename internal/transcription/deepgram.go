package transcription

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultDeepgramURL = "wss://api.deepgram.com/v1/listen"

// DeepgramConfig configures the streaming engine. TLS and timeouts are
// explicit so no process-wide transport settings are touched.
type DeepgramConfig struct {
	APIKey           string
	URL              string // defaults to the public listen endpoint
	Model            string
	Language         string
	SampleRate       int
	InterimResults   bool
	SmartFormat      bool
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseTimeout     time.Duration
	TLSConfig        *tls.Config
}

// DeepgramEngine opens Deepgram live transcription sessions over websocket
type DeepgramEngine struct {
	config DeepgramConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// deepgramMessage covers the response types the engine understands
type deepgramMessage struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
	RequestID string `json:"request_id"`
}

// NewDeepgramEngine validates the configuration and prepares the dialer
func NewDeepgramEngine(config DeepgramConfig, logger *slog.Logger) (*DeepgramEngine, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.URL == "" {
		config.URL = defaultDeepgramURL
	}
	if config.Model == "" {
		config.Model = "nova-2"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 5 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = 3 * time.Second
	}
	if config.TLSConfig == nil {
		config.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DeepgramEngine{
		config: config,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
			TLSClientConfig:  config.TLSConfig,
		},
		logger: logger,
	}, nil
}

// Name returns the engine name
func (d *DeepgramEngine) Name() string { return EngineDeepgram }

// Model returns the configured model
func (d *DeepgramEngine) Model() string { return d.config.Model }

// ListenURL builds the session URL with the audio format parameters
func (d *DeepgramEngine) ListenURL() (string, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return "", fmt.Errorf("invalid listen URL: %w", err)
	}
	q := u.Query()
	q.Set("model", d.config.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	q.Set("punctuate", "true")
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the backend and starts the reader goroutine. listener.OnOpen
// fires once the websocket handshake completes.
func (d *DeepgramEngine) Open(ctx context.Context, listener Listener) (Connection, error) {
	endpoint, err := d.ListenURL()
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+d.config.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed with HTTP %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &deepgramConn{
		conn:     conn,
		config:   d.config,
		listener: listener,
		logger:   d.logger,
		done:     make(chan struct{}),
	}

	listener.OnOpen()
	go c.readLoop()

	d.logger.Info("Streaming connection opened",
		slog.String("model", d.config.Model),
		slog.Int("sample_rate", d.config.SampleRate))
	return c, nil
}

type deepgramConn struct {
	conn     *websocket.Conn
	config   DeepgramConfig
	listener Listener
	logger   *slog.Logger

	writeMu sync.Mutex
	closing bool
	closed  bool
	done    chan struct{} // closed when the reader exits

	stateMu sync.Mutex
}

// Send writes one binary frame with a write deadline
func (c *deepgramConn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Close asks the backend to flush pending results, waits for it to hang up
// (bounded by ctx and CloseTimeout), then closes the socket
func (c *deepgramConn) Close(ctx context.Context) error {
	c.stateMu.Lock()
	c.closing = true
	c.stateMu.Unlock()

	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	finalizeErr := c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
	c.writeMu.Unlock()

	if finalizeErr == nil {
		timer := time.NewTimer(c.config.CloseTimeout)
		select {
		case <-c.done:
		case <-timer.C:
			c.logger.Debug("Backend did not close in time, closing locally")
		case <-ctx.Done():
		}
		timer.Stop()
	}

	c.writeMu.Lock()
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		time.Now().Add(c.config.WriteTimeout))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	if finalizeErr != nil {
		return fmt.Errorf("failed to send close request: %w", finalizeErr)
	}
	return err
}

func (c *deepgramConn) isClosing() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.closing
}

// readLoop parses backend messages until the socket closes
func (c *deepgramConn) readLoop() {
	defer close(c.done)

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.isClosing() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.listener.OnClose()
				return
			}
			c.listener.OnError(fmt.Errorf("streaming connection lost: %w", err))
			return
		}

		c.handleMessage(message)
	}
}

func (c *deepgramConn) handleMessage(message []byte) {
	var msg deepgramMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.listener.OnProtocolError(fmt.Errorf("%w: %v", ErrProtocol, err))
		return
	}

	switch msg.Type {
	case "Results":
		if len(msg.Channel.Alternatives) == 0 {
			c.listener.OnProtocolError(fmt.Errorf("%w: result without alternatives", ErrProtocol))
			return
		}
		alt := msg.Channel.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			return
		}
		t := Transcript{
			Text:       text,
			Confidence: alt.Confidence,
			Final:      msg.IsFinal,
		}
		for _, w := range alt.Words {
			t.Words = append(t.Words, Word{Text: w.Word, Start: w.Start, End: w.End, Probability: w.Confidence})
		}
		c.listener.OnTranscript(t)

	case "Metadata", "SpeechStarted", "UtteranceEnd":
		c.logger.Debug("Streaming backend event", slog.String("type", msg.Type))

	case "Error":
		c.listener.OnProtocolError(fmt.Errorf("%w: backend reported error: %s", ErrProtocol, string(message)))

	default:
		c.listener.OnProtocolError(fmt.Errorf("%w: unknown message type %q", ErrProtocol, msg.Type))
	}
}

// IsProtocolError reports whether err came from an unparseable backend message
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrProtocol)
}
