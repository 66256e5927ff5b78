package events

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Host command types read from the control stream
const (
	CommandShutdown  = "shutdown"
	CommandKeepalive = "keepalive"
)

// Command is one control message from the host
type Command struct {
	Type string `json:"type"`
}

// ReadCommands reads newline-delimited JSON commands from r until EOF or
// ctx is done. shutdown is called once on a shutdown command; malformed
// lines are reported through the emitter and skipped.
func ReadCommands(ctx context.Context, r io.Reader, emitter *Emitter, shutdown func()) error {
	scanner := bufio.NewScanner(r)
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					if err != nil {
						return fmt.Errorf("failed to read commands: %w", err)
					}
				default:
				}
				return nil
			}

			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			var cmd Command
			if err := json.Unmarshal([]byte(line), &cmd); err != nil {
				emitter.Error(fmt.Errorf("invalid command %q: %w", line, err))
				continue
			}
			switch cmd.Type {
			case CommandShutdown:
				emitter.Status("Shutdown requested")
				shutdown()
				return nil
			case CommandKeepalive:
			default:
				emitter.Error(fmt.Errorf("unknown command type %q", cmd.Type))
			}
		}
	}
}
