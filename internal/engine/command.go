package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lingodoc/lingodoc/pkg/log"
)

// CommandEngine drives an external engine binary. The run config is
// passed as a single JSON argument and the binary reports back with
// newline-delimited JSON events on stdout.
type CommandEngine struct {
	bin     string
	workDir string
}

// NewCommandEngine resolves the engine binary and returns the adapter.
func NewCommandEngine(bin, workDir string) (*CommandEngine, error) {
	resolved, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("engine binary not found: %w", err)
	}
	return &CommandEngine{bin: resolved, workDir: workDir}, nil
}

func (e *CommandEngine) Run(ctx context.Context, cfg Config) (<-chan Event, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal engine config: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.bin, "--config", string(payload))
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open engine stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}
	log.Debug("Engine started: %s (input=%s)", e.bin, cfg.InputFile)

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		terminal := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				log.Warn("Engine emitted unparseable line: %q", line)
				continue
			}
			if terminal {
				// Nothing after the terminal event is forwarded.
				continue
			}
			events <- ev
			if ev.Type == EventFinish || ev.Type == EventError {
				terminal = true
			}
		}

		waitErr := cmd.Wait()
		if terminal {
			return
		}
		// The process died without a terminal event. Synthesize one so
		// the consumer always observes exactly one.
		reason := "engine exited without reporting a result"
		if ctx.Err() != nil {
			reason = "engine run cancelled"
		} else if waitErr != nil {
			reason = fmt.Sprintf("engine exited: %v", waitErr)
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				reason = fmt.Sprintf("%s: %s", reason, lastLine(msg))
			}
		}
		events <- Event{Type: EventError, Reason: reason}
	}()

	return events, nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
