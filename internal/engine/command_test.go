package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine writes a shell script that plays back a canned event stream.
func fakeEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for engine events")
		}
	}
}

func TestCommandEngine_StreamsEvents(t *testing.T) {
	bin := fakeEngine(t, `
echo '{"type":"progress_update","progress":50,"stage":"translate"}'
echo '{"type":"finish","outputs":["/tmp/out.mono.pdf","/tmp/out.dual.pdf"]}'
`)
	eng, err := NewCommandEngine(bin, "")
	require.NoError(t, err)

	ch, err := eng.Run(context.Background(), Config{InputFile: "in.pdf"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, 50.0, events[0].Progress)
	assert.Equal(t, EventFinish, events[1].Type)
	assert.Equal(t, []string{"/tmp/out.mono.pdf", "/tmp/out.dual.pdf"}, events[1].Outputs)
}

func TestCommandEngine_ErrorEvent(t *testing.T) {
	bin := fakeEngine(t, `echo '{"type":"error","reason":"unsupported input"}'`)
	eng, err := NewCommandEngine(bin, "")
	require.NoError(t, err)

	ch, err := eng.Run(context.Background(), Config{InputFile: "in.pdf"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.Equal(t, "unsupported input", events[0].Reason)
}

func TestCommandEngine_SynthesizesTerminalOnCrash(t *testing.T) {
	bin := fakeEngine(t, `
echo '{"type":"progress_update","progress":10}'
echo "boom" >&2
exit 3
`)
	eng, err := NewCommandEngine(bin, "")
	require.NoError(t, err)

	ch, err := eng.Run(context.Background(), Config{InputFile: "in.pdf"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Reason, "boom")
}

func TestCommandEngine_CancelledContext(t *testing.T) {
	bin := fakeEngine(t, `
echo '{"type":"progress_update","progress":5}'
sleep 30
echo '{"type":"finish"}'
`)
	eng, err := NewCommandEngine(bin, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := eng.Run(ctx, Config{InputFile: "in.pdf"})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	cancel()

	events := collect(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Reason, "cancelled")
}

func TestCommandEngine_IgnoresEventsAfterTerminal(t *testing.T) {
	bin := fakeEngine(t, `
echo '{"type":"finish","outputs":["/tmp/a.mono.pdf"]}'
echo '{"type":"progress_update","progress":99}'
`)
	eng, err := NewCommandEngine(bin, "")
	require.NoError(t, err)

	ch, err := eng.Run(context.Background(), Config{InputFile: "in.pdf"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, EventFinish, events[0].Type)
}

func TestNewCommandEngine_MissingBinary(t *testing.T) {
	_, err := NewCommandEngine("/no/such/engine", "")
	assert.Error(t, err)
}
