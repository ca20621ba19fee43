package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/engine"
	"github.com/rexliu/vlldb/pkg/engine/enginetest"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/metrics"
	"github.com/rexliu/vlldb/pkg/msg"
	"github.com/rexliu/vlldb/pkg/storage/sqlite"
)

const waitTimeout = 2 * time.Second

type harness struct {
	eng    *enginetest.Engine
	in     *io.PipeWriter
	events chan core.Event
	done   chan error
}

func startBridge(t *testing.T, ctx context.Context, opts Options) *harness {
	t.Helper()
	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}
	eng := enginetest.New()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	h := &harness{
		eng:    eng,
		in:     inW,
		events: make(chan core.Event, 64),
		done:   make(chan error, 1),
	}
	b := New(eng, inR, outW, opts)
	go func() {
		h.done <- b.Run(ctx)
		outW.Close()
	}()
	go func() {
		defer close(h.events)
		for {
			payload, err := ipc.ReadFrame(outR)
			if err != nil {
				return
			}
			v, err := msg.DecodeFrame(payload)
			if err != nil {
				return
			}
			ev, err := core.ParseEvent(v)
			if err != nil {
				return
			}
			h.events <- ev
		}
	}()
	t.Cleanup(func() { inW.Close() })
	return h
}

func (h *harness) sendValue(t *testing.T, v msg.Value) {
	t.Helper()
	require.NoError(t, ipc.WriteFrame(h.in, msg.Encode(v)))
}

func (h *harness) send(t *testing.T, cmd core.Command) {
	t.Helper()
	buf := msg.NewBuffer(128)
	core.EncodeCommand(buf, cmd)
	require.NoError(t, ipc.WriteFrame(h.in, buf.Bytes()))
}

// barrier returns once the dispatcher has finished every earlier command.
func (h *harness) barrier(t *testing.T) {
	t.Helper()
	h.sendValue(t, msg.Struct{{Name: "type", Value: msg.Str("noop")}})
}

func (h *harness) next(t *testing.T) core.Event {
	t.Helper()
	select {
	case ev, ok := <-h.events:
		require.True(t, ok, "outbound stream ended")
		return ev
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for Run")
		return nil
	}
}

// finish closes the inbound stream, waits for Run and returns the events
// still unread.
func (h *harness) finish(t *testing.T) ([]core.Event, error) {
	t.Helper()
	require.NoError(t, h.in.Close())
	err := h.wait(t)
	var rest []core.Event
	for ev := range h.events {
		rest = append(rest, ev)
	}
	return rest, err
}

func TestLaunchThenStepOver(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.send(t, core.Launch{
		Executable:   "/bin/ls",
		Arguments:    []string{"-l"},
		WorkingDir:   "/tmp",
		Environments: []string{"A=1"},
	})
	h.send(t, core.StepOver{})

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch", "step_over:101"}, h.eng.Calls())
	assert.Equal(t, []engine.LaunchSpec{{
		Executable: "/bin/ls",
		Args:       []string{"-l"},
		Env:        []string{"A=1"},
		WorkingDir: "/tmp",
	}}, h.eng.Launches())
}

func TestLaunchWithEmptyVectors(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.sendValue(t, msg.Struct{
		{Name: "type", Value: msg.Str("launch")},
		{Name: "executable", Value: msg.Str("/bin/ls")},
		{Name: "arguments", Value: msg.Arr{}},
		{Name: "working_dir", Value: msg.Str("/tmp")},
		{Name: "environments", Value: msg.Arr{}},
	})
	h.send(t, core.StepOver{})

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch", "step_over:101"}, h.eng.Calls())

	launches := h.eng.Launches()
	require.Len(t, launches, 1)
	spec := launches[0]
	assert.Equal(t, "/bin/ls", spec.Executable)
	assert.Equal(t, "/tmp", spec.WorkingDir)
	require.NotNil(t, spec.Args)
	require.NotNil(t, spec.Env)
	assert.Empty(t, spec.Args)
	assert.Empty(t, spec.Env)
}

func TestRelaysStateChange(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.send(t, core.Launch{Executable: "/bin/true"})
	h.eng.Emit(engine.StateChanged{Process: enginetest.NewProcess(h.eng, 101), State: engine.StateStopped})

	assert.Equal(t, core.StateChanged{State: "stopped"}, h.next(t))
	_, err := h.finish(t)
	require.NoError(t, err)
}

func TestRelaysOutputAndDescription(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.eng.Emit(engine.Output{Stream: "stdout", Text: "hello\n"})
	h.eng.Emit(engine.Description{Text: "breakpoint 1 resolved"})

	assert.Equal(t, core.Output{Stream: "stdout", Text: "hello\n"}, h.next(t))
	assert.Equal(t, core.Description{Text: "breakpoint 1 resolved"}, h.next(t))
	_, err := h.finish(t)
	require.NoError(t, err)
}

func TestInboundClosedMidPrefix(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	_, err := h.in.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Empty(t, h.eng.Calls())
}

func TestUnknownCommandIgnored(t *testing.T) {
	m := metrics.New()
	h := startBridge(t, context.Background(), Options{Metrics: m})
	h.send(t, core.Launch{Executable: "/bin/true"})
	h.sendValue(t, msg.Struct{{Name: "type", Value: msg.Str("bogus")}})
	h.send(t, core.Kill{})

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch", "kill:101"}, h.eng.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsDropped.WithLabelValues(metrics.ReasonUnknown)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesRead))
}

func TestInvalidCommandDropped(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.sendValue(t, msg.Struct{{Name: "type", Value: msg.Str("launch")}})
	h.sendValue(t, msg.Struct{{Name: "type", Value: msg.Int(3)}})
	h.send(t, core.Launch{Executable: "/bin/true"})

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch"}, h.eng.Calls())
}

func TestEngineFailureBecomesErrorEvent(t *testing.T) {
	m := metrics.New()
	h := startBridge(t, context.Background(), Options{Metrics: m})
	h.send(t, core.StepOver{})

	assert.Equal(t, core.Failure{Command: core.TypeStepOver, Message: engine.ErrNoProcess.Error()}, h.next(t))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EngineFailures.WithLabelValues("step_over")))
	_, err := h.finish(t)
	require.NoError(t, err)
}

func TestLaunchFailure(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.eng.LaunchErr = errors.New("no such file")
	h.send(t, core.Launch{Executable: "/missing"})

	assert.Equal(t, core.Failure{Command: core.TypeLaunch, Message: "no such file"}, h.next(t))
	h.send(t, core.Kill{})
	assert.Equal(t, core.Failure{Command: core.TypeKill, Message: engine.ErrNoProcess.Error()}, h.next(t))
	_, err := h.finish(t)
	require.NoError(t, err)
}

func TestResumeAndPause(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.send(t, core.Launch{Executable: "/bin/sleep"})
	h.send(t, core.Pause{})
	h.send(t, core.Resume{})
	h.send(t, core.StepInto{})
	h.send(t, core.StepOut{})

	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch", "pause:101", "resume:101", "step_into:101", "step_out:101"}, h.eng.Calls())
}

func TestTerminalStateRetiresProcess(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.send(t, core.Launch{Executable: "/bin/true"})
	h.barrier(t)
	h.eng.Emit(engine.StateChanged{Process: enginetest.NewProcess(h.eng, 101), State: engine.StateExited})
	assert.Equal(t, core.StateChanged{State: "exited"}, h.next(t))

	h.send(t, core.StepOver{})
	assert.Equal(t, core.Failure{Command: core.TypeStepOver, Message: engine.ErrNoProcess.Error()}, h.next(t))
	_, err := h.finish(t)
	require.NoError(t, err)
}

func TestExitOfReplacedProcessKeepsActive(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.send(t, core.Launch{Executable: "/bin/a"})
	h.send(t, core.Launch{Executable: "/bin/b"})
	h.barrier(t)
	h.eng.Emit(engine.StateChanged{Process: enginetest.NewProcess(h.eng, 101), State: engine.StateExited})
	assert.Equal(t, core.StateChanged{State: "exited"}, h.next(t))

	h.send(t, core.Kill{})
	rest, err := h.finish(t)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, []string{"launch", "launch", "kill:102"}, h.eng.Calls())
}

func TestUnmappedStateIsFatal(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	h.eng.Emit(engine.StateChanged{State: engine.StateCode(42)})

	err := h.wait(t)
	require.ErrorIs(t, err, core.ErrUnmappedState)
}

func TestMalformedValueClosesSession(t *testing.T) {
	h := startBridge(t, context.Background(), Options{})
	require.NoError(t, ipc.WriteFrame(h.in, []byte{9, 0, 0, 0, 0, 0, 0, 0}))

	require.NoError(t, h.wait(t))
	assert.Empty(t, h.eng.Calls())
}

func TestSkipMalformed(t *testing.T) {
	m := metrics.New()
	h := startBridge(t, context.Background(), Options{SkipMalformed: true, Metrics: m})
	require.NoError(t, ipc.WriteFrame(h.in, []byte{9, 0, 0, 0, 0, 0, 0, 0}))
	h.send(t, core.Launch{Executable: "/bin/true"})

	_, err := h.finish(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"launch"}, h.eng.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsDropped.WithLabelValues(metrics.ReasonMalformed)))
}

func TestOversizedFrameClosesSession(t *testing.T) {
	h := startBridge(t, context.Background(), Options{MaxFrame: 16})
	_, err := h.in.Write(binary.LittleEndian.AppendUint64(nil, 32))
	require.NoError(t, err)

	require.NoError(t, h.wait(t))
}

func TestStopJoinsRelay(t *testing.T) {
	h := startBridge(t, context.Background(), Options{PollInterval: 50 * time.Millisecond})
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := h.finish(t)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	waits := h.eng.Waits()
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, waits, h.eng.Waits(), "relay still polling after Run returned")
}

func TestContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := startBridge(t, ctx, Options{})
	cancel()
	require.ErrorIs(t, h.wait(t), context.Canceled)
}

type memJournal struct {
	mu       sync.Mutex
	sessions []core.SessionRecord
	ended    map[string]string
	events   []core.EventRecord
}

func (j *memJournal) StartSession(_ context.Context, rec core.SessionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions = append(j.sessions, rec)
	return nil
}

func (j *memJournal) EndSession(_ context.Context, id, state string, _ int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ended == nil {
		j.ended = make(map[string]string)
	}
	j.ended[id] = state
	return nil
}

func (j *memJournal) RecordEvent(_ context.Context, rec core.EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, rec)
	return nil
}

func TestJournalRecordsSession(t *testing.T) {
	j := &memJournal{}
	h := startBridge(t, context.Background(), Options{
		Journal:  j,
		Revision: func(context.Context, string) string { return "abc123" },
	})
	proc := enginetest.NewProcess(h.eng, 101)
	h.send(t, core.Launch{Executable: "/bin/true", Arguments: []string{"x"}, WorkingDir: "/src"})
	h.barrier(t)
	h.eng.Emit(engine.StateChanged{Process: proc, State: engine.StateRunning})
	h.next(t)
	h.eng.Emit(engine.StateChanged{Process: proc, State: engine.StateExited})
	h.next(t)
	_, err := h.finish(t)
	require.NoError(t, err)

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.sessions, 1)
	s := j.sessions[0]
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 101, s.PID)
	assert.Equal(t, "abc123", s.Revision)
	assert.Equal(t, []string{"x"}, s.Arguments)
	assert.Equal(t, map[string]string{s.ID: "exited"}, j.ended)

	require.Len(t, j.events, 2)
	for i, want := range []string{"running", "exited"} {
		assert.Equal(t, core.EventStateChanged, j.events[i].Kind)
		assert.Equal(t, want, j.events[i].State)
		assert.Equal(t, s.ID, j.events[i].SessionID)
	}
}

func TestSQLiteJournal(t *testing.T) {
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	h := startBridge(t, context.Background(), Options{Journal: store})
	h.send(t, core.Launch{Executable: "/bin/true"})
	h.barrier(t)
	h.eng.Emit(engine.StateChanged{Process: enginetest.NewProcess(h.eng, 101), State: engine.StateCrashed})
	h.next(t)
	h.send(t, core.StepOut{})
	h.next(t)
	_, err = h.finish(t)
	require.NoError(t, err)

	sessions, err := store.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "crashed", sessions[0].FinalState)
	require.NotNil(t, sessions[0].EndedAt)

	events, err := store.SessionEvents(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "crashed", events[0].State)
}
