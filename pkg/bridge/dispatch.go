package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/engine"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/metrics"
	"github.com/rexliu/vlldb/pkg/msg"
)

// dispatch reads and executes commands until the inbound stream ends. It
// never writes to the outbound stream.
func (b *Bridge) dispatch(ctx context.Context) error {
	for {
		payload, err := b.in.ReadFrame()
		switch {
		case errors.Is(err, ipc.ErrClosed):
			b.logger.Debugf("inbound stream closed")
			return nil
		case err != nil:
			// The stream position is lost; nothing after this can be framed.
			b.metrics.CommandDropped(metrics.ReasonMalformed)
			b.logger.Printf("closing session: %v", err)
			return nil
		}
		b.metrics.FrameRead()

		v, err := msg.DecodeFrame(payload)
		if err != nil {
			b.metrics.CommandDropped(metrics.ReasonMalformed)
			if b.opts.SkipMalformed {
				b.logger.Printf("skipping frame: %v", err)
				continue
			}
			b.logger.Printf("closing session: %v", err)
			return nil
		}

		cmd, err := core.ParseCommand(v)
		switch {
		case errors.Is(err, core.ErrUnknownCommand):
			b.metrics.CommandDropped(metrics.ReasonUnknown)
			b.logger.Debugf("ignoring command: %v", err)
			continue
		case err != nil:
			b.metrics.CommandDropped(metrics.ReasonInvalid)
			b.logger.Printf("dropping command: %v", err)
			continue
		}
		b.execute(ctx, cmd)
	}
}

func (b *Bridge) execute(ctx context.Context, cmd core.Command) {
	typ := string(cmd.Type())
	if err := b.apply(ctx, cmd); err != nil {
		b.metrics.EngineFailure(typ)
		b.logger.Printf("%s: %v", typ, err)
		b.notify(core.Failure{Command: cmd.Type(), Message: err.Error()})
		return
	}
	b.metrics.CommandHandled(typ)
	b.logger.Debugf("handled %s", typ)
}

func (b *Bridge) apply(ctx context.Context, cmd core.Command) error {
	switch c := cmd.(type) {
	case core.Launch:
		return b.launch(ctx, c)
	case core.StepOver:
		return b.onThread(engine.Thread.StepOver)
	case core.StepInto:
		return b.onThread(engine.Thread.StepInto)
	case core.StepOut:
		return b.onThread(engine.Thread.StepOut)
	case core.Kill:
		return b.onProcess(engine.Process.Kill)
	case core.Resume:
		return b.onProcess(engine.Process.Continue)
	case core.Pause:
		return b.onProcess(engine.Process.Stop)
	}
	return core.ErrUnknownCommand
}

func (b *Bridge) launch(ctx context.Context, c core.Launch) error {
	proc, err := b.engine.Launch(engine.LaunchSpec{
		Executable: c.Executable,
		Args:       c.Arguments,
		Env:        c.Environments,
		WorkingDir: c.WorkingDir,
	})
	if err != nil {
		return err
	}
	if prev := b.procs.getActive(); prev != nil {
		b.logger.Printf("process %d replaced by %d", prev.ID(), proc.ID())
	}

	rec := core.SessionRecord{
		ID:         core.NewID(),
		Executable: c.Executable,
		WorkingDir: c.WorkingDir,
		Arguments:  c.Arguments,
		PID:        proc.ID(),
		StartedAt:  time.Now().UnixMilli(),
	}
	if b.opts.Revision != nil {
		rec.Revision = b.opts.Revision(ctx, c.WorkingDir)
	}
	// The session row must exist before the relay can attribute events to it.
	if b.opts.Journal != nil {
		if err := b.opts.Journal.StartSession(ctx, rec); err != nil {
			b.logger.Printf("journal: start session: %v", err)
		}
	}
	b.procs.setActive(proc, rec.ID)
	b.logger.Printf("launched %s (pid %d)", c.Executable, proc.ID())
	return nil
}

// onThread runs op on the current thread of the active process.
func (b *Bridge) onThread(op func(engine.Thread) error) error {
	proc := b.procs.getActive()
	if proc == nil {
		return engine.ErrNoProcess
	}
	th, err := proc.Thread(0)
	if err != nil {
		return err
	}
	return op(th)
}

func (b *Bridge) onProcess(op func(engine.Process) error) error {
	proc := b.procs.getActive()
	if proc == nil {
		return engine.ErrNoProcess
	}
	return op(proc)
}
