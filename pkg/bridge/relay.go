package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/engine"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/msg"
)

const kindDescription = "description"

// relay forwards engine events and dispatcher notices to the outbound stream
// until stop is closed. Each engine wait is bounded by the poll interval so
// a stop request is observed within one interval.
func (b *Bridge) relay(ctx context.Context, stop <-chan struct{}) error {
	buf := msg.NewBuffer(4096)
	for {
		if err := b.flushNotices(ctx, buf); err != nil {
			return err
		}
		select {
		case <-stop:
			b.logger.Debugf("relay stopping")
			return b.flushNotices(ctx, buf)
		default:
		}

		ev, ok := b.engine.WaitForEvent(b.opts.PollInterval)
		if !ok {
			continue
		}
		out, err := b.translate(ctx, ev)
		if err != nil {
			b.logger.Printf("relay: %v", err)
			return err
		}
		if err := b.write(buf, out); err != nil {
			return err
		}
	}
}

func (b *Bridge) flushNotices(ctx context.Context, buf *msg.Buffer) error {
	for {
		select {
		case ev := <-b.notices:
			if f, ok := ev.(core.Failure); ok {
				b.record(ctx, b.procs.session(nil), core.EventRecord{Kind: core.EventError, Text: string(f.Command) + ": " + f.Message})
			}
			if err := b.write(buf, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// translate maps an engine event to its outbound shape and keeps the process
// table and journal in step with state changes.
func (b *Bridge) translate(ctx context.Context, ev engine.Event) (core.Event, error) {
	switch ev := ev.(type) {
	case engine.StateChanged:
		name, err := core.StateName(ev.State)
		if err != nil {
			return nil, fmt.Errorf("process state: %w", err)
		}
		b.trackState(ctx, ev, name)
		return core.StateChanged{State: name}, nil
	case engine.Output:
		return core.Output{Stream: ev.Stream, Text: ev.Text}, nil
	case engine.Description:
		b.record(ctx, b.procs.session(nil), core.EventRecord{Kind: kindDescription, Text: ev.Text})
		return core.Description{Text: ev.Text}, nil
	}
	return core.Description{Text: fmt.Sprintf("%T", ev)}, nil
}

func (b *Bridge) trackState(ctx context.Context, ev engine.StateChanged, name string) {
	session := b.procs.session(ev.Process)
	b.record(ctx, session, core.EventRecord{Kind: core.EventStateChanged, State: name})
	if !ev.State.Terminal() || ev.Process == nil {
		return
	}
	session, ok := b.procs.retire(ev.Process)
	if !ok || b.opts.Journal == nil {
		return
	}
	if err := b.opts.Journal.EndSession(ctx, session, name, time.Now().UnixMilli()); err != nil {
		b.logger.Printf("journal: end session: %v", err)
	}
}

func (b *Bridge) record(ctx context.Context, session string, rec core.EventRecord) {
	if b.opts.Journal == nil {
		return
	}
	rec.ID = core.NewID()
	rec.SessionID = session
	rec.CreatedAt = time.Now().UnixMilli()
	if err := b.opts.Journal.RecordEvent(ctx, rec); err != nil {
		b.logger.Printf("journal: record event: %v", err)
	}
}

func (b *Bridge) write(buf *msg.Buffer, ev core.Event) error {
	buf.Reset()
	core.EncodeEvent(buf, ev)
	if err := b.out.WriteFrame(buf.Bytes()); err != nil {
		return fmt.Errorf("%w: write event: %v", ipc.ErrClosed, err)
	}
	b.metrics.EventRelayed(eventKind(ev), buf.Len())
	return nil
}

func eventKind(ev core.Event) string {
	switch ev.(type) {
	case core.StateChanged:
		return core.EventStateChanged
	case core.Output:
		return core.EventOutput
	case core.Failure:
		return core.EventError
	}
	return kindDescription
}
