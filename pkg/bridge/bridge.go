// Package bridge runs the two loops that connect an editor to a debug engine.
//
// The dispatcher reads command frames from the inbound stream and calls the
// engine. The relay waits for engine events and writes them as frames to the
// outbound stream; it is the only writer. Inbound closure stops the relay
// cooperatively: the relay checks its stop channel between bounded waits.
package bridge

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rexliu/vlldb/pkg/core"
	"github.com/rexliu/vlldb/pkg/engine"
	"github.com/rexliu/vlldb/pkg/ipc"
	"github.com/rexliu/vlldb/pkg/logging"
	"github.com/rexliu/vlldb/pkg/metrics"
)

// DefaultPollInterval bounds each relay wait and therefore shutdown latency.
const DefaultPollInterval = time.Second

// Journal records sessions and relayed events. *sqlite.Store implements it.
type Journal interface {
	StartSession(ctx context.Context, rec core.SessionRecord) error
	EndSession(ctx context.Context, id, state string, endedAt int64) error
	RecordEvent(ctx context.Context, rec core.EventRecord) error
}

// RevisionFunc reports the VCS revision of a working directory, or "".
type RevisionFunc func(ctx context.Context, dir string) string

// Options configures a Bridge. The zero value is usable.
type Options struct {
	PollInterval time.Duration
	MaxFrame     int64
	// SkipMalformed drops undecodable frames instead of ending the session.
	SkipMalformed bool
	Logger        *logging.Logger
	Metrics       *metrics.Metrics
	Journal       Journal
	Revision      RevisionFunc
}

// Bridge connects one inbound and one outbound stream to an engine.
type Bridge struct {
	engine  engine.Engine
	in      *ipc.FrameReader
	out     *ipc.FrameWriter
	opts    Options
	logger  *logging.Logger
	metrics *metrics.Metrics
	procs   *processTable

	// notices carries dispatcher-side events (engine failures) to the relay.
	notices   chan core.Event
	relayDone chan struct{}
}

// New builds a Bridge reading commands from in and writing events to out.
func New(eng engine.Engine, in io.Reader, out io.Writer, opts Options) *Bridge {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bridge{
		engine:    eng,
		in:        ipc.NewFrameReader(in, opts.MaxFrame),
		out:       ipc.NewFrameWriter(out),
		opts:      opts,
		logger:    logger,
		metrics:   opts.Metrics,
		procs:     newProcessTable(),
		notices:   make(chan core.Event, 32),
		relayDone: make(chan struct{}),
	}
}

// Run serves until the inbound stream closes or ctx is cancelled, then stops
// the relay and waits for it. It returns an error only for fatal conditions
// such as core.ErrUnmappedState. Run must be called once.
func (b *Bridge) Run(ctx context.Context) error {
	stop := make(chan struct{})
	relayErr := make(chan error, 1)
	go func() {
		defer close(b.relayDone)
		relayErr <- b.relay(ctx, stop)
	}()
	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- b.dispatch(ctx)
	}()

	var err error
	select {
	case err = <-dispatchErr:
		close(stop)
		if rerr := <-relayErr; err == nil {
			err = rerr
		}
	case err = <-relayErr:
		// The dispatcher may still be blocked reading the inbound stream;
		// it is abandoned and the caller is expected to exit.
		if err == nil {
			err = errors.New("relay stopped unexpectedly")
		}
	case <-ctx.Done():
		close(stop)
		<-relayErr
		err = ctx.Err()
	}
	if errors.Is(err, ipc.ErrClosed) {
		b.logger.Printf("outbound stream closed: %v", err)
		return nil
	}
	return err
}

// notify hands ev to the relay, giving up if the relay already exited.
func (b *Bridge) notify(ev core.Event) {
	select {
	case b.notices <- ev:
	case <-b.relayDone:
		b.logger.Printf("relay gone; dropping %T", ev)
	}
}
