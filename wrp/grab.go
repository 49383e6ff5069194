package wrp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ImprolabFIT/wrpserver/camera"
	"github.com/ImprolabFIT/wrpserver/logger"
	"github.com/ImprolabFIT/wrpserver/perfmonitor"
	"github.com/ImprolabFIT/wrpserver/wire"
)

// ErrAckOutOfRange is returned for an ACK naming a frame id that was never
// sent or is older than the last acknowledged one.
var ErrAckOutOfRange = errors.New("wrp: acknowledged frame id out of range")

// frameSource is the part of camera.Adapter the grab worker uses.
type frameSource interface {
	NextFrame(ctx context.Context, timeout time.Duration) (camera.Frame, error)
}

// streamStats describes a finished stream.
type streamStats struct {
	sent    uint64
	dropped uint64
	reason  string
	stopped bool // ended by stop rather than on its own
}

// grabWorker streams frames from a camera to the session's outbox until it
// is stopped or the camera stops producing frames. Stream frame ids start
// at 1. With a window w > 0, frame n is only sent while n-w is
// acknowledged; frames grabbed beyond the window are dropped.
type grabWorker struct {
	log      logger.Logger
	source   frameSource
	out      *outbox
	buf      *wire.Buffer
	timeout  time.Duration
	maxMiss  int
	window   uint32
	onFinish func(streamStats)

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	lastSent  atomic.Uint32
	lastAcked atomic.Uint32
	sent      atomic.Uint64
	dropped   atomic.Uint64
	latency   perfmonitor.Summary
}

func newGrabWorker(log logger.Logger, source frameSource, out *outbox, opts Options, onFinish func(streamStats)) *grabWorker {
	ctx, cancel := context.WithCancel(context.Background())

	return &grabWorker{
		log:      log,
		source:   source,
		out:      out,
		buf:      wire.NewBuffer(opts.OutputBufferSize),
		timeout:  opts.FrameTimeout,
		maxMiss:  opts.MaxConsecutiveTimeouts,
		window:   opts.AckWindow,
		onFinish: onFinish,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (w *grabWorker) start() {
	go w.run()
}

// stop asks the worker to finish and waits until it did. Safe to call from
// several goroutines and after the worker ended on its own.
func (w *grabWorker) stop() {
	w.halt()
	<-w.done
}

// halt asks the worker to finish without waiting for it.
func (w *grabWorker) halt() {
	w.stopOnce.Do(w.cancel)
}

func (w *grabWorker) stopped() bool {
	return w.ctx.Err() != nil
}

// ack records that the client received frame id.
func (w *grabWorker) ack(id uint32) error {
	last, acked := w.lastSent.Load(), w.lastAcked.Load()
	if id < acked || id > last {
		return fmt.Errorf("%w: got %d, acknowledged %d, sent %d", ErrAckOutOfRange, id, acked, last)
	}

	w.lastAcked.Store(id)
	return nil
}

func (w *grabWorker) run() {
	reason := w.loop()

	count, mean, peak := w.latency.Snapshot()
	stats := streamStats{
		sent:    w.sent.Load(),
		dropped: w.dropped.Load(),
		reason:  reason,
		stopped: w.stopped(),
	}

	w.log.Info("stream finished",
		logger.Field{Key: "reason", Value: reason},
		logger.Field{Key: "sent", Value: stats.sent},
		logger.Field{Key: "dropped", Value: stats.dropped},
		logger.Field{Key: "measured", Value: count},
		logger.Field{Key: "mean_ms", Value: float64(mean) / float64(time.Millisecond)},
		logger.Field{Key: "max_ms", Value: float64(peak) / float64(time.Millisecond)},
	)

	// onFinish runs before done is closed so stop returns only after it
	if w.onFinish != nil {
		w.onFinish(stats)
	}

	close(w.done)
}

// loop streams until it has to end and returns why.
func (w *grabWorker) loop() string {
	pm := perfmonitor.NewPerformanceMonitor()
	misses := 0

	for {
		if w.stopped() {
			return "stopped"
		}

		pm.Start()
		frame, err := w.source.NextFrame(w.ctx, w.timeout)
		switch {
		case err == nil:
			misses = 0
		case w.stopped():
			return "stopped"
		case errors.Is(err, camera.ErrTimeout):
			misses++
			w.log.Warn("frame timeout", logger.Field{Key: "consecutive", Value: misses})
			if misses >= w.maxMiss {
				return "frame timeout"
			}
			continue
		default:
			w.log.Error("frame grab failed", logger.Field{Key: "error", Value: err})
			return "grab failed"
		}

		id := w.lastSent.Load() + 1
		if w.window > 0 && id-w.lastAcked.Load() > w.window {
			w.dropped.Add(1)
			continue
		}

		if err := wire.EncodeFrame(w.buf, frameData(id, frame)); err != nil {
			w.log.Error("frame encoding failed", logger.Field{Key: "error", Value: err})
			return "encoding failed"
		}

		if err := w.out.send(w.buf.Bytes()); err != nil {
			w.log.Debug("frame send failed", logger.Field{Key: "error", Value: err})
			return "connection lost"
		}

		w.lastSent.Store(id)
		w.sent.Add(1)
		pm.Stop()
		w.latency.Observe(pm)
	}
}

func frameData(id uint32, f camera.Frame) wire.FrameData {
	return wire.FrameData{
		ID:           id,
		Timestamp:    f.Timestamp,
		Height:       f.Height,
		Width:        f.Width,
		Temperatures: f.Temperatures,
	}
}
