package notify

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"alphadesk/internal/logger"
	"alphadesk/internal/types"
)

const (
	defaultBuffer = 256
	sendTimeout   = 10 * time.Second
	drainTimeout  = 3 * time.Second
)

type worker struct {
	sink   Sink
	filter Filter
	ch     chan types.Event
}

// Dispatcher 把引擎事件扇出给多个下游。每个下游有独立的有界缓冲和 goroutine，
// 慢或失败的下游只会丢自己的事件，Publish 永不阻塞。
type Dispatcher struct {
	in      chan types.Event
	buffer  int
	workers []*worker
	onDrop  func(sink string)
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{in: make(chan types.Event, buffer), buffer: buffer}
}

// Add 注册下游，须在 Run 之前调用。filter 为 nil 时接收全部事件。
func (d *Dispatcher) Add(s Sink, filter Filter) {
	if s == nil {
		return
	}
	d.workers = append(d.workers, &worker{sink: s, filter: filter, ch: make(chan types.Event, d.buffer)})
}

// OnDrop 设置丢弃回调（用于指标）。
func (d *Dispatcher) OnDrop(fn func(sink string)) {
	d.onDrop = fn
}

// Sinks 返回已注册的下游名称。
func (d *Dispatcher) Sinks() []string {
	out := make([]string, 0, len(d.workers))
	for _, w := range d.workers {
		out = append(out, w.sink.Name())
	}
	return out
}

// Publish 非阻塞地投递事件，入口缓冲满时丢弃。
func (d *Dispatcher) Publish(evs ...types.Event) {
	for _, ev := range evs {
		select {
		case d.in <- ev:
		default:
			d.dropped("dispatcher", ev)
		}
	}
}

// Run 阻塞直到 ctx 结束，退出前尽量送完已缓冲的事件。
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		w := w
		g.Go(func() error {
			d.runWorker(gctx, w)
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			for _, w := range d.workers {
				close(w.ch)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				for {
					select {
					case ev := <-d.in:
						d.fanout(ev)
					default:
						return nil
					}
				}
			case ev := <-d.in:
				d.fanout(ev)
			}
		}
	})
	return g.Wait()
}

func (d *Dispatcher) fanout(ev types.Event) {
	for _, w := range d.workers {
		if w.filter != nil && !w.filter(ev) {
			continue
		}
		select {
		case w.ch <- ev:
		default:
			d.dropped(w.sink.Name(), ev)
		}
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, w *worker) {
	for ev := range w.ch {
		if ctx.Err() != nil {
			// 退出阶段：用独立的短超时送完剩余事件。
			d.deliver(context.Background(), drainTimeout, w.sink, ev)
			continue
		}
		d.deliver(ctx, sendTimeout, w.sink, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, timeout time.Duration, s Sink, ev types.Event) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[notify] sink %s panic: %v", s.Name(), r)
		}
	}()
	if err := s.Send(cctx, ev); err != nil {
		logger.Warnf("[notify] sink %s 发送 %s 失败: %v", s.Name(), ev.Kind, err)
	}
}

func (d *Dispatcher) dropped(sink string, ev types.Event) {
	logger.Warnf("[notify] %s 缓冲已满，丢弃事件 %s", sink, ev.Kind)
	if d.onDrop != nil {
		d.onDrop(sink)
	}
}
