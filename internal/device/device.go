// Package device implements a software data-parallel device: kernels are Go
// closures executed over a grid of blocks of threads, enqueued on a stream
// and run asynchronously by a worker pool. It reproduces the launch model of
// a GPU-class accelerator closely enough that launchers and kernels keep the
// same shape they would have against real device runtimes.
package device

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/flare-ml/flare/internal/parallel"
)

// Device is an opaque handle to the simulated accelerator. It owns one
// stream; launches enqueue onto it and execute in submission order.
type Device struct {
	id       uuid.UUID
	cfg      parallel.Config
	maxGrid  int
	hasHalf2 bool
	log      *slog.Logger

	stream *Stream
}

// Option configures a Device.
type Option func(*Device)

// WithWorkers sets the number of worker goroutines executing blocks.
func WithWorkers(n int) Option {
	return func(d *Device) {
		d.cfg.NumWorkers = n
		d.cfg.Enabled = n > 1
	}
}

// WithMaxGrid caps the number of blocks per launch. Work beyond the cap is
// covered by grid-stride loops inside the kernels.
func WithMaxGrid(n int) Option {
	return func(d *Device) { d.maxGrid = n }
}

// WithHalf2 toggles the native packed-half capability. When disabled, the
// half ReLU-gradient kernels take the widening fallback path.
func WithHalf2(enabled bool) Option {
	return func(d *Device) { d.hasHalf2 = enabled }
}

// WithLogger sets the logger used for device diagnostics.
func WithLogger(log *slog.Logger) Option {
	return func(d *Device) { d.log = log }
}

// New creates a Device with one stream.
func New(opts ...Option) *Device {
	d := &Device{
		id:       uuid.New(),
		cfg:      parallel.DefaultConfig(),
		maxGrid:  1 << 16,
		hasHalf2: true,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.stream = newStream(d)
	d.log.Debug("device created", "device", d.id, "workers", d.cfg.NumWorkers, "max_grid", d.maxGrid)
	return d
}

// ID returns the device identifier.
func (d *Device) ID() uuid.UUID {
	return d.id
}

// HasHalf2 reports whether the device supports native packed-half compare
// and multiply.
func (d *Device) HasHalf2() bool {
	return d.hasHalf2
}

// Logger returns the device's logger.
func (d *Device) Logger() *slog.Logger {
	return d.log
}

// Stream returns the device's stream.
func (d *Device) Stream() *Stream {
	return d.stream
}

// Synchronize waits for all enqueued launches to finish and returns the
// first asynchronous execution error, if any.
func (d *Device) Synchronize() error {
	return d.stream.Synchronize()
}

// launch is one enqueued kernel invocation.
type launch struct {
	name        string
	cfg         LaunchConfig
	kernel      KernelFunc
	cooperative bool
}

// Stream executes launches in submission order. Enqueue failures are
// reported synchronously by Launch; kernel panics become asynchronous
// errors surfaced by Synchronize, mirroring how device runtimes defer
// execution errors to the next synchronization point.
type Stream struct {
	dev *Device
	id  uuid.UUID

	mu      sync.Mutex
	pending []*launch
	err     error
}

func newStream(d *Device) *Stream {
	return &Stream{dev: d, id: uuid.New()}
}

// ID returns the stream identifier.
func (s *Stream) ID() uuid.UUID {
	return s.id
}

// Launch enqueues a kernel. Geometry errors are returned synchronously;
// the kernel itself runs when the stream drains.
func (s *Stream) Launch(name string, cfg LaunchConfig, k KernelFunc) error {
	return s.enqueue(&launch{name: name, cfg: cfg, kernel: k})
}

// LaunchCooperative enqueues a kernel whose threads may use warp shuffles.
// The block size must be a whole number of warps.
func (s *Stream) LaunchCooperative(name string, cfg LaunchConfig, k KernelFunc) error {
	if cfg.Block.X%WarpSize != 0 {
		return fmt.Errorf("device: cooperative launch %q: block size %d is not a multiple of the warp size %d",
			name, cfg.Block.X, WarpSize)
	}
	return s.enqueue(&launch{name: name, cfg: cfg, kernel: k, cooperative: true})
}

func (s *Stream) enqueue(l *launch) error {
	if l.kernel == nil {
		return fmt.Errorf("device: launch %q: nil kernel", l.name)
	}
	if l.cfg.Grid.Count() <= 0 || l.cfg.Block.Count() <= 0 {
		return fmt.Errorf("device: launch %q: empty geometry %+v", l.name, l.cfg)
	}
	s.mu.Lock()
	s.pending = append(s.pending, l)
	s.mu.Unlock()
	return nil
}

// Synchronize drains the stream and returns the first execution error.
// The error is sticky: once a launch has failed, the stream keeps reporting
// it until the caller inspects and recreates the device.
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.pending {
		if s.err != nil {
			break
		}
		if err := s.run(l); err != nil {
			s.err = fmt.Errorf("device: stream %s: launch %q: %w", s.id, l.name, err)
			s.dev.log.Error("kernel failed", "stream", s.id, "kernel", l.name, "err", err)
		}
	}
	s.pending = s.pending[:0]
	return s.err
}

// Err returns the stream's sticky execution error without draining.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// run executes one launch to completion. Blocks are distributed over the
// worker pool; threads inside a block run sequentially unless the launch is
// cooperative, in which case each warp's lanes run in lockstep.
func (s *Stream) run(l *launch) (err error) {
	grid, block := l.cfg.Grid, l.cfg.Block

	var mu sync.Mutex
	record := func(r any) {
		mu.Lock()
		if err == nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
		mu.Unlock()
	}

	runBlock := func(bx int) {
		defer func() {
			if r := recover(); r != nil {
				record(r)
			}
		}()
		if l.cooperative {
			s.runBlockCooperative(l, bx, record)
			return
		}
		tid := ThreadID{BlockIdx: D1(bx), BlockDim: block, GridDim: grid}
		for tx := 0; tx < block.X; tx++ {
			tid.ThreadIdx = D1(tx)
			l.kernel(tid)
		}
	}

	parallel.For(grid.X, runBlock, s.dev.cfg)
	return err
}

// runBlockCooperative runs one block warp by warp, each warp's lanes as
// goroutines synchronized by the warp's exchange barrier.
func (s *Stream) runBlockCooperative(l *launch, bx int, record func(any)) {
	block, grid := l.cfg.Block, l.cfg.Grid
	for warpStart := 0; warpStart < block.X; warpStart += WarpSize {
		w := newWarpCtx(WarpSize)
		var wg sync.WaitGroup
		for lane := 0; lane < WarpSize; lane++ {
			wg.Add(1)
			go func(lane int) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						record(r)
						w.abandon(lane)
					}
				}()
				tid := ThreadID{
					ThreadIdx: D1(warpStart + lane),
					BlockIdx:  D1(bx),
					BlockDim:  block,
					GridDim:   grid,
					warp:      w,
					lane:      lane,
				}
				l.kernel(tid)
				w.abandon(lane)
			}(lane)
		}
		wg.Wait()
	}
}
