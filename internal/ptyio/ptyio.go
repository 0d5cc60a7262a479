// Package ptyio exposes a byte stream as a pseudo-terminal so serial tools
// (screen, minicom, pyserial) can talk to a BLE peripheral.
//
// Output written with Port.Write is buffered in a byte ring and drained to the
// PTY master by a background loop. Input typed into the slave is split into
// chunks no larger than the link payload and handed to the input callback in
// order. Both directions drop data instead of blocking when the far side is
// slower: output drops the newest bytes, input overwrites the oldest chunks.
//
//	port, err := ptyio.Open(ptyio.DefaultOptions(), func(chunk []byte) {
//	    _ = mgr.Write(id, svc, rx, chunk, false)
//	})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	fmt.Println("serial device:", port.Name())
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blecentral/internal/groutine"
	"golang.org/x/term"
)

const closeTimeout = 5 * time.Second

// InputFunc receives a chunk typed into the terminal. It is called from a single
// goroutine; the slice is owned by the callee.
type InputFunc func(chunk []byte)

// Options configures a Port.
type Options struct {
	// OutputCap is the number of bytes buffered toward the terminal.
	OutputCap int `default:"4096"`
	// InputQueue is the number of chunks buffered toward the peripheral.
	InputQueue uint32 `default:"256"`
	// ChunkSize bounds each input chunk; set it to the usable ATT payload.
	ChunkSize int `default:"20"`
	// PollTimeout is how often the output loop rechecks for shutdown when idle.
	PollTimeout time.Duration `default:"50ms"`
	Logger      *logrus.Logger
}

func DefaultOptions() Options {
	opts := Options{}
	defaults.SetDefaults(&opts)
	return opts
}

// Stats are instantaneous counters for monitoring.
type Stats struct {
	OutputQueued   int
	OutputDropped  uint64
	OutputBytes    uint64
	InputBytes     uint64
	InputOverwrite uint64
}

// Port is a PTY pair bridged to a chunked input callback and a buffered output.
type Port struct {
	logger  *logrus.Logger
	master  *os.File
	slave   *os.File
	name    string
	poll    int
	onInput InputFunc

	chunkSize atomic.Int64
	out       *ringbuffer.RingBuffer
	outReady  chan struct{}
	in        mpmc.RichOverlappedRingBuffer[[]byte]
	inReady   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	outDropped atomic.Uint64
	outBytes   atomic.Uint64
	inBytes    atomic.Uint64
	inOverwr   atomic.Uint64
}

// Open creates the PTY pair, puts the slave in raw mode and starts the I/O loops.
func Open(opts Options, onInput InputFunc) (*Port, error) {
	d := DefaultOptions()
	if opts.OutputCap <= 0 {
		opts.OutputCap = d.OutputCap
	}
	if opts.InputQueue == 0 {
		opts.InputQueue = d.InputQueue
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = d.ChunkSize
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = d.PollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if onInput == nil {
		onInput = func([]byte) {}
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		logger:   opts.Logger,
		master:   master,
		slave:    slave,
		name:     slave.Name(),
		poll:     int(opts.PollTimeout / time.Millisecond),
		onInput:  onInput,
		out:      ringbuffer.New(opts.OutputCap),
		outReady: make(chan struct{}, 1),
		in:       mpmc.NewOverlappedRingBuffer[[]byte](opts.InputQueue),
		inReady:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	p.chunkSize.Store(int64(opts.ChunkSize))

	p.wg.Add(3)
	groutine.Go(ctx, "tty-write-loop", func(context.Context) {
		defer p.wg.Done()
		p.writeLoop()
	})
	groutine.Go(ctx, "tty-read-loop", func(context.Context) {
		defer p.wg.Done()
		p.readLoop()
	})
	groutine.Go(ctx, "tty-input-dispatcher", func(context.Context) {
		defer p.wg.Done()
		p.dispatchInput()
	})

	p.logger.WithField("tty", p.name).Debug("PTY opened")
	return p, nil
}

// Name returns the slave device path, e.g. /dev/pts/5.
func (p *Port) Name() string {
	return p.name
}

// SetChunkSize changes the input chunk bound, e.g. after payload negotiation.
func (p *Port) SetChunkSize(n int) {
	if n > 0 {
		p.chunkSize.Store(int64(n))
	}
}

// Write queues data for the terminal without blocking. It returns the number of
// bytes queued; the rest was dropped because the output buffer is full.
func (p *Port) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := p.out.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return n, err
	}
	if n < len(data) {
		dropped := len(data) - n
		p.outDropped.Add(uint64(dropped))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.name,
			"dropped": dropped,
		}).Warn("PTY output buffer full")
	}
	wake(p.outReady)
	return n, nil
}

func (p *Port) Stats() Stats {
	return Stats{
		OutputQueued:   p.out.Length(),
		OutputDropped:  p.outDropped.Load(),
		OutputBytes:    p.outBytes.Load(),
		InputBytes:     p.inBytes.Load(),
		InputOverwrite: p.inOverwr.Load(),
	}
}

// Close stops the loops and closes both ends of the PTY.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()

	// Closing the slave makes a pending master read fail even when the master
	// is in blocking mode.
	var errs []error
	if err := p.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}
	if err := p.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}

	done := groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
	})
	select {
	case <-done:
	case <-time.After(closeTimeout):
		p.logger.WithField("tty", p.name).Error("PTY loops did not exit after close")
	}

	p.logger.WithField("tty", p.name).Debug("PTY closed")
	return errors.Join(errs...)
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (p *Port) writeLoop() {
	buf := make([]byte, 4096)
	wait := time.Duration(p.poll) * time.Millisecond
	for {
		n, err := p.out.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("PTY output read failed")
		}
		if n == 0 {
			select {
			case <-p.ctx.Done():
				return
			case <-p.outReady:
			case <-time.After(wait):
			}
			continue
		}

		for off := 0; off < n; {
			written, err := p.master.Write(buf[off:n])
			off += written
			p.outBytes.Add(uint64(written))
			if err == nil || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
				continue
			}
			if p.ctx.Err() == nil {
				p.logger.WithError(err).Warn("PTY write loop exiting")
			}
			return
		}
	}
}

func (p *Port) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			p.inBytes.Add(uint64(n))
			p.enqueueInput(buf[:n])
		}
		if err == nil || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
			continue
		}
		if p.ctx.Err() == nil && !errors.Is(err, io.EOF) {
			p.logger.WithError(err).Warn("PTY read loop exiting")
		}
		return
	}
}

// enqueueInput splits data into chunks and queues them for the dispatcher.
func (p *Port) enqueueInput(data []byte) {
	size := int(p.chunkSize.Load())
	for len(data) > 0 {
		n := min(size, len(data))
		chunk := append([]byte(nil), data[:n]...)
		data = data[n:]

		overwrites, err := p.in.EnqueueM(chunk)
		if err != nil {
			p.logger.WithError(err).Warn("PTY input queue rejected chunk")
			continue
		}
		if overwrites > 0 {
			p.inOverwr.Add(uint64(overwrites))
			p.logger.WithField("tty", p.name).Warn("PTY input queue full, oldest input dropped")
		}
	}
	wake(p.inReady)
}

func (p *Port) dispatchInput() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.inReady:
		}

		for !p.in.IsEmpty() {
			chunk, err := p.in.Dequeue()
			if err != nil {
				break
			}
			p.deliver(chunk)
		}
	}
}

func (p *Port) deliver(chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("PTY input callback panicked")
		}
	}()
	p.onInput(chunk)
}

// createPTY opens a PTY pair with a raw slave. The master is never asked for its
// descriptor so it stays on the runtime poller and Close unblocks its I/O.
func createPTY() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(cause error) error {
		return errors.Join(cause, master.Close(), slave.Close())
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup(fmt.Errorf("failed to set PTY %s to raw mode: %w", slave.Name(), err))
	}
	return master, slave, nil
}
