package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/atmodem/at"
)

// maxLineLength bounds a single response line.
const maxLineLength = 64 * 1024

// Modem represents a cellular modem that communicates via AT commands.
// Commands are serialized through a job queue and executed one at a time by
// a central event loop that owns all transport I/O, so exactly one command
// awaits its response at any instant.
type Modem struct {
	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger
	codec  Codec
	// partials holds the parts of concatenated messages seen so far
	partials *Reassembler

	// mu guards the fields below up to the loop-owned block.
	mu sync.Mutex
	// queue holds pending jobs; the head is the active one while locked
	queue []*Job
	// active is the job whose response is being collected
	active *Job
	// locked is true while a response is awaited or release is pending
	locked bool
	// opened is true while the transport accepts commands
	opened bool
	// closed indicates if the modem has been shut down
	closed   bool
	nextID   int
	handlers []Handler
	// stopLoop cancels the running Loop
	stopLoop context.CancelFunc

	// Owned by the Loop goroutine.
	lines    []string
	timer    *time.Timer
	timerSeq int
	loopDone <-chan struct{}
	shutDown bool

	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool
	// wake schedules a dispatch step on the Loop
	wake chan struct{}
	// expired receives fired job timers
	expired chan expiry
}

type expiry struct {
	id    int
	seq   int
	grace bool
}

// New creates a new Modem with the given configuration and dials its
// transport. Commands submitted before Loop starts stay queued.
func New(ctx context.Context, config Config) (*Modem, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	return &Modem{
		transport: transport,
		config:    config,
		logger:    config.Logger,
		codec:     config.Codec,
		partials:  NewReassembler(),
		opened:    true,
		handlers:  slices.Clone(config.Handlers),
		wake:      make(chan struct{}, 1),
		expired:   make(chan expiry),
	}, nil
}

// Open dials the modem, starts its Loop and initializes the device:
// an AT check, echo off, then PDU mode. The open event fires once PDU mode is set.
// The Loop runs until Close.
func Open(ctx context.Context, config Config) (*Modem, error) {
	m, err := New(ctx, config)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := m.Loop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("modem loop stopped", "error", err)
		}
	}()

	initCtx, cancel := context.WithTimeout(ctx, m.config.InitTimeout)
	defer cancel()

	if err := m.init(initCtx); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// init runs the setup sequence every SMS operation relies on.
func (m *Modem) init(ctx context.Context) error {
	if _, err := m.Execute(ctx, at.CmdAt); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if _, err := m.Execute(ctx, at.CmdEchoOff); err != nil {
		return fmt.Errorf("failed to disable echo: %w", err)
	}

	// A device left in text mode would break send, list and read
	_, err := m.Execute(ctx, at.CmdPDUMode, Then(func(_ Submitter, _ *Response, err error) {
		if err == nil {
			m.emit(Event{Kind: EventOpen})
		}
	}))
	if err != nil {
		return fmt.Errorf("failed to set PDU mode: %w", err)
	}
	return nil
}

// Handle registers h to receive every subsequent event.
func (m *Modem) Handle(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Loop is the event loop that handles all transport I/O. It must run for
// submitted commands to execute:
//
// 1. Dispatches the head of the queue, writing it to the transport
// 2. Reads and classifies response lines
// 3. Routes unsolicited lines to events
// 4. Completes the active job and advances the queue
// 5. Expires job timers
//
// The Loop runs until ctx is cancelled, Close is called or the transport
// stops. On exit every queued job is settled with ErrTransportClosed and
// the close event fires.
//
// Usage:
//
//	m, err := New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//	resp, err := m.Execute(ctx, "AT+CSQ")
func (m *Modem) Loop(ctx context.Context) error {
	if m.transport == nil {
		return ErrNotInitialized
	}
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.stopLoop = cancel
	m.mu.Unlock()
	m.loopDone = ctx.Done()

	scanner := bufio.NewScanner(m.transport)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	scanner.Split(at.Splitter)

	// Channels for tokens and errors from the scanner goroutine
	tokens := make(chan string, 10)
	scanErrs := make(chan error, 1)

	go func() {
		defer close(tokens)
		for scanner.Scan() {
			select {
			case tokens <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				err = ErrLineTooLong
			}
			scanErrs <- err
		}
	}()

	// Jobs submitted before the loop started.
	m.schedule()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()

		case <-m.wake:
			m.dispatch()

		case ev := <-m.expired:
			m.expire(ev)

		case token, ok := <-tokens:
			if ok {
				m.processLine(token)
				continue
			}
			select {
			case err := <-scanErrs:
				m.emit(Event{Kind: EventError, Err: err})
				m.shutdown()
				return fmt.Errorf("scanner error: %w", err)
			default:
			}
			m.shutdown()
			return io.EOF
		}
	}
}

// Submit queues command and returns its pending result. It fails
// immediately, without queueing, once the transport has closed.
func (m *Modem) Submit(command string, opts ...Option) *Future {
	return m.insert(command, opts, func() int { return len(m.queue) })
}

// Execute submits command and waits for its result.
func (m *Modem) Execute(ctx context.Context, command string, opts ...Option) (*Response, error) {
	return m.Submit(command, opts...).Wait(ctx)
}

// Pending returns the number of queued jobs, the active one included.
func (m *Modem) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close shuts down the modem and releases all resources.
// It stops the event loop, closes the transport connection, and marks
// the modem as closed. After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	m.opened = false
	stop := m.stopLoop
	m.mu.Unlock()

	if stop != nil {
		stop()
	} else {
		m.shutdown()
	}

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// insert creates a job and places it at the queue position returned by pos,
// which is evaluated under the queue lock.
func (m *Modem) insert(command string, opts []Option, pos func() int) *Future {
	job := &Job{
		command: command,
		timeout: m.config.ATTimeout,
		future:  newFuture(),
	}
	for _, opt := range opts {
		opt(job)
	}

	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		m.resolve(job, nil, ErrTransportClosed)
		return job.future
	}
	m.nextID++
	job.id = m.nextID
	m.queue = slices.Insert(m.queue, pos(), job)
	m.mu.Unlock()

	m.schedule()
	return job.future
}

// prioritySubmitter places jobs directly behind after, in submission order.
type prioritySubmitter struct {
	m     *Modem
	after *Job
	n     int
}

func (p *prioritySubmitter) Submit(command string, opts ...Option) *Future {
	return p.m.insert(command, opts, func() int {
		i := slices.Index(p.m.queue, p.after)
		if i < 0 {
			return len(p.m.queue)
		}
		p.n++
		return i + p.n
	})
}

// schedule requests a dispatch step from the Loop.
func (m *Modem) schedule() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Modem) dispatch() {
	m.mu.Lock()
	if !m.opened {
		m.mu.Unlock()
		m.emit(Event{Kind: EventClose})
		return
	}
	if m.locked {
		m.mu.Unlock()
		return
	}
	if len(m.queue) == 0 {
		m.mu.Unlock()
		m.emit(Event{Kind: EventIdle})
		return
	}
	job := m.queue[0]
	m.active = job
	m.locked = true
	m.mu.Unlock()

	m.lines = nil
	m.logger.Debug("dispatch", "id", job.id, "command", job.command)

	if _, err := m.transport.Write([]byte(job.command + at.CR)); err != nil {
		m.finish(job, nil, fmt.Errorf("write command %q: %w", job.command, err))
		return
	}

	switch {
	case job.special:
		m.arm(job, SpecialGrace, true)
	case job.timeout > 0:
		m.arm(job, job.timeout, false)
	}
}

func (m *Modem) arm(job *Job, d time.Duration, grace bool) {
	m.stopTimer()
	m.timerSeq++
	ev := expiry{id: job.id, seq: m.timerSeq, grace: grace}
	done := m.loopDone
	m.timer = time.AfterFunc(d, func() {
		select {
		case m.expired <- ev:
		case <-done:
		}
	})
}

func (m *Modem) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Modem) expire(ev expiry) {
	if ev.seq != m.timerSeq {
		return
	}
	m.mu.Lock()
	job := m.active
	m.mu.Unlock()
	if job == nil || job.id != ev.id {
		return
	}

	if ev.grace {
		m.finish(job, &Response{Command: job.command, Lines: []string{}, Terminator: strings.TrimSpace(at.Prompt)}, nil)
		return
	}
	m.logger.Warn("command timed out", "id", job.id, "command", job.command, "timeout", job.timeout)
	m.finish(job, nil, &TimeoutError{Command: job.command, Timeout: job.timeout})
}

// processLine runs once per received line: echo filtering, routing, then
// classification against the active job.
func (m *Modem) processLine(line string) {
	term := strings.TrimSpace(line)
	if term == "" {
		return
	}

	m.mu.Lock()
	job := m.active
	m.mu.Unlock()

	if job != nil && strings.HasPrefix(strings.TrimSpace(job.command), term) {
		return
	}
	m.logger.Debug("received", "line", term)
	m.emit(Event{Kind: EventData, Line: term})

	if m.route(term, job != nil) {
		return
	}
	if job == nil {
		return
	}

	m.lines = append(m.lines, term)
	if !job.completes(term) {
		return
	}

	resp := &Response{
		Command:    job.command,
		Lines:      slices.Clone(m.lines[:len(m.lines)-1]),
		Terminator: term,
	}
	var err error
	if job.failed(term) {
		err = &ProtocolError{Command: job.command, Terminator: term}
	}
	m.finish(job, resp, err)
}

// finish settles job, then releases the lock and schedules the next
// dispatch. Callbacks run before release so their follow-up jobs are at the
// front of the queue when it advances.
func (m *Modem) finish(job *Job, resp *Response, err error) {
	m.stopTimer()
	m.resolve(job, resp, err)
	m.release(job)
	m.schedule()
}

func (m *Modem) resolve(job *Job, resp *Response, err error) {
	s := &prioritySubmitter{m: m, after: job}
	for _, fn := range job.callbacks {
		fn(s, resp, err)
	}
	job.future.settle(resp, err)
}

func (m *Modem) release(job *Job) {
	m.lines = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = false
	if m.active == job {
		m.active = nil
	}
	if i := slices.Index(m.queue, job); i >= 0 {
		m.queue = slices.Delete(m.queue, i, i+1)
	}
}

// shutdown settles every queued job with ErrTransportClosed and emits close.
func (m *Modem) shutdown() {
	m.mu.Lock()
	if m.shutDown {
		m.mu.Unlock()
		return
	}
	m.shutDown = true
	m.opened = false
	pending := m.queue
	m.queue = nil
	m.active = nil
	m.locked = false
	m.mu.Unlock()

	m.stopTimer()
	m.lines = nil
	for _, job := range pending {
		m.resolve(job, nil, ErrTransportClosed)
	}
	m.emit(Event{Kind: EventClose})
}

func (m *Modem) emit(e Event) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h.HandleEvent(e)
	}
}
