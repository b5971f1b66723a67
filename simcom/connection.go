package simcom

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"i4.energy/across/atmodem/at"
	"i4.energy/across/atmodem/modem"
)

const (
	// Delimiter terminates every chunk passed to Write.
	Delimiter byte = '|'

	// MaxPayload is the soft cap on one coalesced send.
	MaxPayload = 300

	ConnectTimeout = 30 * time.Second
	SendTimeout    = 10 * time.Second
)

var connectPattern = regexp.MustCompile(`^CONNECT`)

// Connection is a TCP or UDP stream multiplexed over the modem's AT channel.
// Its events are connect (EventOpen), data (EventGPRSData), close
// (EventClose) and error (EventError).
type Connection struct {
	sim      *SimCom
	Protocol string
	Host     string
	Port     int

	mu         sync.Mutex
	connected  bool
	connecting bool
	sending    bool
	destroyed  bool
	buffer     [][]byte
	attempt    *modem.Future
	err        error
	handlers   []modem.Handler
}

// CreateTCPConnection starts connecting a TCP socket. It replaces any
// previous connection, which is orphaned.
func (s *SimCom) CreateTCPConnection(host string, port int, handlers ...modem.Handler) *Connection {
	return s.createConnection("TCP", host, port, handlers)
}

// CreateUDPConnection starts connecting a UDP socket.
func (s *SimCom) CreateUDPConnection(host string, port int, handlers ...modem.Handler) *Connection {
	return s.createConnection("UDP", host, port, handlers)
}

func (s *SimCom) createConnection(protocol, host string, port int, handlers []modem.Handler) *Connection {
	c := &Connection{
		sim:      s,
		Protocol: protocol,
		Host:     host,
		Port:     port,
		handlers: handlers,
	}
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()

	c.connect()
	return c
}

// Handle registers h to receive connection events.
func (c *Connection) Handle(h modem.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Connected reports whether the socket is open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Sending reports whether a send is in flight.
func (c *Connection) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Buffered returns the number of chunks waiting to be sent.
func (c *Connection) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Wait blocks until the latest connect attempt finished and returns its error.
func (c *Connection) Wait(ctx context.Context) error {
	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()

	if _, err := attempt.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) connect() {
	c.mu.Lock()
	c.connecting = true
	c.err = nil
	c.mu.Unlock()

	f := c.sim.modem.Submit(fmt.Sprintf(at.CmdOpenSocket, c.Protocol, c.Host, c.Port),
		modem.WithTimeout(ConnectTimeout), modem.Custom(), modem.WithPattern(connectPattern),
		modem.Then(func(_ modem.Submitter, resp *modem.Response, err error) {
			if err == nil && resp.Terminator == at.ConnectFail {
				err = &modem.ProtocolError{Command: resp.Command, Terminator: resp.Terminator}
			}
			if err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrConnectFailed, err))
				return
			}

			c.mu.Lock()
			c.buffer = nil
			c.connected = true
			c.connecting = false
			c.sending = false
			c.mu.Unlock()
			c.emit(modem.Event{Kind: modem.EventOpen})
		}))

	c.mu.Lock()
	c.attempt = f
	c.mu.Unlock()
}

// Write queues p as one delimited chunk. If the socket is connected and
// idle, buffered chunks are coalesced up to MaxPayload and sent. Chunks left
// behind go out with a later Write.
func (c *Connection) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	chunk := append(slices.Clone(p), Delimiter)
	c.buffer = append(c.buffer, chunk)

	if c.sending || !c.connected || c.connecting {
		c.mu.Unlock()
		return len(p), nil
	}
	payload := c.takeLocked()
	c.sending = true
	c.mu.Unlock()

	c.send(payload)
	return len(p), nil
}

// takeLocked removes the leading chunks that fit in MaxPayload. The first
// chunk is always taken.
func (c *Connection) takeLocked() []byte {
	n, size := 0, 0
	for n < len(c.buffer) {
		if n > 0 && size+len(c.buffer[n]) > MaxPayload {
			break
		}
		size += len(c.buffer[n])
		n++
	}
	payload := bytes.Join(c.buffer[:n], nil)
	c.buffer = slices.Delete(c.buffer, 0, n)
	return payload
}

// send announces the payload length, then writes the payload once the
// prompt arrived. Completion is the SEND OK line.
func (c *Connection) send(payload []byte) {
	c.sim.modem.Submit(fmt.Sprintf(at.CmdSocketSend, len(payload)),
		modem.Special(), modem.WithTerminator(strings.TrimSpace(at.Prompt)),
		modem.Then(func(s modem.Submitter, _ *modem.Response, err error) {
			if err != nil {
				c.sent(err)
				return
			}
			s.Submit(string(payload), modem.WithTimeout(SendTimeout),
				modem.WithPredicate(func(line string) bool {
					return strings.TrimSpace(line) == at.SendOK
				}),
				modem.Then(func(_ modem.Submitter, resp *modem.Response, err error) {
					if err == nil && resp.Terminator != at.SendOK {
						err = &modem.ProtocolError{Command: "send", Terminator: resp.Terminator}
					}
					c.sent(err)
				}))
		}))
}

func (c *Connection) sent(err error) {
	c.mu.Lock()
	c.sending = false
	c.mu.Unlock()

	if err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrSendFailed, err))
	}
}

// End closes the socket and waits for the modem to confirm. It is a no-op
// when not connected.
func (c *Connection) End(ctx context.Context) error {
	f := c.end()
	if f == nil {
		return nil
	}
	_, err := f.Wait(ctx)
	return err
}

func (c *Connection) end() *modem.Future {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil
	}

	return c.sim.modem.Submit(at.CmdCloseSocket, modem.WithTerminator(at.CloseOK),
		modem.Then(func(_ modem.Submitter, _ *modem.Response, err error) {
			if err != nil {
				c.fail(fmt.Errorf("%w: %w", ErrCloseFailed, err))
				return
			}
			c.closed()
		}))
}

// Reconnect closes the socket if it is open, then connects again.
func (c *Connection) Reconnect() {
	c.end()
	c.connect()
}

// Destroy closes the socket and detaches the connection from its SimCom.
// Writes fail afterwards.
func (c *Connection) Destroy() {
	c.end()

	c.mu.Lock()
	c.destroyed = true
	c.buffer = nil
	c.mu.Unlock()

	c.sim.mu.Lock()
	if c.sim.conn == c {
		c.sim.conn = nil
	}
	c.sim.mu.Unlock()
}

func (c *Connection) closed() {
	c.mu.Lock()
	c.connected = false
	c.connecting = false
	c.mu.Unlock()
	c.emit(modem.Event{Kind: modem.EventClose})
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.connecting = false
	c.err = err
	c.mu.Unlock()
	c.sim.logger.Warn("connection error", "host", c.Host, "port", c.Port, "error", err)
	c.emit(modem.Event{Kind: modem.EventError, Err: err})
}

func (c *Connection) emit(e modem.Event) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h.HandleEvent(e)
	}
}
