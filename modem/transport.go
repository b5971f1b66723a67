package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/warthog618/modem/trace"
	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double) and is intended to be used
// during modem construction only. Once a Transport is obtained, the Dialer is
// no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// DefaultMode is the serial line setting used when SerialDialer.Mode is nil.
var DefaultMode = serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// SerialDialer opens a GSM modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	Mode     *serial.Mode
}

// Dial opens the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		m := DefaultMode
		mode = &m
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("modem: open serial port %q: %w", d.PortName, err)
	}
	return port, nil
}

// TraceDialer wraps the Transport returned by Dialer so that every byte
// read from and written to the modem is logged.
type TraceDialer struct {
	Dialer Dialer
	Logger *log.Logger
}

type tracedTransport struct {
	*trace.Trace
	io.Closer
}

// Dial dials the wrapped Dialer and attaches the tracer.
func (d TraceDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Dialer == nil {
		return nil, ErrNoDialer
	}
	t, err := d.Dialer.Dial(ctx)
	if err != nil || t == nil {
		return t, err
	}

	var opts []trace.Option
	if d.Logger != nil {
		opts = append(opts, trace.WithLogger(d.Logger))
	}
	return tracedTransport{Trace: trace.New(t, opts...), Closer: t}, nil
}
