// Package simcom drives SIMCom SIM800/SIM808 modems on top of the generic
// modem executor: GPRS bring-up, a single virtual socket over the AT channel,
// GNSS polling and SIM checks.
package simcom

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/warthog618/modem/info"

	"i4.energy/across/atmodem/at"
	"i4.energy/across/atmodem/modem"
)

// FetchSize is the largest chunk AT+CIPRXGET=2 may return.
const FetchSize = 1460

// forwarded lists the modem events re-emitted unchanged by SimCom.
var forwarded = map[modem.EventKind]bool{
	modem.EventOpen:        true,
	modem.EventClose:       true,
	modem.EventError:       true,
	modem.EventIdle:        true,
	modem.EventMemoryFull:  true,
	modem.EventSMSReceived: true,
	modem.EventDelivery:    true,
	modem.EventRing:        true,
	modem.EventData:        true,
}

// SimCom wraps a Modem. GPRS notifications go to the current Connection;
// other modem events are forwarded to SimCom's own handlers.
type SimCom struct {
	modem  *modem.Modem
	logger *slog.Logger

	mu       sync.Mutex
	handlers []modem.Handler
	conn     *Connection
	gps      *gpsPoller
}

// New attaches a SimCom layer to m. The logger may be nil.
func New(m *modem.Modem, logger *slog.Logger) *SimCom {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SimCom{modem: m, logger: logger}
	m.Handle(modem.HandlerFunc(s.forward))
	return s
}

// Modem returns the underlying executor.
func (s *SimCom) Modem() *modem.Modem {
	return s.modem
}

// Handle registers h to receive SimCom events.
func (s *SimCom) Handle(h modem.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Execute runs a raw command on the modem.
func (s *SimCom) Execute(ctx context.Context, command string, opts ...modem.Option) (*modem.Response, error) {
	return s.modem.Execute(ctx, command, opts...)
}

// Close stops GNSS polling and closes the modem.
func (s *SimCom) Close() error {
	s.StopGPSInfo()
	return s.modem.Close()
}

func (s *SimCom) forward(e modem.Event) {
	switch e.Kind {
	case modem.EventGPRSData:
		if c := s.connection(); c != nil {
			c.emit(modem.Event{Kind: modem.EventGPRSData, Data: e.Data})
		}
	case modem.EventSendFail:
		if c := s.connection(); c != nil {
			c.end()
		}
	case modem.EventGPRSClose:
		if c := s.connection(); c != nil {
			c.closed()
		}
	}
	if forwarded[e.Kind] {
		s.emit(e)
	}
}

func (s *SimCom) emit(e modem.Event) {
	s.mu.Lock()
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h.HandleEvent(e)
	}
}

func (s *SimCom) connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// StartGPRS brings up the GPRS context with the given access point name.
// Success emits gprs_enabled; any failure emits error and aborts the sequence.
func (s *SimCom) StartGPRS(ctx context.Context, apn string) error {
	if err := s.startGPRS(ctx, apn); err != nil {
		s.logger.Warn("GPRS bring-up failed", "apn", apn, "error", err)
		s.emit(modem.Event{Kind: modem.EventError, Err: err})
		return err
	}
	s.logger.Info("GPRS enabled", "apn", apn)
	s.emit(modem.Event{Kind: modem.EventGPRSEnabled})
	return nil
}

func (s *SimCom) startGPRS(ctx context.Context, apn string) error {
	m := s.modem

	if _, err := m.Execute(ctx, at.CmdShutGPRS, modem.WithTimeout(0), modem.WithTerminator(at.ShutOK)); err != nil {
		return fmt.Errorf("shut GPRS: %w", err)
	}

	resp, err := m.Execute(ctx, at.CmdQueryGPRS)
	if err != nil {
		return fmt.Errorf("query GPRS: %w", err)
	}
	if !attached(resp.Lines) {
		return ErrNotRegistered
	}

	if _, err := m.Execute(ctx, at.CmdGPRSMode); err != nil {
		return fmt.Errorf("set receive mode: %w", err)
	}

	if apn == "" {
		return ErrNoAPN
	}
	if _, err := m.Execute(ctx, fmt.Sprintf(at.CmdSetAPN, apn)); err != nil {
		return fmt.Errorf("set APN: %w", err)
	}

	if _, err := m.Execute(ctx, at.CmdBringUp, modem.WithTimeout(0)); err != nil {
		return fmt.Errorf("%w: %w", ErrGPRSTimeout, err)
	}

	if _, err := m.Execute(ctx, at.CmdLocalIP, modem.Custom(), modem.WithPattern(at.IPv4)); err != nil {
		return fmt.Errorf("get local IP: %w", err)
	}

	if _, err := m.Execute(ctx, at.CmdQuickSend); err != nil {
		return fmt.Errorf("set send mode: %w", err)
	}
	return nil
}

// attached reports whether +CREG shows home registration and +CGATT an
// attached packet domain.
func attached(lines []string) bool {
	for _, line := range lines {
		switch {
		case info.HasPrefix(line, at.RespCREG) && compact(info.TrimPrefix(line, at.RespCREG)) != "0,1":
			return false
		case info.HasPrefix(line, at.RespCGATT) && compact(info.TrimPrefix(line, at.RespCGATT)) != "1":
			return false
		}
	}
	return true
}

// compact drops all whitespace from a parameter list.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// NetworkStats is the +CIPACK transfer summary of the open connection.
type NetworkStats struct {
	TxLen   int `json:"txlen"`
	AckLen  int `json:"acklen"`
	NackLen int `json:"nacklen"`
}

// NetworkStats queries how much sent data the peer acknowledged.
func (s *SimCom) NetworkStats(ctx context.Context) (NetworkStats, error) {
	resp, err := s.modem.Execute(ctx, at.CmdSocketAck)
	if err != nil {
		return NetworkStats{}, fmt.Errorf("network stats: %w", err)
	}

	for _, line := range resp.Lines {
		if !info.HasPrefix(line, at.RespIPAck) {
			continue
		}
		params := at.ParseParams(info.TrimPrefix(line, at.RespIPAck))
		if len(params) < 3 {
			break
		}
		var stats NetworkStats
		for i, dst := range []*int{&stats.TxLen, &stats.AckLen, &stats.NackLen} {
			n, err := strconv.Atoi(params[i])
			if err != nil {
				return NetworkStats{}, fmt.Errorf("network stats: %q: %w", line, err)
			}
			*dst = n
		}
		return stats, nil
	}
	return NetworkStats{}, fmt.Errorf("network stats: no %s in %q", at.RespIPAck, resp.Lines)
}

// FetchData reads up to FetchSize bytes of buffered inbound data.
func (s *SimCom) FetchData(ctx context.Context) ([]byte, error) {
	resp, err := s.modem.Execute(ctx, fmt.Sprintf(at.CmdSocketRead, FetchSize))
	if err != nil {
		return nil, fmt.Errorf("fetch data: %w", err)
	}

	var data []string
	for _, line := range resp.Lines {
		if info.HasPrefix(line, at.RespRecvData) {
			continue
		}
		data = append(data, line)
	}
	return []byte(strings.Join(data, "\n")), nil
}
