package simcom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warthog618/modem/info"

	"i4.energy/across/atmodem/at"
	"i4.energy/across/atmodem/modem"
)

// PollConfig defines configuration for polling operations like waiting for SIM readiness.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// CheckSIM queries the SIM state. A missing SIM emits an error event with
// ErrSIMNotInserted, a SIM that is not ready one with ErrSIMNotReady;
// otherwise ready is emitted.
func (s *SimCom) CheckSIM(ctx context.Context) error {
	status, err := s.simStatus(ctx)
	if err == nil && status != at.SimReady {
		err = ErrSIMNotReady
	}
	if err != nil {
		s.emit(modem.Event{Kind: modem.EventError, Err: err})
		return err
	}
	s.emit(modem.Event{Kind: modem.EventReady})
	return nil
}

// simStatus returns the +CPIN status text, e.g. READY or SIM PIN.
func (s *SimCom) simStatus(ctx context.Context) (string, error) {
	resp, err := s.modem.Execute(ctx, at.CmdSimStatus)
	if errors.Is(err, modem.ErrProtocol) {
		return "", ErrSIMNotInserted
	}
	if err != nil {
		return "", fmt.Errorf("query SIM status: %w", err)
	}
	for _, line := range resp.Lines {
		if info.HasPrefix(line, at.RespSimStatus) {
			return info.TrimPrefix(line, at.RespSimStatus), nil
		}
	}
	return "", ErrSIMNotReady
}

// UnlockSIM enters pin if the SIM asks for one and waits until it is ready.
func (s *SimCom) UnlockSIM(ctx context.Context, pin string) error {
	status, err := s.simStatus(ctx)
	if err != nil {
		return err
	}

	switch {
	case status == at.SimReady:
		return nil

	case strings.HasPrefix(status, at.SimPin):
		if pin == "" {
			return ErrSIMPinRequired
		}
		if _, err := s.modem.Execute(ctx, fmt.Sprintf(at.CmdEnterPIN, pin)); err != nil {
			return fmt.Errorf("enter SIM PIN: %w", err)
		}
		return s.WaitSIMReady(ctx, PollConfig{})

	default:
		return fmt.Errorf("unsupported SIM state: %q", status)
	}
}

// WaitSIMReady polls the SIM card status until it reports ready state.
// This is necessary after entering a SIM PIN, as the SIM card needs time
// to authenticate and become operational. Uses configurable polling interval
// and retry limits to avoid infinite waiting. Emits ready on success.
func (s *SimCom) WaitSIMReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("SIM not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("SIM not ready after %d retries", maxRetries)
			}
			status, err := s.simStatus(ctx)
			if err != nil {
				// Fail fast once the modem is gone
				if errors.Is(err, modem.ErrTransportClosed) {
					return fmt.Errorf("SIM status check failed: %w", err)
				}
				continue
			}
			if status == at.SimReady {
				s.emit(modem.Event{Kind: modem.EventReady})
				return nil
			}
		}
	}
}
