package simcom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/warthog618/modem/info"

	"i4.energy/across/atmodem/at"
	"i4.energy/across/atmodem/modem"
)

// DefaultGPSInterval is used by StartGPSInfo when no interval is given.
const DefaultGPSInterval = 5 * time.Second

const gpsTimeLayout = "20060102150405.000"

type gpsPoller struct {
	stop     chan struct{}
	inFlight atomic.Bool
}

// EnableGPS powers the GNSS receiver on.
func (s *SimCom) EnableGPS(ctx context.Context) error {
	if _, err := s.modem.Execute(ctx, fmt.Sprintf(at.CmdGPSPower, 1)); err != nil {
		return fmt.Errorf("enable GPS: %w", err)
	}
	return nil
}

// DisableGPS powers the GNSS receiver off.
func (s *SimCom) DisableGPS(ctx context.Context) error {
	if _, err := s.modem.Execute(ctx, fmt.Sprintf(at.CmdGPSPower, 0)); err != nil {
		return fmt.Errorf("disable GPS: %w", err)
	}
	return nil
}

// StartGPSInfo polls the receiver now and then every interval, emitting a
// gps event per reading. A running poller is replaced. Ticks are skipped
// while the connection is sending or the previous poll is still queued.
func (s *SimCom) StartGPSInfo(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultGPSInterval
	}
	s.StopGPSInfo()

	p := &gpsPoller{stop: make(chan struct{})}
	s.mu.Lock()
	s.gps = p
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		s.pollGPS(p)
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				s.pollGPS(p)
			}
		}
	}()
}

// StopGPSInfo stops polling. It is a no-op when no poller runs.
func (s *SimCom) StopGPSInfo() {
	s.mu.Lock()
	p := s.gps
	s.gps = nil
	s.mu.Unlock()

	if p != nil {
		close(p.stop)
	}
}

func (s *SimCom) pollGPS(p *gpsPoller) {
	if c := s.connection(); c != nil && c.Sending() {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return
	}

	s.modem.Submit(at.CmdGPSInfo, modem.Then(func(_ modem.Submitter, resp *modem.Response, err error) {
		p.inFlight.Store(false)
		if err != nil {
			s.logger.Warn("poll GPS", "error", err)
			return
		}
		if len(resp.Lines) == 0 {
			return
		}
		fix, err := ParseGPSFix(resp.Lines[len(resp.Lines)-1])
		if err != nil {
			s.logger.Warn("parse GPS fix", "error", err)
			return
		}
		s.emit(modem.Event{Kind: modem.EventGPS, Fix: fix})
	}))
}

// ParseGPSFix parses a +CGNSINF line:
//
//	+CGNSINF: <run>,<fix>,<utc>,<lat>,<lng>,<alt>,<speed>,<course>,...
//
// Empty numeric fields read as zero.
func ParseGPSFix(line string) (*modem.GPSFix, error) {
	if !info.HasPrefix(line, at.RespGNSInfo) {
		return nil, fmt.Errorf("not a GNSS line: %q", line)
	}
	fields := strings.Split(compact(info.TrimPrefix(line, at.RespGNSInfo)), ",")
	if len(fields) < 8 {
		return nil, fmt.Errorf("short GNSS line: %q", line)
	}

	fix := &modem.GPSFix{
		Running: fields[0] == "1",
		Fixed:   fields[1] == "1",
	}
	if fields[2] != "" {
		t, err := time.Parse(gpsTimeLayout, fields[2])
		if err != nil {
			return nil, fmt.Errorf("GNSS time %q: %w", fields[2], err)
		}
		fix.Time = t
	}

	for i, dst := range []*float64{&fix.Lat, &fix.Lng, &fix.Alt, &fix.Speed, &fix.Heading} {
		v := fields[3+i]
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("GNSS field %d %q: %w", 3+i, v, err)
		}
		*dst = f
	}
	return fix, nil
}
