package simcom_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/simcom"
)

const waitTimeout = 3 * time.Second

type recorder struct {
	mu     sync.Mutex
	events []modem.Event
	seen   map[modem.EventKind]int
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[modem.EventKind]int)}
}

func (r *recorder) HandleEvent(e modem.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) next(t *testing.T, kind modem.EventKind) modem.Event {
	t.Helper()
	var found modem.Event
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		skip := r.seen[kind]
		for _, e := range r.events {
			if e.Kind != kind {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			r.seen[kind]++
			found = e
			return true
		}
		return false
	}, waitTimeout, 5*time.Millisecond, "no %s event", kind)
	return found
}

func (r *recorder) count(kind modem.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// start runs a SimCom over a TestTransport until the test ends.
func start(t *testing.T) (*simcom.SimCom, *modem.TestTransport, *recorder) {
	t.Helper()
	ctrl := gomock.NewController(t)

	transport := modem.NewTestTransport()
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	config, err := modem.NewConfigBuilder().WithDialer(dialer).Build()
	require.NoError(t, err)
	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)

	rec := newRecorder()
	sim := simcom.New(m, nil)
	sim.Handle(rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Loop(ctx)
	}()
	t.Cleanup(func() {
		sim.StopGPSInfo()
		cancel()
		<-done
		transport.Close()
	})
	return sim, transport, rec
}

func expectWrite(t *testing.T, transport *modem.TestTransport, want string) {
	t.Helper()
	got, ok := transport.NextWrite(waitTimeout)
	require.True(t, ok, "expected write %q, got none", want)
	require.Equal(t, want, got)
}

func expectNoWrite(t *testing.T, transport *modem.TestTransport) {
	t.Helper()
	got, ok := transport.NextWrite(100 * time.Millisecond)
	require.False(t, ok, "unexpected write %q", got)
}

type exchange struct {
	command string
	reply   string
}

// play answers each command in order on its own goroutine.
func play(t *testing.T, transport *modem.TestTransport, exchanges ...exchange) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ex := range exchanges {
			got, ok := transport.NextWrite(waitTimeout)
			if !ok {
				t.Errorf("expected write %q, got none", ex.command)
				return
			}
			if got != ex.command+"\r" {
				t.Errorf("expected write %q, got %q", ex.command+"\r", got)
				return
			}
			transport.SendData(ex.reply)
		}
	}()
	return done
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}
