package modem_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/atmodem/modem"
)

const waitTimeout = 3 * time.Second

// eventRecorder collects events so tests can wait for a given kind.
type eventRecorder struct {
	mu     sync.Mutex
	events []modem.Event
	seen   map[modem.EventKind]int
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{seen: make(map[modem.EventKind]int)}
}

func (r *eventRecorder) HandleEvent(e modem.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// next returns the first event of kind not returned before.
func (r *eventRecorder) next(t *testing.T, kind modem.EventKind) modem.Event {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
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
			r.mu.Unlock()
			return e
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event within %v", kind, waitTimeout)
	return modem.Event{}
}

func (r *eventRecorder) count(kind modem.EventKind) int {
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

// startModem creates a modem over a TestTransport and runs its Loop until
// the test ends.
func startModem(t *testing.T, configure ...func(*modem.ConfigBuilder)) (*modem.Modem, *modem.TestTransport, *eventRecorder) {
	t.Helper()
	ctrl := gomock.NewController(t)

	transport := modem.NewTestTransport()
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	rec := newEventRecorder()
	builder := modem.NewConfigBuilder().WithDialer(dialer).WithHandler(rec)
	for _, fn := range configure {
		fn(builder)
	}
	config, err := builder.Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}

	m, err := modem.New(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to create modem: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Loop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		transport.Close()
	})
	return m, transport, rec
}

// expectWrite waits for the next write and checks it.
func expectWrite(t *testing.T, transport *modem.TestTransport, want string) {
	t.Helper()
	got, ok := transport.NextWrite(waitTimeout)
	if !ok {
		t.Fatalf("expected write %q, got none", want)
	}
	if got != want {
		t.Fatalf("expected write %q, got %q", want, got)
	}
}

// exchange is one scripted command and the modem's reply to it.
type exchange struct {
	command string
	reply   string
}

// ScriptBuilder answers commands in order, standing in for the device.
type ScriptBuilder struct {
	exchanges []exchange
}

func NewScript() *ScriptBuilder {
	return &ScriptBuilder{}
}

func (b *ScriptBuilder) Expect(command, reply string) *ScriptBuilder {
	b.exchanges = append(b.exchanges, exchange{command: command + "\r", reply: reply})
	return b
}

func (b *ScriptBuilder) AT() *ScriptBuilder {
	return b.Expect("AT", "AT\r\r\nOK\r\n")
}

// Init answers the setup sequence Open runs.
func (b *ScriptBuilder) Init() *ScriptBuilder {
	return b.AT().
		Expect("ATE0", "ATE0\r\r\nOK\r\n").
		Expect("AT+CMGF=0", "OK\r\n")
}

// Run plays the script on its own goroutine. The returned channel is closed
// once every exchange has been answered.
func (b *ScriptBuilder) Run(t *testing.T, transport *modem.TestTransport) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ex := range b.exchanges {
			got, ok := transport.NextWrite(waitTimeout)
			if !ok {
				t.Errorf("expected write %q, got none", ex.command)
				return
			}
			if got != ex.command {
				t.Errorf("expected write %q, got %q", ex.command, got)
				return
			}
			transport.SendData(ex.reply)
		}
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("script did not finish")
	}
}

func wait(t *testing.T, f *modem.Future) (*modem.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return f.Wait(ctx)
}
