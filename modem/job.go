package modem

import (
	"context"
	"regexp"
	"sync"
	"time"

	"i4.energy/across/atmodem/at"
)

// SpecialGrace is how long a special job waits for its data-entry prompt
// before it resolves with an empty response.
const SpecialGrace = 2 * time.Second

// Response is the outcome of a completed job.
type Response struct {
	// Command is the text written to the modem, without the trailing CR.
	Command string
	// Lines holds every accumulated line except the terminator.
	Lines []string
	// Terminator is the line that completed the job.
	Terminator string
}

// Callback observes the settlement of a job on the loop goroutine. The
// Submitter it receives enqueues follow-up jobs that run before anything
// submitted after the settling job.
//
// Callbacks must not block.
type Callback func(s Submitter, resp *Response, err error)

// Submitter enqueues commands.
type Submitter interface {
	Submit(command string, opts ...Option) *Future
}

// Job is a queued command together with its completion rule.
type Job struct {
	id        int
	command   string
	timeout   time.Duration
	literal   string
	match     func(line string) bool
	pattern   *regexp.Regexp
	custom    bool
	special   bool
	callbacks []Callback
	future    *Future
}

// Option customises a submitted job.
type Option func(*Job)

// WithTimeout overrides the default timeout. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(j *Job) { j.timeout = d }
}

// WithTerminator completes the job when the terminator equals literal.
func WithTerminator(literal string) Option {
	return func(j *Job) { j.literal = literal }
}

// WithPredicate completes the job when fn reports true for the terminator.
func WithPredicate(fn func(line string) bool) Option {
	return func(j *Job) { j.match = fn }
}

// WithPattern completes the job when re matches the terminator.
func WithPattern(re *regexp.Regexp) Option {
	return func(j *Job) { j.pattern = re }
}

// Custom exempts the job from the OK and error terminators, so only its own
// literal, predicate or pattern completes it.
func Custom() Option {
	return func(j *Job) { j.custom = true }
}

// Special marks a command answered by a data-entry prompt. The job resolves
// SpecialGrace after dispatch with no lines and a ">" terminator, unless it
// completes earlier by the usual rules.
func Special() Option {
	return func(j *Job) { j.special = true }
}

// Then registers fn to run when the job settles.
func Then(fn Callback) Option {
	return func(j *Job) { j.callbacks = append(j.callbacks, fn) }
}

// completes reports whether term ends the job.
func (j *Job) completes(term string) bool {
	if j.custom {
		return j.matches(term)
	}
	return term == at.OK || at.ErrorPattern.MatchString(term) || j.matches(term)
}

func (j *Job) matches(term string) bool {
	switch {
	case j.literal != "" && term == j.literal:
		return true
	case j.match != nil && j.match(term):
		return true
	case j.pattern != nil && j.pattern.MatchString(term):
		return true
	}
	return false
}

// failed reports whether a completed job's terminator is an error result.
func (j *Job) failed(term string) bool {
	if j.custom || (j.literal != "" && term == j.literal) {
		return false
	}
	return at.ErrorPattern.MatchString(term)
}

// Future is the pending result of a submitted job.
type Future struct {
	done chan struct{}
	once sync.Once
	resp *Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) settle(resp *Response, err error) {
	f.once.Do(func() {
		f.resp, f.err = resp, err
		close(f.done)
	})
}

// Done is closed once the job settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled outcome. It must only be called after Done is closed.
func (f *Future) Result() (*Response, error) {
	return f.resp, f.err
}

// Wait blocks until the job settles or ctx ends. A cancelled wait does not
// remove the job from the queue.
func (f *Future) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
