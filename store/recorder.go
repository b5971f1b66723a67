package store

import (
	"context"

	"i4.energy/across/atmodem/modem"
)

// Recorder persists sms_received and delivery events. HandleEvent only
// queues; Run does the writes so the modem loop never waits on the disk.
type Recorder struct {
	store  *Store
	events chan modem.Event
}

// NewRecorder returns a Recorder holding up to backlog unsaved events.
func NewRecorder(s *Store, backlog int) *Recorder {
	if backlog <= 0 {
		backlog = 64
	}
	return &Recorder{store: s, events: make(chan modem.Event, backlog)}
}

// HandleEvent queues events worth keeping. A full queue drops the event.
func (r *Recorder) HandleEvent(e modem.Event) {
	switch {
	case e.Kind == modem.EventSMSReceived && e.Message != nil:
	case e.Kind == modem.EventDelivery && e.Report != nil:
	default:
		return
	}

	select {
	case r.events <- e:
	default:
		r.store.logger.Warn("Dropping event, recorder backlog full", "event", e.Kind)
	}
}

// Run saves queued events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-r.events:
			r.save(ctx, e)
		}
	}
}

func (r *Recorder) save(ctx context.Context, e modem.Event) {
	switch e.Kind {
	case modem.EventSMSReceived:
		row, err := r.store.SaveMessage(ctx, e.Message)
		if err != nil {
			r.store.logger.Error("Failed to store message", "error", err, "sender", e.Message.Sender)
			return
		}
		r.store.logger.Info("Stored message", "id", row.ID, "sender", row.Sender)
	case modem.EventDelivery:
		if _, err := r.store.SaveReport(ctx, e.Report); err != nil {
			r.store.logger.Error("Failed to store report", "error", err, "reference", e.Report.Reference)
		}
	}
}
