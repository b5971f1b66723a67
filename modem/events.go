package modem

import (
	"time"

	"i4.energy/across/atmodem/pdu"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventIdle
	EventData
	EventGPRSData
	EventSendFail
	EventGPRSClose
	EventRing
	EventSMSReceived
	EventDelivery
	EventMemoryFull
	EventGPS
	EventError
	EventReady
	EventGPRSEnabled
)

var eventNames = map[EventKind]string{
	EventOpen:        "open",
	EventClose:       "close",
	EventIdle:        "idle",
	EventData:        "data",
	EventGPRSData:    "gprs_data",
	EventSendFail:    "send_fail",
	EventGPRSClose:   "gprs_close",
	EventRing:        "ring",
	EventSMSReceived: "sms_received",
	EventDelivery:    "delivery",
	EventMemoryFull:  "memory_full",
	EventGPS:         "gps",
	EventError:       "error",
	EventReady:       "ready",
	EventGPRSEnabled: "gprs_enabled",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Message is a received SMS, possibly reassembled from several parts.
type Message struct {
	pdu.Message
	// Indexes lists the storage slots of every part, in part order.
	Indexes []int `json:"indexes"`
}

// GPSFix is one +CGNSINF reading.
type GPSFix struct {
	Running bool      `json:"running"`
	Fixed   bool      `json:"fixed"`
	Time    time.Time `json:"time"`
	Lat     float64   `json:"lat"`
	Lng     float64   `json:"lng"`
	Alt     float64   `json:"alt"`
	Speed   float64   `json:"speed"`
	Heading float64   `json:"heading"`
}

// Event is a tagged notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     EventKind
	Line     string
	Data     []byte
	CallerID string
	Memory   string
	Index    int
	Message  *Message
	Report   *pdu.StatusReport
	Fix      *GPSFix
	Err      error
}

// Handler receives events on the loop goroutine, in the order lines arrived.
// Handlers must not block; anything slow belongs on another goroutine.
type Handler interface {
	HandleEvent(e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e Event)

func (f HandlerFunc) HandleEvent(e Event) { f(e) }
