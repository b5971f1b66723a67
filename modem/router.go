package modem

import (
	"github.com/warthog618/modem/info"

	"i4.energy/across/atmodem/at"
)

// route turns unsolicited lines into events. It reports whether the line was
// consumed; unconsumed lines belong to the active job, if any.
func (m *Modem) route(line string, active bool) bool {
	switch at.Classify(line) {
	case at.TypeGPRSData:
		m.emit(Event{Kind: EventGPRSData, Data: []byte(at.Payload(line))})
	case at.TypeSendFail:
		m.emit(Event{Kind: EventSendFail})
	case at.TypeGPRSClosed:
		m.emit(Event{Kind: EventGPRSClose})
	case at.TypeNewMessage:
		m.messageIndication(line, at.UrcNewMsg, m.retrieveMessage)
	case at.TypeStatusReport:
		m.messageIndication(line, at.UrcMessageReport, m.retrieveReport)
	case at.TypeCallerID:
		m.emit(Event{Kind: EventRing, CallerID: firstParam(line, at.UrcCallerID)})
	case at.TypeMemoryFull:
		m.emit(Event{Kind: EventMemoryFull, Memory: firstParam(line, at.UrcMemoryFull)})
	case at.TypeVendor:
		// Other vendor notifications are noise inside a response.
		return active
	default:
		return false
	}
	return true
}

func firstParam(line, header string) string {
	if params := at.ParseParams(info.TrimPrefix(line, header)); len(params) > 0 {
		return params[0]
	}
	return ""
}
