package modem

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warthog618/modem/info"

	"i4.energy/across/atmodem/at"
	"i4.energy/across/atmodem/pdu"
)

// Message storage states accepted by ListMessages.
const (
	StatUnread = iota
	StatRead
	StatUnsent
	StatSent
	StatAll
)

// SendTimeout bounds the wait for +CMGS after a PDU was written.
const SendTimeout = 60 * time.Second

// Reassembler buffers the parts of concatenated messages until all of them
// have arrived. It is safe for concurrent use.
type Reassembler struct {
	mu       sync.Mutex
	partials map[string][]part
}

type part struct {
	msg   *pdu.Message
	index int
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{partials: make(map[string][]part)}
}

// Merge adds msg, stored at index, and returns the complete message once
// every part is present. Messages without a concatenation header are
// returned as they are.
func (r *Reassembler) Merge(msg *pdu.Message, index int) *Message {
	if !msg.Header.Concatenated() || msg.Header.Parts < 1 {
		return &Message{Message: *msg, Indexes: []int{index}}
	}

	key := fmt.Sprintf("%s_%d", msg.Sender, msg.Header.Reference)
	total := msg.Header.Parts

	r.mu.Lock()
	defer r.mu.Unlock()

	parts := append(r.partials[key], part{msg: msg, index: index})
	if len(parts) < total {
		r.partials[key] = parts
		return nil
	}
	delete(r.partials, key)

	out := &Message{Message: *msg}
	var text strings.Builder
	for n := 1; n <= total; n++ {
		for _, p := range parts {
			if p.msg.Header.CurrentPart != n {
				continue
			}
			if n == 1 {
				out.Message = *p.msg
			}
			text.WriteString(p.msg.Text)
			out.Indexes = append(out.Indexes, p.index)
			break
		}
	}
	out.Text = text.String()
	out.Header = nil
	return out
}

// Pending returns the number of incomplete message groups.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partials)
}

// messageIndication handles +CMTI and +CDSI: it selects the storage named in
// the notification, then reads the slot.
func (m *Modem) messageIndication(line, header string, read func(s Submitter, index int)) {
	params := at.ParseParams(info.TrimPrefix(line, header))
	if len(params) < 2 {
		m.logger.Warn("malformed message indication", "line", line)
		return
	}
	mem := params[0]
	index, err := strconv.Atoi(params[1])
	if err != nil {
		m.logger.Warn("malformed message index", "line", line, "error", err)
		return
	}

	m.Submit(fmt.Sprintf(at.CmdSelectMem, mem), Then(func(s Submitter, resp *Response, err error) {
		switch {
		case err != nil:
			m.logger.Warn("select message storage", "memory", mem, "error", err)
		case storageFull(resp):
			m.emit(Event{Kind: EventMemoryFull, Memory: mem})
		}
		read(s, index)
	}))
}

func (m *Modem) retrieveMessage(s Submitter, index int) {
	s.Submit(fmt.Sprintf(at.CmdReadMsg, index), Then(func(_ Submitter, resp *Response, err error) {
		if err != nil {
			m.logger.Warn("read message", "index", index, "error", err)
			return
		}
		raw := lineAfter(resp.Lines, at.RespReadMsg)
		if raw == "" {
			m.logger.Warn("read message: no PDU", "index", index)
			return
		}
		if msg := m.merge(raw, index); msg != nil {
			m.emit(Event{Kind: EventSMSReceived, Message: msg, Index: index})
		}
	}))
}

func (m *Modem) retrieveReport(s Submitter, index int) {
	s.Submit(fmt.Sprintf(at.CmdReadMsg, index), Then(func(_ Submitter, resp *Response, err error) {
		if err != nil {
			m.logger.Warn("read status report", "index", index, "error", err)
			return
		}
		report, err := m.codec.DecodeStatusReport(lineAfter(resp.Lines, at.RespReadMsg))
		if err != nil {
			m.logger.Warn("decode status report", "index", index, "error", err)
			return
		}
		m.emit(Event{Kind: EventDelivery, Report: report, Index: index})
	}))
}

// merge decodes a PDU and feeds it to the reassembler. Undecodable PDUs are dropped.
func (m *Modem) merge(raw string, index int) *Message {
	msg, err := m.codec.Decode(raw)
	if err != nil {
		m.logger.Warn("decode message", "index", index, "error", err)
		return nil
	}
	return m.partials.Merge(msg, index)
}

// ListMessages returns the stored messages in the given state, reassembling
// concatenated ones. Parts whose siblings are missing stay buffered.
func (m *Modem) ListMessages(ctx context.Context, stat int) ([]*Message, error) {
	resp, err := m.Execute(ctx, fmt.Sprintf(at.CmdListMsg, stat))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	var out []*Message
	index := -1
	for _, line := range resp.Lines {
		if info.HasPrefix(line, at.RespListMsg) {
			index = -1
			if params := at.ParseParams(info.TrimPrefix(line, at.RespListMsg)); len(params) > 0 {
				if i, err := strconv.Atoi(params[0]); err == nil {
					index = i
				}
			}
			continue
		}
		if index < 0 {
			continue
		}
		if msg := m.merge(line, index); msg != nil {
			out = append(out, msg)
		}
		index = -1
	}
	return out, nil
}

// DeleteMessage removes the message stored at index.
func (m *Modem) DeleteMessage(ctx context.Context, index int) error {
	if _, err := m.Execute(ctx, fmt.Sprintf(at.CmdDeleteMsg, index)); err != nil {
		return fmt.Errorf("delete message %d: %w", index, err)
	}
	return nil
}

// SendSMS sends text to number in PDU mode and returns the message
// reference of every segment.
//
// This method blocks until each segment is accepted by the network or an
// error occurs. Delivery to the recipient is reported later through the
// delivery event when status reports are enabled.
func (m *Modem) SendSMS(ctx context.Context, number, text string) ([]int, error) {
	pdus, lengths, err := m.codec.Encode(number, text)
	if err != nil {
		return nil, err
	}

	refs := make([]int, 0, len(pdus))
	for i, p := range pdus {
		ref, err := m.sendPDU(ctx, p, lengths[i])
		if err != nil {
			return refs, fmt.Errorf("send segment %d/%d: %w", i+1, len(pdus), err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

type sendResult struct {
	resp *Response
	err  error
}

// sendPDU announces the TPDU length, then writes the PDU once the prompt
// appears. The PDU is queued from the prompt's callback so nothing else can
// reach the modem while it waits for data.
func (m *Modem) sendPDU(ctx context.Context, hexPDU string, length int) (int, error) {
	result := make(chan sendResult, 1)

	m.Submit(fmt.Sprintf(at.CmdSendMsg, length), Special(), WithTerminator(strings.TrimSpace(at.Prompt)),
		Then(func(s Submitter, _ *Response, err error) {
			if err != nil {
				result <- sendResult{err: err}
				return
			}
			s.Submit(hexPDU+at.CtrlZ, WithTimeout(SendTimeout), Then(func(_ Submitter, resp *Response, err error) {
				result <- sendResult{resp: resp, err: err}
			}))
		}))

	var r sendResult
	select {
	case r = <-result:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	if r.err != nil {
		return 0, r.err
	}

	for _, line := range r.resp.Lines {
		if !info.HasPrefix(line, at.RespSendMsg) {
			continue
		}
		if params := at.ParseParams(info.TrimPrefix(line, at.RespSendMsg)); len(params) > 0 {
			if ref, err := strconv.Atoi(params[0]); err == nil {
				return ref, nil
			}
		}
	}
	return 0, fmt.Errorf("no message reference in %q", r.resp.Lines)
}

// storageFull reports whether a +CPMS response shows the selected storage
// at capacity.
func storageFull(resp *Response) bool {
	if resp == nil {
		return false
	}
	line := lineWith(resp.Lines, at.RespStorage)
	params := at.ParseParams(info.TrimPrefix(line, at.RespStorage))
	if len(params) < 2 {
		return false
	}
	used, err1 := strconv.Atoi(params[0])
	total, err2 := strconv.Atoi(params[1])
	return err1 == nil && err2 == nil && total > 0 && used >= total
}

func lineWith(lines []string, prefix string) string {
	for _, l := range lines {
		if info.HasPrefix(l, prefix) {
			return l
		}
	}
	return ""
}

// lineAfter returns the line following the first header line with prefix.
func lineAfter(lines []string, prefix string) string {
	for i, l := range lines {
		if info.HasPrefix(l, prefix) && i+1 < len(lines) {
			return lines[i+1]
		}
	}
	return ""
}
