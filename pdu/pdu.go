// Package pdu adapts github.com/warthog618/sms to the message shapes the
// modem layer consumes: a decoded message with an optional concatenation
// header, a decoded status report, and hex-encoded outbound PDUs.
package pdu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// Information element identifiers carrying concatenation info.
const (
	IEConcat8Bit  byte = 0x00
	IEConcat16Bit byte = 0x08
)

var (
	// ErrNotDeliver is returned by Decode when the PDU is not an SMS-DELIVER.
	ErrNotDeliver = errors.New("pdu: not an SMS-DELIVER")

	// ErrNotStatusReport is returned by DecodeStatusReport when the PDU is not
	// an SMS-STATUS-REPORT.
	ErrNotStatusReport = errors.New("pdu: not an SMS-STATUS-REPORT")
)

// Header is the user data header summary of a received message.
type Header struct {
	// Type is the identifier of the first relevant information element.
	// Concatenated messages carry IEConcat8Bit or IEConcat16Bit.
	Type        byte
	Reference   int
	Parts       int
	CurrentPart int
}

// Concatenated reports whether the header describes a concatenated message part.
func (h *Header) Concatenated() bool {
	return h != nil && (h.Type == IEConcat8Bit || h.Type == IEConcat16Bit)
}

// Message is a decoded SMS-DELIVER.
type Message struct {
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Header *Header   `json:"-"`
}

// StatusReport is a decoded SMS-STATUS-REPORT.
type StatusReport struct {
	Recipient     string    `json:"recipient"`
	Reference     int       `json:"reference"`
	Status        int       `json:"status"`
	ServiceCentre time.Time `json:"service_centre_time"`
	Discharge     time.Time `json:"discharge_time"`
}

// Delivered reports whether the status indicates the message reached the recipient.
func (r *StatusReport) Delivered() bool {
	return r.Status < 0x20
}

// Codec decodes and encodes PDU mode hex strings.
type Codec struct{}

// Decode parses a hex PDU (including the SMSC prefix) as returned by AT+CMGR.
func (Codec) Decode(s string) (*Message, error) {
	tp, err := unmarshal(s)
	if err != nil {
		return nil, err
	}
	if tp.SmsType() != tpdu.SmsDeliver {
		return nil, ErrNotDeliver
	}

	ud, err := sms.Decode([]*tpdu.TPDU{tp})
	if err != nil {
		return nil, fmt.Errorf("pdu: decode user data: %w", err)
	}

	return &Message{
		Sender: tp.OA.Number(),
		Text:   strings.Trim(string(ud), "\x00"),
		Time:   tp.SCTS.Time,
		Header: header(tp),
	}, nil
}

// DecodeStatusReport parses a hex PDU holding a status report.
func (Codec) DecodeStatusReport(s string) (*StatusReport, error) {
	tp, err := unmarshal(s)
	if err != nil {
		return nil, err
	}
	if tp.SmsType() != tpdu.SmsStatusReport {
		return nil, ErrNotStatusReport
	}
	return &StatusReport{
		Recipient:     tp.RA.Number(),
		Reference:     int(tp.MR),
		Status:        int(tp.ST),
		ServiceCentre: tp.SCTS.Time,
		Discharge:     tp.DT.Time,
	}, nil
}

// Encode builds the SMS-SUBMIT PDUs for text, split into segments as needed.
// Each returned string is upper-case hex with an empty SMSC prefix; lengths
// holds the matching TPDU octet counts to announce with AT+CMGS.
func (Codec) Encode(number, text string) (pdus []string, lengths []int, err error) {
	tpdus, err := sms.Encode([]byte(text), sms.AsSubmit, sms.To(number))
	if err != nil {
		return nil, nil, fmt.Errorf("pdu: encode: %w", err)
	}
	for i, t := range tpdus {
		b, err := t.MarshalBinary()
		if err != nil {
			return nil, nil, fmt.Errorf("pdu: marshal segment %d: %w", i+1, err)
		}
		full := append([]byte{0x00}, b...)
		pdus = append(pdus, strings.ToUpper(hex.EncodeToString(full)))
		lengths = append(lengths, len(b))
	}
	return pdus, lengths, nil
}

func unmarshal(s string) (*tpdu.TPDU, error) {
	p, err := pdumode.UnmarshalHexString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("pdu: unmarshal: %w", err)
	}
	tp, err := sms.Unmarshal(p.TPDU, sms.AsMT)
	if err != nil {
		return nil, fmt.Errorf("pdu: unmarshal tpdu: %w", err)
	}
	return tp, nil
}

func header(tp *tpdu.TPDU) *Header {
	if len(tp.UDH) == 0 {
		return nil
	}
	if segments, seqno, mref, ok := tp.ConcatInfo(); ok {
		h := &Header{Type: IEConcat8Bit, Reference: mref, Parts: segments, CurrentPart: seqno}
		for _, ie := range tp.UDH {
			if ie.ID == IEConcat16Bit {
				h.Type = IEConcat16Bit
				break
			}
		}
		return h
	}
	return &Header{Type: tp.UDH[0].ID}
}
