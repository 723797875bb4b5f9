// Package bus holds the messages exchanged between SMPP sessions and the
// rest of the gateway, and the Publisher they are handed to.
package bus

import (
	"time"

	"github.com/thrillee/smppengine/internal/pdu"
)

// InboundMessage is a mobile-originated SMS or USSD message, reassembled
// and decoded.
type InboundMessage struct {
	MessageID    string    `json:"message_id,omitempty"` // generated on receipt
	From         string    `json:"from,omitempty"`
	To           string    `json:"to,omitempty"`
	Content      string    `json:"content,omitempty"`
	Type         string    `json:"type,omitempty"`          // codes.MessageTypeSMS or codes.MessageTypeUSSD
	SessionEvent string    `json:"session_event,omitempty"` // codes.Session*, USSD only
	SessionInfo  string    `json:"session_info,omitempty"`  // four hex digits, USSD only
	DataCoding   byte      `json:"data_coding,omitempty"`
	Parts        int       `json:"parts,omitempty"` // 1 unless reassembled from a concatenated message
	ReceivedAt   time.Time `json:"received_at"`
}

// SubmitAck reports the outcome of a submit_sm, submit_multi or query_sm.
// Err is set when no response was received.
type SubmitAck struct {
	Sequence     uint32                `json:"sequence,omitempty"`
	CommandID    pdu.CommandID         `json:"command_id,omitempty"`
	Status       pdu.Status            `json:"status"`
	MessageID    string                `json:"message_id,omitempty"`
	Unsuccessful []pdu.UnsuccessfulSME `json:"unsuccessful,omitempty"`
	Err          error                 `json:"-"`
}

// OK reports whether the carrier accepted the request.
func (a SubmitAck) OK() bool {
	return a.Err == nil && a.Status.OK()
}

// DeliveryReport is a delivery receipt for a previously submitted message.
type DeliveryReport struct {
	MessageID    string            `json:"message_id,omitempty"` // carrier message id from the submit_sm_resp
	MessageState string            `json:"message_state,omitempty"`
	Status       string            `json:"status,omitempty"` // codes.DeliveryStatus*
	Fields       map[string]string `json:"fields,omitempty"`
	ReceivedAt   time.Time         `json:"received_at"`
}

// OutboundMessage is a mobile-terminated message waiting to be submitted.
type OutboundMessage struct {
	ID           string `json:"id,omitempty"`
	From         string `json:"from,omitempty"`
	To           string `json:"to,omitempty"`
	Content      string `json:"content,omitempty"`
	Encoding     string `json:"encoding,omitempty"`      // empty selects gsm0338 when possible, else ucs2
	Type         string `json:"type,omitempty"`          // codes.MessageTypeSMS or codes.MessageTypeUSSD
	SessionEvent string `json:"session_event,omitempty"` // USSD: codes.SessionClose ends the session
	SessionInfo  string `json:"session_info,omitempty"`  // USSD: echoed from the inbound message
	RequestDLR   bool   `json:"request_dlr,omitempty"`
}
