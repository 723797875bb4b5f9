// Package dlr recognises delivery reports, either from the receipted
// message TLVs or from the text body some carriers push in a plain deliver_sm.
package dlr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/pkg/codes"
)

// DefaultPattern matches the receipt format of SMPP v3.4 appendix B.
// It must define the named groups "id" and "stat".
const DefaultPattern = `id:(?P<id>\S{0,65}) +sub:(?P<sub>...) +dlvrd:(?P<dlvrd>...)` +
	` +submit date:(?P<submit_date>\d*) +done date:(?P<done_date>\d*)` +
	` +stat:(?P<stat>[A-Z]{7}) +err:(?P<err>...) +[Tt]ext:(?P<text>.{0,20}).*`

// Report is a recognised delivery report.
type Report struct {
	ReceiptedMessageID string
	MessageState       string // carrier state, e.g. DELIVRD or DELIVERED
	Status             string // codes.DeliveryStatus*
	Fields             map[string]string
}

// messageStates names the message_state TLV values (SMPP v3.4 5.2.28).
var messageStates = map[byte]string{
	1: "ENROUTE",
	2: "DELIVERED",
	3: "EXPIRED",
	4: "DELETED",
	5: "UNDELIVERABLE",
	6: "ACCEPTED",
	7: "UNKNOWN",
	8: "REJECTED",
}

var statusMap = map[string]string{
	codes.DeliveryStatusDelivered: codes.DeliveryStatusDelivered,
	codes.DeliveryStatusFailed:    codes.DeliveryStatusFailed,
	codes.DeliveryStatusPending:   codes.DeliveryStatusPending,
	"ENROUTE":                     codes.DeliveryStatusPending,
	"DELIVERED":                   codes.DeliveryStatusDelivered,
	"EXPIRED":                     codes.DeliveryStatusFailed,
	"DELETED":                     codes.DeliveryStatusFailed,
	"UNDELIVERABLE":               codes.DeliveryStatusFailed,
	"ACCEPTED":                    codes.DeliveryStatusDelivered,
	"UNKNOWN":                     codes.DeliveryStatusPending,
	"REJECTED":                    codes.DeliveryStatusFailed,
	"DELIVRD":                     codes.DeliveryStatusDelivered,
	"EXPIRD":                      codes.DeliveryStatusFailed,
	"DELETD":                      codes.DeliveryStatusFailed,
	"UNDELIV":                     codes.DeliveryStatusFailed,
	"ACCEPTD":                     codes.DeliveryStatusDelivered,
	"REJECTD":                     codes.DeliveryStatusFailed,
	"0":                           codes.DeliveryStatusDelivered,
}

// StatusFor maps a carrier message state to delivered, failed or pending.
// Unrecognised states are pending.
func StatusFor(state string) string {
	if s, ok := statusMap[state]; ok {
		return s
	}
	if s, ok := statusMap[strings.ToUpper(state)]; ok {
		return s
	}
	return codes.DeliveryStatusPending
}

// StateName returns the name of a message_state value.
func StateName(state byte) string {
	if name, ok := messageStates[state]; ok {
		return name
	}
	return fmt.Sprintf("STATE_%d", state)
}

// Matcher extracts delivery reports.
type Matcher struct {
	re *regexp.Regexp
	id int
	st int
}

// NewMatcher compiles pattern, or DefaultPattern when empty.
func NewMatcher(pattern string) (*Matcher, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile delivery report pattern: %w", err)
	}
	m := &Matcher{re: re, id: re.SubexpIndex("id"), st: re.SubexpIndex("stat")}
	if m.id < 0 || m.st < 0 {
		return nil, fmt.Errorf("delivery report pattern must define the id and stat groups")
	}
	return m, nil
}

// MustMatcher is NewMatcher for patterns known to be valid.
func MustMatcher(pattern string) *Matcher {
	m, err := NewMatcher(pattern)
	if err != nil {
		panic(err)
	}
	return m
}

// MatchText applies the pattern to a decoded short message body.
func (m *Matcher) MatchText(text string) (Report, bool) {
	sub := m.re.FindStringSubmatch(text)
	if sub == nil {
		return Report{}, false
	}
	fields := make(map[string]string)
	for i, name := range m.re.SubexpNames() {
		if name != "" && i < len(sub) {
			fields[name] = sub[i]
		}
	}
	return Report{
		ReceiptedMessageID: sub[m.id],
		MessageState:       sub[m.st],
		Status:             StatusFor(sub[m.st]),
		Fields:             fields,
	}, true
}

// MatchOptions recognises the receipted_message_id and message_state TLVs.
// Both must be present.
func (m *Matcher) MatchOptions(opts pdu.Options) (Report, bool) {
	id, ok := opts.CString(pdu.TagReceiptedMessageID)
	if !ok {
		return Report{}, false
	}
	state, ok := opts.Uint8(pdu.TagMessageState)
	if !ok {
		return Report{}, false
	}
	return m.MatchState(id, state), true
}

// MatchState builds a report from a message id and message_state value, as
// carried by the TLVs or by query_sm_resp.
func (m *Matcher) MatchState(messageID string, state byte) Report {
	name := StateName(state)
	return Report{
		ReceiptedMessageID: messageID,
		MessageState:       name,
		Status:             StatusFor(name),
	}
}
