package pdu

import "fmt"

// Body is the command-specific mandatory parameter block of a PDU.
// Implementations live in this package only.
type Body interface {
	marshal(w *writer)
	unmarshal(r *reader)
}

// Bind is the body shared by bind_transmitter, bind_receiver and bind_transceiver.
type Bind struct {
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string
}

func (b *Bind) marshal(w *writer) {
	w.cstring("system_id", b.SystemID, maxSystemID)
	w.cstring("password", b.Password, maxPassword)
	w.cstring("system_type", b.SystemType, maxSystemType)
	w.byte1(b.InterfaceVersion)
	w.byte1(b.AddrTON)
	w.byte1(b.AddrNPI)
	w.cstring("address_range", b.AddressRange, maxAddressRange)
}

func (b *Bind) unmarshal(r *reader) {
	b.SystemID = r.cstring("system_id")
	b.Password = r.cstring("password")
	b.SystemType = r.cstring("system_type")
	b.InterfaceVersion = r.byte1("interface_version")
	b.AddrTON = r.byte1("addr_ton")
	b.AddrNPI = r.byte1("addr_npi")
	b.AddressRange = r.cstring("address_range")
}

// BindResp is the body of every bind_*_resp.
type BindResp struct {
	SystemID string
}

func (b *BindResp) marshal(w *writer)   { w.cstring("system_id", b.SystemID, maxSystemID) }
func (b *BindResp) unmarshal(r *reader) { b.SystemID = r.cstring("system_id") }

// Message is the mandatory block shared by submit_sm and deliver_sm.
type Message struct {
	ServiceType          string
	SourceAddrTON        byte
	SourceAddrNPI        byte
	SourceAddr           string
	DestAddrTON          byte
	DestAddrNPI          byte
	DestinationAddr      string
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         []byte
}

func (m *Message) marshal(w *writer) {
	w.cstring("service_type", m.ServiceType, maxServiceType)
	w.byte1(m.SourceAddrTON)
	w.byte1(m.SourceAddrNPI)
	w.cstring("source_addr", m.SourceAddr, maxAddr)
	w.byte1(m.DestAddrTON)
	w.byte1(m.DestAddrNPI)
	w.cstring("destination_addr", m.DestinationAddr, maxAddr)
	w.byte1(m.ESMClass)
	w.byte1(m.ProtocolID)
	w.byte1(m.PriorityFlag)
	w.cstring("schedule_delivery_time", m.ScheduleDeliveryTime, maxTime)
	w.cstring("validity_period", m.ValidityPeriod, maxTime)
	w.byte1(m.RegisteredDelivery)
	w.byte1(m.ReplaceIfPresent)
	w.byte1(m.DataCoding)
	w.byte1(m.SMDefaultMsgID)
	w.shortMessage(m.ShortMessage)
}

func (m *Message) unmarshal(r *reader) {
	m.ServiceType = r.cstring("service_type")
	m.SourceAddrTON = r.byte1("source_addr_ton")
	m.SourceAddrNPI = r.byte1("source_addr_npi")
	m.SourceAddr = r.cstring("source_addr")
	m.DestAddrTON = r.byte1("dest_addr_ton")
	m.DestAddrNPI = r.byte1("dest_addr_npi")
	m.DestinationAddr = r.cstring("destination_addr")
	m.ESMClass = r.byte1("esm_class")
	m.ProtocolID = r.byte1("protocol_id")
	m.PriorityFlag = r.byte1("priority_flag")
	m.ScheduleDeliveryTime = r.cstring("schedule_delivery_time")
	m.ValidityPeriod = r.cstring("validity_period")
	m.RegisteredDelivery = r.byte1("registered_delivery")
	m.ReplaceIfPresent = r.byte1("replace_if_present_flag")
	m.DataCoding = r.byte1("data_coding")
	m.SMDefaultMsgID = r.byte1("sm_default_msg_id")
	m.ShortMessage = r.shortMessage()
}

// SubmitSM is the body of submit_sm.
type SubmitSM struct {
	Message
}

// DeliverSM is the body of deliver_sm. Its layout is identical to submit_sm.
type DeliverSM struct {
	Message
}

// MessageIDResp is the body of submit_sm_resp and deliver_sm_resp.
type MessageIDResp struct {
	MessageID string
}

func (b *MessageIDResp) marshal(w *writer)   { w.cstring("message_id", b.MessageID, maxMessageID) }
func (b *MessageIDResp) unmarshal(r *reader) { b.MessageID = r.cstring("message_id") }

// DestFlag selects the destination kind inside submit_multi.
type DestFlag byte

const (
	DestSMEAddress       DestFlag = 1
	DestDistributionList DestFlag = 2
)

// Destination is one entry of the submit_multi dest_address list.
type Destination struct {
	Flag             DestFlag
	TON              byte
	NPI              byte
	Address          string
	DistributionList string
}

// SubmitMulti is the body of submit_multi.
type SubmitMulti struct {
	ServiceType          string
	SourceAddrTON        byte
	SourceAddrNPI        byte
	SourceAddr           string
	Destinations         []Destination
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         []byte
}

func (m *SubmitMulti) marshal(w *writer) {
	w.cstring("service_type", m.ServiceType, maxServiceType)
	w.byte1(m.SourceAddrTON)
	w.byte1(m.SourceAddrNPI)
	w.cstring("source_addr", m.SourceAddr, maxAddr)
	if w.err == nil && (len(m.Destinations) == 0 || len(m.Destinations) > 254) {
		w.err = fmt.Errorf("submit_multi needs 1..254 destinations, got %d", len(m.Destinations))
		return
	}
	w.byte1(byte(len(m.Destinations)))
	for _, d := range m.Destinations {
		w.byte1(byte(d.Flag))
		switch d.Flag {
		case DestSMEAddress:
			w.byte1(d.TON)
			w.byte1(d.NPI)
			w.cstring("destination_addr", d.Address, maxAddr)
		case DestDistributionList:
			w.cstring("dl_name", d.DistributionList, maxDLName)
		default:
			if w.err == nil {
				w.err = fmt.Errorf("invalid dest_flag %d", d.Flag)
			}
		}
	}
	w.byte1(m.ESMClass)
	w.byte1(m.ProtocolID)
	w.byte1(m.PriorityFlag)
	w.cstring("schedule_delivery_time", m.ScheduleDeliveryTime, maxTime)
	w.cstring("validity_period", m.ValidityPeriod, maxTime)
	w.byte1(m.RegisteredDelivery)
	w.byte1(m.ReplaceIfPresent)
	w.byte1(m.DataCoding)
	w.byte1(m.SMDefaultMsgID)
	w.shortMessage(m.ShortMessage)
}

func (m *SubmitMulti) unmarshal(r *reader) {
	m.ServiceType = r.cstring("service_type")
	m.SourceAddrTON = r.byte1("source_addr_ton")
	m.SourceAddrNPI = r.byte1("source_addr_npi")
	m.SourceAddr = r.cstring("source_addr")
	n := int(r.byte1("number_of_dests"))
	for i := 0; i < n && r.err == nil; i++ {
		d := Destination{Flag: DestFlag(r.byte1("dest_flag"))}
		switch d.Flag {
		case DestSMEAddress:
			d.TON = r.byte1("dest_addr_ton")
			d.NPI = r.byte1("dest_addr_npi")
			d.Address = r.cstring("destination_addr")
		case DestDistributionList:
			d.DistributionList = r.cstring("dl_name")
		default:
			r.fail("invalid dest_flag %d", d.Flag)
		}
		m.Destinations = append(m.Destinations, d)
	}
	m.ESMClass = r.byte1("esm_class")
	m.ProtocolID = r.byte1("protocol_id")
	m.PriorityFlag = r.byte1("priority_flag")
	m.ScheduleDeliveryTime = r.cstring("schedule_delivery_time")
	m.ValidityPeriod = r.cstring("validity_period")
	m.RegisteredDelivery = r.byte1("registered_delivery")
	m.ReplaceIfPresent = r.byte1("replace_if_present_flag")
	m.DataCoding = r.byte1("data_coding")
	m.SMDefaultMsgID = r.byte1("sm_default_msg_id")
	m.ShortMessage = r.shortMessage()
}

// UnsuccessfulSME reports one destination rejected by submit_multi.
type UnsuccessfulSME struct {
	TON     byte
	NPI     byte
	Address string
	Status  Status
}

// SubmitMultiResp is the body of submit_multi_resp.
type SubmitMultiResp struct {
	MessageID    string
	Unsuccessful []UnsuccessfulSME
}

func (b *SubmitMultiResp) marshal(w *writer) {
	w.cstring("message_id", b.MessageID, maxMessageID)
	if w.err == nil && len(b.Unsuccessful) > 255 {
		w.err = fmt.Errorf("too many unsuccess_sme entries: %d", len(b.Unsuccessful))
		return
	}
	w.byte1(byte(len(b.Unsuccessful)))
	for _, u := range b.Unsuccessful {
		w.byte1(u.TON)
		w.byte1(u.NPI)
		w.cstring("destination_addr", u.Address, maxAddr)
		w.uint32(uint32(u.Status))
	}
}

func (b *SubmitMultiResp) unmarshal(r *reader) {
	b.MessageID = r.cstring("message_id")
	n := int(r.byte1("no_unsuccess"))
	for i := 0; i < n && r.err == nil; i++ {
		u := UnsuccessfulSME{
			TON: r.byte1("dest_addr_ton"),
			NPI: r.byte1("dest_addr_npi"),
		}
		u.Address = r.cstring("destination_addr")
		u.Status = Status(r.uint32("error_status_code"))
		b.Unsuccessful = append(b.Unsuccessful, u)
	}
}

// QuerySM is the body of query_sm.
type QuerySM struct {
	MessageID     string
	SourceAddrTON byte
	SourceAddrNPI byte
	SourceAddr    string
}

func (q *QuerySM) marshal(w *writer) {
	w.cstring("message_id", q.MessageID, maxMessageID)
	w.byte1(q.SourceAddrTON)
	w.byte1(q.SourceAddrNPI)
	w.cstring("source_addr", q.SourceAddr, maxAddr)
}

func (q *QuerySM) unmarshal(r *reader) {
	q.MessageID = r.cstring("message_id")
	q.SourceAddrTON = r.byte1("source_addr_ton")
	q.SourceAddrNPI = r.byte1("source_addr_npi")
	q.SourceAddr = r.cstring("source_addr")
}

// QuerySMResp is the body of query_sm_resp.
type QuerySMResp struct {
	MessageID    string
	FinalDate    string
	MessageState byte
	ErrorCode    byte
}

func (q *QuerySMResp) marshal(w *writer) {
	w.cstring("message_id", q.MessageID, maxMessageID)
	w.cstring("final_date", q.FinalDate, maxTime)
	w.byte1(q.MessageState)
	w.byte1(q.ErrorCode)
}

func (q *QuerySMResp) unmarshal(r *reader) {
	q.MessageID = r.cstring("message_id")
	q.FinalDate = r.cstring("final_date")
	q.MessageState = r.byte1("message_state")
	q.ErrorCode = r.byte1("error_code")
}

// Empty is the body of header-only commands: enquire_link, unbind,
// generic_nack and their responses.
type Empty struct{}

func (*Empty) marshal(*writer)   {}
func (*Empty) unmarshal(*reader) {}

// Raw keeps the undecoded body of a command the codec does not model.
type Raw struct {
	Data []byte
}

func (b *Raw) marshal(w *writer) { w.buf.Write(b.Data) }

func (b *Raw) unmarshal(r *reader) {
	b.Data = r.octets("body", r.remaining())
}

// newBody returns the zero body for a command id.
func newBody(id CommandID) Body {
	switch id {
	case CommandBindReceiver, CommandBindTransmitter, CommandBindTransceiver:
		return &Bind{}
	case CommandBindReceiverResp, CommandBindTransmitterResp, CommandBindTransceiverResp:
		return &BindResp{}
	case CommandSubmitSM:
		return &SubmitSM{}
	case CommandDeliverSM:
		return &DeliverSM{}
	case CommandSubmitSMResp, CommandDeliverSMResp:
		return &MessageIDResp{}
	case CommandSubmitMulti:
		return &SubmitMulti{}
	case CommandSubmitMultiResp:
		return &SubmitMultiResp{}
	case CommandQuerySM:
		return &QuerySM{}
	case CommandQuerySMResp:
		return &QuerySMResp{}
	case CommandEnquireLink, CommandEnquireLinkResp, CommandUnbind, CommandUnbindResp, CommandGenericNack:
		return &Empty{}
	default:
		return &Raw{}
	}
}

// acceptsOptions reports whether TLVs may follow the mandatory block.
func acceptsOptions(id CommandID) bool {
	switch id {
	case CommandEnquireLink, CommandEnquireLinkResp, CommandUnbind, CommandUnbindResp,
		CommandGenericNack, CommandQuerySM, CommandQuerySMResp, CommandSubmitSMResp,
		CommandSubmitMultiResp, CommandDeliverSMResp:
		return false
	}
	return id.Known()
}
