package pdu

import "fmt"

// CommandID identifies the SMPP operation carried by a PDU.
type CommandID uint32

// SMPP v3.4 command ids.
const (
	CommandGenericNack         CommandID = 0x80000000
	CommandBindReceiver        CommandID = 0x00000001
	CommandBindReceiverResp    CommandID = 0x80000001
	CommandBindTransmitter     CommandID = 0x00000002
	CommandBindTransmitterResp CommandID = 0x80000002
	CommandQuerySM             CommandID = 0x00000003
	CommandQuerySMResp         CommandID = 0x80000003
	CommandSubmitSM            CommandID = 0x00000004
	CommandSubmitSMResp        CommandID = 0x80000004
	CommandDeliverSM           CommandID = 0x00000005
	CommandDeliverSMResp       CommandID = 0x80000005
	CommandUnbind              CommandID = 0x00000006
	CommandUnbindResp          CommandID = 0x80000006
	CommandBindTransceiver     CommandID = 0x00000009
	CommandBindTransceiverResp CommandID = 0x80000009
	CommandEnquireLink         CommandID = 0x00000015
	CommandEnquireLinkResp     CommandID = 0x80000015
	CommandSubmitMulti         CommandID = 0x00000021
	CommandSubmitMultiResp     CommandID = 0x80000021
)

const responseBit CommandID = 0x80000000

var commandNames = map[CommandID]string{
	CommandGenericNack:         "generic_nack",
	CommandBindReceiver:        "bind_receiver",
	CommandBindReceiverResp:    "bind_receiver_resp",
	CommandBindTransmitter:     "bind_transmitter",
	CommandBindTransmitterResp: "bind_transmitter_resp",
	CommandQuerySM:             "query_sm",
	CommandQuerySMResp:         "query_sm_resp",
	CommandSubmitSM:            "submit_sm",
	CommandSubmitSMResp:        "submit_sm_resp",
	CommandDeliverSM:           "deliver_sm",
	CommandDeliverSMResp:       "deliver_sm_resp",
	CommandUnbind:              "unbind",
	CommandUnbindResp:          "unbind_resp",
	CommandBindTransceiver:     "bind_transceiver",
	CommandBindTransceiverResp: "bind_transceiver_resp",
	CommandEnquireLink:         "enquire_link",
	CommandEnquireLinkResp:     "enquire_link_resp",
	CommandSubmitMulti:         "submit_multi",
	CommandSubmitMultiResp:     "submit_multi_resp",
}

// String returns the SMPP name of the command, e.g. "submit_sm_resp".
func (c CommandID) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(0x%08X)", uint32(c))
}

// IsResponse reports whether the response bit is set.
func (c CommandID) IsResponse() bool {
	return c&responseBit != 0
}

// Response returns the command id of the matching response.
func (c CommandID) Response() CommandID {
	return c | responseBit
}

// Known reports whether the codec has a body layout for this command.
func (c CommandID) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// IsBind reports whether c is one of the three bind requests.
func (c CommandID) IsBind() bool {
	return c == CommandBindReceiver || c == CommandBindTransmitter || c == CommandBindTransceiver
}

// Status is the command_status header field.
type Status uint32

// SMPP command status codes (subset used by the engine).
const (
	StatusOK             Status = 0x00000000 // ESME_ROK
	StatusInvMsgLen      Status = 0x00000001
	StatusInvCmdLen      Status = 0x00000002
	StatusInvCmdID       Status = 0x00000003
	StatusInvBndSts      Status = 0x00000004 // e.g. submit before bind
	StatusAlyBnd         Status = 0x00000005
	StatusSystemError    Status = 0x00000008
	StatusInvSrcAddr     Status = 0x0000000A
	StatusInvDstAddr     Status = 0x0000000B
	StatusInvMsgID       Status = 0x0000000C
	StatusBindFailed     Status = 0x0000000D
	StatusInvPasswd      Status = 0x0000000E
	StatusInvSysID       Status = 0x0000000F
	StatusMsgQFul        Status = 0x00000014
	StatusSubmitFail     Status = 0x00000045
	StatusInvNumDests    Status = 0x00000033
	StatusInvDestFlag    Status = 0x00000040
	StatusInvDLName      Status = 0x00000034
	StatusThrottled      Status = 0x00000058
	StatusQueryFail      Status = 0x00000067
	StatusInvOptParStrm  Status = 0x000000C0
	StatusOptParNotAllwd Status = 0x000000C1
	StatusDeliveryFail   Status = 0x000000FE
	StatusUnknownErr     Status = 0x000000FF
)

var statusNames = map[Status]string{
	StatusOK:             "ESME_ROK",
	StatusInvMsgLen:      "ESME_RINVMSGLEN",
	StatusInvCmdLen:      "ESME_RINVCMDLEN",
	StatusInvCmdID:       "ESME_RINVCMDID",
	StatusInvBndSts:      "ESME_RINVBNDSTS",
	StatusAlyBnd:         "ESME_RALYBND",
	StatusSystemError:    "ESME_RSYSERR",
	StatusInvSrcAddr:     "ESME_RINVSRCADR",
	StatusInvDstAddr:     "ESME_RINVDSTADR",
	StatusInvMsgID:       "ESME_RINVMSGID",
	StatusBindFailed:     "ESME_RBINDFAIL",
	StatusInvPasswd:      "ESME_RINVPASWD",
	StatusInvSysID:       "ESME_RINVSYSID",
	StatusMsgQFul:        "ESME_RMSGQFUL",
	StatusSubmitFail:     "ESME_RSUBMITFAIL",
	StatusInvNumDests:    "ESME_RINVNUMDESTS",
	StatusInvDestFlag:    "ESME_RINVDESTFLAG",
	StatusInvDLName:      "ESME_RINVDLNAME",
	StatusThrottled:      "ESME_RTHROTTLED",
	StatusQueryFail:      "ESME_RQUERYFAIL",
	StatusInvOptParStrm:  "ESME_RINVOPTPARSTREAM",
	StatusOptParNotAllwd: "ESME_ROPTPARNOTALLWD",
	StatusDeliveryFail:   "ESME_RDELIVERYFAILURE",
	StatusUnknownErr:     "ESME_RUNKNOWNERR",
}

// String returns the ESME_* name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ESME_0x%08X", uint32(s))
}

// OK reports whether s is ESME_ROK.
func (s Status) OK() bool {
	return s == StatusOK
}
