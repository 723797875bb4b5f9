package codes

// Session states
const (
	StateClosed   = "CLOSED"
	StateOpen     = "OPEN"      // transport connected, bind sent
	StateBoundTX  = "BOUND_TX"  // may submit
	StateBoundRX  = "BOUND_RX"  // may receive deliver_sm
	StateBoundTRX = "BOUND_TRX" // both
)

// Client connection status codes
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusBinding      = "binding"
	StatusBound        = "bound"
	StatusWaiting      = "waiting_reconnect"
	StatusStopped      = "stopped"
)

// Delivery report outcomes published on the bus
const (
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
	DeliveryStatusPending   = "pending"
)

// Inbound message types
const (
	MessageTypeSMS  = "sms"
	MessageTypeUSSD = "ussd"
)

// USSD session events
const (
	SessionNew    = "new"
	SessionResume = "resume"
	SessionClose  = "close"
	SessionNone   = ""
)

// Bind types accepted in configuration
const (
	BindTransceiver = "trx"
	BindTransmitter = "tx"
	BindReceiver    = "rx"
)

// Long message split modes
const (
	SplitNone = "none"
	SplitSAR  = "sar"
	SplitUDH  = "udh"
)
