package esme

import (
	"fmt"
	"strings"
	"time"

	"github.com/thrillee/smppengine/internal/pdu"
	"github.com/thrillee/smppengine/pkg/codes"
	"github.com/thrillee/smppengine/pkg/textcodec"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultEnquireLink  = 55 * time.Second
	DefaultBindTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	InterfaceVersion34  = 0x34
)

// SubmitDefaults are the bind-level submit_sm parameters. A SubmitRequest
// overrides any of them per call.
type SubmitDefaults struct {
	ServiceType          string
	SourceAddrTON        byte
	SourceAddrNPI        byte
	DestAddrTON          byte
	DestAddrNPI          byte
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     byte
	DataCoding           byte
	SMDefaultMsgID       byte
}

// Config describes one carrier account.
type Config struct {
	SystemID     string
	Password     string `json:"-"`
	SystemType   string
	BindType     string // codes.BindTransceiver (default), BindTransmitter or BindReceiver
	AddrTON      byte
	AddrNPI      byte
	AddressRange string

	EnquireLink    time.Duration // keep-alive interval once bound
	BindTimeout    time.Duration // drop the connection if not bound in time
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // 0 waits for responses until the connection drops

	Submit SubmitDefaults

	SendLongMessages bool   // use message_payload above 254 octets
	SplitMode        string // codes.SplitSAR, codes.SplitUDH or codes.SplitNone

	// Text codec used for deliver_sm bodies. DataCodingOverrides maps a
	// data_coding value to an encoding name and wins over the built-in table.
	DefaultEncoding     string
	ErrorPolicy         textcodec.Policy
	DataCodingOverrides map[byte]string
}

func (c Config) withDefaults() Config {
	if c.BindType == "" {
		c.BindType = codes.BindTransceiver
	}
	if c.EnquireLink <= 0 {
		c.EnquireLink = DefaultEnquireLink
	}
	if c.BindTimeout <= 0 {
		c.BindTimeout = DefaultBindTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.SplitMode == "" {
		c.SplitMode = codes.SplitSAR
	}
	if c.ErrorPolicy == "" {
		c.ErrorPolicy = textcodec.Strict
	}
	return c
}

// Validate checks the fields a bind cannot do without.
func (c Config) Validate() error {
	if c.SystemID == "" {
		return fmt.Errorf("system_id is required")
	}
	if _, err := bindCommand(c.BindType); err != nil {
		return err
	}
	switch c.SplitMode {
	case "", codes.SplitSAR, codes.SplitUDH, codes.SplitNone:
	default:
		return fmt.Errorf("unsupported split mode %q", c.SplitMode)
	}
	for dc, enc := range c.DataCodingOverrides {
		if !textcodec.Supported(enc) {
			return fmt.Errorf("data_coding %d: %w: %s", dc, textcodec.ErrUnknownEncoding, enc)
		}
	}
	return nil
}

// bindCommand maps a bind type to the request it sends.
func bindCommand(bindType string) (pdu.CommandID, error) {
	switch strings.ToLower(bindType) {
	case "", codes.BindTransceiver, "transceiver":
		return pdu.CommandBindTransceiver, nil
	case codes.BindTransmitter, "transmitter":
		return pdu.CommandBindTransmitter, nil
	case codes.BindReceiver, "receiver":
		return pdu.CommandBindReceiver, nil
	}
	return 0, fmt.Errorf("unsupported bind type: %s", bindType)
}

// dataCodings is the default data_coding table.
var dataCodings = map[byte]string{
	0: textcodec.GSM0338,
	1: "ascii",
	3: "latin1",
	8: textcodec.UCS2,
}

// encodingFor resolves the codec for a data_coding value.
func (c Config) encodingFor(dataCoding byte) string {
	if enc, ok := c.DataCodingOverrides[dataCoding]; ok {
		return enc
	}
	if enc, ok := dataCodings[dataCoding]; ok {
		return enc
	}
	return c.DefaultEncoding
}
