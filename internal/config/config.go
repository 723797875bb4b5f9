package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/thrillee/smppengine/internal/esme"
	"github.com/thrillee/smppengine/pkg/textcodec"
)

// Sequence backends.
const (
	SequenceMemory   = "memory"
	SequenceRedis    = "redis"
	SequencePostgres = "postgres"
)

// Bus backends.
const (
	BusLog   = "log"
	BusRedis = "redis"
)

// Config holds the overall application configuration.
type Config struct {
	LogLevel  string `envconfig:"LOG_LEVEL"  default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	SMPP      SMPPConfig
	Reconnect ReconnectConfig
	Codec     CodecConfig
	Multipart MultipartConfig
	Dispatch  DispatchConfig
	Sequence  SequenceConfig
	Bus       BusConfig
	FakeSMSC  FakeSMSCConfig

	DLRRegex        string        `envconfig:"DLR_REGEX"`
	OutboundBuffer  int           `envconfig:"OUTBOUND_BUFFER"  default:"1000"`
	NotifyRecipient string        `envconfig:"NOTIFY_RECIPIENT" default:"ops"`
	NotifyInterval  time.Duration `envconfig:"NOTIFY_INTERVAL"  default:"5m"`
}

// SMPPConfig describes the carrier account.
type SMPPConfig struct {
	Host             string        `envconfig:"SMPP_HOST"               default:"127.0.0.1"`
	Port             int           `envconfig:"SMPP_PORT"               default:"2775"`
	SystemID         string        `envconfig:"SMPP_SYSTEM_ID"          required:"true"`
	Password         string        `envconfig:"SMPP_PASSWORD"`
	SystemType       string        `envconfig:"SMPP_SYSTEM_TYPE"`
	BindType         string        `envconfig:"SMPP_BIND_TYPE"          default:"trx"`
	AddrTON          uint8         `envconfig:"SMPP_ADDR_TON"           default:"0"`
	AddrNPI          uint8         `envconfig:"SMPP_ADDR_NPI"           default:"0"`
	AddressRange     string        `envconfig:"SMPP_ADDRESS_RANGE"`
	ServiceType      string        `envconfig:"SMPP_SERVICE_TYPE"`
	SourceAddrTON    uint8         `envconfig:"SMPP_SOURCE_ADDR_TON"    default:"0"`
	SourceAddrNPI    uint8         `envconfig:"SMPP_SOURCE_ADDR_NPI"    default:"0"`
	DestAddrTON      uint8         `envconfig:"SMPP_DEST_ADDR_TON"      default:"0"`
	DestAddrNPI      uint8         `envconfig:"SMPP_DEST_ADDR_NPI"      default:"0"`
	EnquireLink      time.Duration `envconfig:"SMPP_ENQUIRE_LINK"       default:"55s"`
	BindTimeout      time.Duration `envconfig:"SMPP_BIND_TIMEOUT"       default:"30s"`
	WriteTimeout     time.Duration `envconfig:"SMPP_WRITE_TIMEOUT"      default:"10s"`
	RequestTimeout   time.Duration `envconfig:"SMPP_REQUEST_TIMEOUT"    default:"0s"`
	SendLongMessages bool          `envconfig:"SMPP_SEND_LONG_MESSAGES" default:"false"`
	SplitMode        string        `envconfig:"SMPP_SPLIT_MODE"         default:"sar"`
}

// Addr returns the SMSC address in host:port form.
func (c SMPPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type ReconnectConfig struct {
	InitialDelay  time.Duration `envconfig:"RECONNECT_INITIAL_DELAY" default:"30s"`
	Factor        float64       `envconfig:"RECONNECT_FACTOR"        default:"1"`
	MaxDelay      time.Duration `envconfig:"RECONNECT_MAX_DELAY"     default:"45s"`
	ResetSequence bool          `envconfig:"RECONNECT_RESET_SEQUENCE" default:"false"`
}

type CodecConfig struct {
	DefaultEncoding string `envconfig:"CODEC_DEFAULT_ENCODING" default:"utf-8"`
	ErrorPolicy     string `envconfig:"CODEC_ERROR_POLICY"     default:"strict"`
	// e.g. "4:latin1,5:shift_jis"
	DataCodingOverrides map[string]string `envconfig:"CODEC_DATA_CODING_OVERRIDES"`
}

type MultipartConfig struct {
	TTL           time.Duration `envconfig:"MULTIPART_TTL"            default:"10m"`
	SweepInterval time.Duration `envconfig:"MULTIPART_SWEEP_INTERVAL" default:"1m"`
}

type DispatchConfig struct {
	MaxAttempts int           `envconfig:"DISPATCH_MAX_ATTEMPTS" default:"3"`
	RetryDelay  time.Duration `envconfig:"DISPATCH_RETRY_DELAY"  default:"5s"`

	BreakerFailures int           `envconfig:"DISPATCH_BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"DISPATCH_BREAKER_TIMEOUT"  default:"30s"`
}

type SequenceConfig struct {
	Backend     string `envconfig:"SEQUENCE_BACKEND"   default:"memory"`
	RedisAddr   string `envconfig:"REDIS_ADDR"         default:"localhost:6379"`
	RedisKey    string `envconfig:"REDIS_SEQUENCE_KEY" default:"smpp_last_sequence_number"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	PgSequence  string `envconfig:"PG_SEQUENCE_NAME"   default:"smpp_sequence_number"`
}

// BusConfig selects where inbound traffic is published and outbound
// traffic is read from. The log bus has no outbound source.
type BusConfig struct {
	Backend     string `envconfig:"BUS_BACKEND"      default:"log"`
	RedisPrefix string `envconfig:"BUS_REDIS_PREFIX" default:"smpp"`
}

// FakeSMSCConfig configures cmd/fake-smsc.
type FakeSMSCConfig struct {
	Addr        string        `envconfig:"FAKE_SMSC_ADDR"         default:"0.0.0.0:2775"`
	SystemID    string        `envconfig:"FAKE_SMSC_SYSTEM_ID"    default:"smsc"`
	Password    string        `envconfig:"FAKE_SMSC_PASSWORD"`
	ReportDelay time.Duration `envconfig:"FAKE_SMSC_REPORT_DELAY" default:"1s"`
	IdleTimeout time.Duration `envconfig:"FAKE_SMSC_IDLE_TIMEOUT" default:"5m"`
	Echo        bool          `envconfig:"FAKE_SMSC_ECHO"         default:"false"`
}

// Load reads configuration from a .env file, if any, and the environment.
func Load() (*Config, error) {
	var cfg Config
	slog.Info("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, skipping", slog.Any("error", err))
	} else {
		slog.Info(".env loaded")
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Info("Configuration loaded successfully",
		slog.String("smsc", cfg.SMPP.Addr()),
		slog.String("sequence_backend", cfg.Sequence.Backend))
	return &cfg, nil
}

// LoadFakeSMSC reads only the fake SMSC settings, so the simulator starts
// without carrier credentials.
func LoadFakeSMSC() (*FakeSMSCConfig, string, error) {
	_ = godotenv.Load()
	var cfg struct {
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
		FakeSMSC FakeSMSCConfig
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, "", err
	}
	return &cfg.FakeSMSC, cfg.LogLevel, nil
}

// Validate checks what envconfig cannot.
func (c *Config) Validate() error {
	switch c.Sequence.Backend {
	case SequenceMemory, SequenceRedis:
	case SequencePostgres:
		if c.Sequence.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s sequence backend", SequencePostgres)
		}
	default:
		return fmt.Errorf("unknown SEQUENCE_BACKEND %q", c.Sequence.Backend)
	}
	switch c.Bus.Backend {
	case BusLog, BusRedis:
	default:
		return fmt.Errorf("unknown BUS_BACKEND %q", c.Bus.Backend)
	}
	if _, err := textcodec.ParsePolicy(c.Codec.ErrorPolicy); err != nil {
		return err
	}
	if _, err := c.ESME(); err != nil {
		return err
	}
	return nil
}

// ESME builds the session configuration.
func (c *Config) ESME() (esme.Config, error) {
	policy, err := textcodec.ParsePolicy(c.Codec.ErrorPolicy)
	if err != nil {
		return esme.Config{}, err
	}
	overrides := make(map[byte]string, len(c.Codec.DataCodingOverrides))
	for k, enc := range c.Codec.DataCodingOverrides {
		dc, err := strconv.ParseUint(k, 10, 8)
		if err != nil {
			return esme.Config{}, fmt.Errorf("invalid data_coding %q in CODEC_DATA_CODING_OVERRIDES: %w", k, err)
		}
		overrides[byte(dc)] = enc
	}

	s := c.SMPP
	ec := esme.Config{
		SystemID:       s.SystemID,
		Password:       s.Password,
		SystemType:     s.SystemType,
		BindType:       s.BindType,
		AddrTON:        s.AddrTON,
		AddrNPI:        s.AddrNPI,
		AddressRange:   s.AddressRange,
		EnquireLink:    s.EnquireLink,
		BindTimeout:    s.BindTimeout,
		WriteTimeout:   s.WriteTimeout,
		RequestTimeout: s.RequestTimeout,
		Submit: esme.SubmitDefaults{
			ServiceType:   s.ServiceType,
			SourceAddrTON: s.SourceAddrTON,
			SourceAddrNPI: s.SourceAddrNPI,
			DestAddrTON:   s.DestAddrTON,
			DestAddrNPI:   s.DestAddrNPI,
		},
		SendLongMessages:    s.SendLongMessages,
		SplitMode:           s.SplitMode,
		DefaultEncoding:     c.Codec.DefaultEncoding,
		ErrorPolicy:         policy,
		DataCodingOverrides: overrides,
	}
	if err := ec.Validate(); err != nil {
		return esme.Config{}, err
	}
	return ec, nil
}

// Backoff builds the reconnect schedule.
func (c *Config) Backoff() esme.Backoff {
	return esme.Backoff{
		InitialDelay: c.Reconnect.InitialDelay,
		Factor:       c.Reconnect.Factor,
		MaxDelay:     c.Reconnect.MaxDelay,
	}
}
