package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/atmodem/pdu"
)

// Codec decodes received PDUs and encodes outbound ones.
// pdu.Codec is used when none is configured.
type Codec interface {
	Decode(s string) (*pdu.Message, error)
	DecodeStatusReport(s string) (*pdu.StatusReport, error)
	Encode(number, text string) (pdus []string, lengths []int, err error)
}

type Config struct {
	Dialer      Dialer
	Logger      *slog.Logger
	Codec       Codec
	Handlers    []Handler
	ATTimeout   time.Duration
	InitTimeout time.Duration
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.Codec == nil {
		c.Codec = pdu.Codec{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns an empty builder.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport is opened.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

// WithLogger sets the logger; nil discards.
func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

// WithCodec overrides the SMS PDU codec.
func (b *ConfigBuilder) WithCodec(c Codec) *ConfigBuilder {
	b.config.Codec = c
	return b
}

// WithHandler registers an event handler before the loop starts.
func (b *ConfigBuilder) WithHandler(h Handler) *ConfigBuilder {
	b.config.Handlers = append(b.config.Handlers, h)
	return b
}

// WithATTimeout sets the timeout applied to commands submitted without one.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

// WithInitTimeout bounds the setup sequence run by Open.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

// Build validates the config and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
