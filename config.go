package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// APN enables GPRS when set
	APN string `yaml:"apn"`
	// DatabasePath is the SQLite file received messages are stored in
	DatabasePath string `yaml:"database_path"`
	// GPSInterval enables GNSS polling when positive
	GPSInterval time.Duration `yaml:"gps_interval"`
	// Trace logs every byte exchanged with the modem
	Trace bool `yaml:"trace"`
}

// Options are the command-line flags. Zero values leave the configuration
// untouched.
type Options struct {
	ConfigFile  string        `short:"c" long:"config" description:"YAML configuration file"`
	SerialPort  string        `long:"serial-port" description:"Serial port to connect to the modem"`
	BaudRate    int           `long:"baud-rate" description:"Baud rate for serial communication"`
	BindAddress string        `long:"bind-address" description:"Bind address for the HTTP server"`
	LogLevel    string        `long:"log-level" description:"Log level (debug, info, warn, error)"`
	SimPIN      string        `long:"sim-pin" description:"SIM card PIN code (if required)"`
	APN         string        `long:"apn" description:"Access point name; enables GPRS"`
	Database    string        `long:"database" description:"Path of the message database"`
	GPSInterval time.Duration `long:"gps-interval" description:"GNSS polling interval; 0 disables polling"`
	Trace       bool          `long:"trace" description:"Log raw modem traffic"`
}

// ParseOptions parses command-line arguments.
func ParseOptions(args []string) (*Options, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

// isHelp reports whether err is the request for usage text.
func isHelp(err error) bool {
	var ferr *flags.Error
	return errors.As(err, &ferr) && ferr.Type == flags.ErrHelp
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.DatabasePath = "data/modem.db"
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is skipped.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if simPIN := os.Getenv("SIM_PIN"); simPIN != "" {
			c.SimPIN = simPIN
		}

		if apn := os.Getenv("APN"); apn != "" {
			c.APN = apn
		}

		if path := os.Getenv("DB_PATH"); path != "" {
			c.DatabasePath = path
		}

		if interval := os.Getenv("GPS_INTERVAL"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil {
				c.GPSInterval = d
			}
		}

		if trace := os.Getenv("TRACE"); trace != "" {
			if t, err := strconv.ParseBool(trace); err == nil {
				c.Trace = t
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(opts *Options) ConfigOption {
	return func(c *Config) error {
		if opts == nil {
			return nil
		}
		if opts.BindAddress != "" {
			c.BindAddress = opts.BindAddress
		}
		if opts.SerialPort != "" {
			c.SerialPort = opts.SerialPort
		}
		if opts.BaudRate > 0 {
			c.BaudRate = opts.BaudRate
		}
		if opts.LogLevel != "" {
			c.LogLevel = opts.LogLevel
		}
		if opts.SimPIN != "" {
			c.SimPIN = opts.SimPIN
		}
		if opts.APN != "" {
			c.APN = opts.APN
		}
		if opts.Database != "" {
			c.DatabasePath = opts.Database
		}
		if opts.GPSInterval > 0 {
			c.GPSInterval = opts.GPSInterval
		}
		if opts.Trace {
			c.Trace = true
		}
		return nil
	}
}
