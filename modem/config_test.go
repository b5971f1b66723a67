package modem_test

import (
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/pdu"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().Build()

		if err != modem.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.NewMockDialer(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		if config.ATTimeout != 5*time.Second {
			t.Errorf("expected 5s AT timeout, got %v", config.ATTimeout)
		}
		if config.InitTimeout != 30*time.Second {
			t.Errorf("expected 30s init timeout, got %v", config.InitTimeout)
		}
		if _, ok := config.Codec.(pdu.Codec); !ok {
			t.Errorf("expected pdu.Codec, got %T", config.Codec)
		}
		if config.Logger == nil {
			t.Error("expected a default logger")
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		config, err := modem.NewConfigBuilder().
			WithDialer(modem.NewMockDialer(ctrl)).
			WithATTimeout(time.Second).
			WithInitTimeout(2 * time.Second).
			WithHandler(modem.HandlerFunc(func(modem.Event) {})).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		if config.ATTimeout != time.Second {
			t.Errorf("expected 1s AT timeout, got %v", config.ATTimeout)
		}
		if config.InitTimeout != 2*time.Second {
			t.Errorf("expected 2s init timeout, got %v", config.InitTimeout)
		}
		if len(config.Handlers) != 1 {
			t.Errorf("expected 1 handler, got %d", len(config.Handlers))
		}
	})
}
