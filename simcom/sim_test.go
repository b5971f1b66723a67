package simcom_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/simcom"
)

func TestCheckSIM(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"Ready", "+CPIN: READY\r\n\r\nOK\r\n", nil},
		{"Not inserted", "+CME ERROR: 10\r\n", simcom.ErrSIMNotInserted},
		{"Locked", "+CPIN: SIM PUK\r\n\r\nOK\r\n", simcom.ErrSIMNotReady},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, transport, rec := start(t)

			done := play(t, transport, exchange{"AT+CPIN?", tt.reply})
			err := sim.CheckSIM(ctxTimeout(t))
			<-done

			if tt.wantErr == nil {
				require.NoError(t, err)
				rec.next(t, modem.EventReady)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, rec.next(t, modem.EventError).Err, tt.wantErr)
			assert.Zero(t, rec.count(modem.EventReady))
		})
	}
}

func TestUnlockSIM(t *testing.T) {
	t.Run("Already ready", func(t *testing.T) {
		sim, transport, _ := start(t)

		done := play(t, transport, exchange{"AT+CPIN?", "+CPIN: READY\r\n\r\nOK\r\n"})
		require.NoError(t, sim.UnlockSIM(ctxTimeout(t), "1234"))
		<-done
		expectNoWrite(t, transport)
	})

	t.Run("Enters PIN", func(t *testing.T) {
		sim, transport, rec := start(t)

		done := play(t, transport,
			exchange{"AT+CPIN?", "+CPIN: SIM PIN\r\n\r\nOK\r\n"},
			exchange{`AT+CPIN="1234"`, "OK\r\n"},
			exchange{"AT+CPIN?", "+CPIN: READY\r\n\r\nOK\r\n"},
		)
		require.NoError(t, sim.UnlockSIM(ctxTimeout(t), "1234"))
		<-done
		rec.next(t, modem.EventReady)
	})

	t.Run("PIN required", func(t *testing.T) {
		sim, transport, _ := start(t)

		done := play(t, transport, exchange{"AT+CPIN?", "+CPIN: SIM PIN\r\n\r\nOK\r\n"})
		assert.ErrorIs(t, sim.UnlockSIM(ctxTimeout(t), ""), simcom.ErrSIMPinRequired)
		<-done
	})

	t.Run("Wrong PIN", func(t *testing.T) {
		sim, transport, _ := start(t)

		done := play(t, transport,
			exchange{"AT+CPIN?", "+CPIN: SIM PIN\r\n\r\nOK\r\n"},
			exchange{`AT+CPIN="0000"`, "+CME ERROR: 16\r\n"},
		)
		assert.ErrorIs(t, sim.UnlockSIM(ctxTimeout(t), "0000"), modem.ErrProtocol)
		<-done
	})

	t.Run("Unsupported state", func(t *testing.T) {
		sim, transport, _ := start(t)

		done := play(t, transport, exchange{"AT+CPIN?", "+CPIN: PH-SIM PIN\r\n\r\nOK\r\n"})
		assert.ErrorContains(t, sim.UnlockSIM(ctxTimeout(t), "1234"), "unsupported SIM state")
		<-done
	})
}

func TestWaitSIMReady(t *testing.T) {
	t.Run("Polls until ready", func(t *testing.T) {
		sim, transport, rec := start(t)

		done := play(t, transport,
			exchange{"AT+CPIN?", "+CPIN: NOT READY\r\n\r\nOK\r\n"},
			exchange{"AT+CPIN?", "+CPIN: READY\r\n\r\nOK\r\n"},
		)
		err := sim.WaitSIMReady(ctxTimeout(t), simcom.PollConfig{Interval: 10 * time.Millisecond})
		<-done

		require.NoError(t, err)
		rec.next(t, modem.EventReady)
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		sim, transport, rec := start(t)

		done := play(t, transport, exchange{"AT+CPIN?", "+CPIN: NOT READY\r\n\r\nOK\r\n"})
		err := sim.WaitSIMReady(ctxTimeout(t), simcom.PollConfig{
			Interval:   10 * time.Millisecond,
			MaxRetries: 1,
		})
		<-done

		assert.ErrorContains(t, err, "after 1 retries")
		assert.Zero(t, rec.count(modem.EventReady))
	})
}
