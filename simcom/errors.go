package simcom

import "errors"

var (
	// ErrNotRegistered is returned by StartGPRS when the modem is not
	// registered on the home network or not attached to GPRS.
	ErrNotRegistered = errors.New("GPRS not ready")

	// ErrNoAPN is returned by StartGPRS when no access point name is given.
	ErrNoAPN = errors.New("APN is not set")

	// ErrGPRSTimeout is returned when the modem fails to bring up the
	// wireless connection.
	ErrGPRSTimeout = errors.New("GPRS timeout")

	ErrConnectFailed    = errors.New("connect failed")
	ErrSendFailed       = errors.New("sending error")
	ErrCloseFailed      = errors.New("connection close error")
	ErrConnectionClosed = errors.New("connection is closed")

	ErrSIMNotInserted = errors.New("SIM NOT INSERTED")
	ErrSIMNotReady    = errors.New("SIM NOT READY")

	// ErrSIMPinRequired is returned by UnlockSIM when the SIM asks for a PIN
	// and none is configured.
	ErrSIMPinRequired = errors.New("SIM PIN required but not provided")
)
