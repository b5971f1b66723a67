package at

import "regexp"

const (
	// Terminal Control
	CR     = "\r"
	Prompt = "> "
	CtrlZ  = "\x1a"

	// Response Codes
	OK          = "OK"
	ERROR       = "ERROR"
	ShutOK      = "SHUT OK"
	CloseOK     = "CLOSE OK"
	SendOK      = "SEND OK"
	Connect     = "CONNECT"
	ConnectFail = "CONNECT FAIL"
	SendFail    = "SEND FAIL"
	Closed      = "CLOSED"

	// URCs (Unsolicited Result Codes)
	UrcGPRSData      = "+IPD"
	UrcNewMsg        = "+CMTI"
	UrcMessageReport = "+CDSI"
	UrcCallerID      = "+CLIP"
	UrcMemoryFull    = "^SMMEMFULL"
	UrcVendorPrefix  = "^"

	// Information response headers
	RespReadMsg   = "+CMGR"
	RespListMsg   = "+CMGL"
	RespSendMsg   = "+CMGS"
	RespStorage   = "+CPMS"
	RespSimStatus = "+CPIN"
	RespCREG      = "+CREG"
	RespCGATT     = "+CGATT"
	RespGNSInfo   = "+CGNSINF"
	RespIPAck     = "+CIPACK"
	RespRecvData  = "+CIPRXGET"

	SimReady = "READY"
	SimPin   = "SIM PIN"
)

// Commands
const (
	CmdAt          = "AT"
	CmdEchoOff     = "ATE0"
	CmdSimStatus   = "AT+CPIN?"
	CmdEnterPIN    = `AT+CPIN="%s"`
	CmdPDUMode     = "AT+CMGF=0"
	CmdSelectMem   = `AT+CPMS="%s"`
	CmdReadMsg     = "AT+CMGR=%d"
	CmdListMsg     = "AT+CMGL=%d"
	CmdDeleteMsg   = "AT+CMGD=%d"
	CmdSendMsg     = "AT+CMGS=%d"
	CmdShutGPRS    = "AT+CIPSHUT"
	CmdQueryGPRS   = "AT+CREG?;+CGATT?"
	CmdGPRSMode    = "AT+CIPRXGET=0;+CIPHEAD=1"
	CmdSetAPN      = `AT+CSTT="%s"`
	CmdBringUp     = "AT+CIICR"
	CmdLocalIP     = "AT+CIFSR"
	CmdQuickSend   = "AT+CIPQSEND=0"
	CmdOpenSocket  = `AT+CIPSTART="%s","%s","%d"`
	CmdCloseSocket = "AT+CIPCLOSE"
	CmdSocketSend  = "AT+CIPSEND=%d"
	CmdSocketAck   = "AT+CIPACK"
	CmdSocketRead  = "AT+CIPRXGET=2,%d"
	CmdGPSPower    = "AT+CGNSPWR=%d"
	CmdGPSInfo     = "AT+CGNSINF"
)

// IPv4 matches a dotted-quad IPv4 literal anywhere in a line.
var IPv4 = regexp.MustCompile(`\b(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`)

// ErrorPattern matches error terminators case-insensitively (ERROR, +CME ERROR: 10, ...).
var ErrorPattern = regexp.MustCompile(`(?i)error`)

type ResponseType int

const (
	TypeResponse     ResponseType = iota // Owned by the in-flight command
	TypeGPRSData                         // +IPD inbound payload
	TypeSendFail                         // SEND FAIL
	TypeGPRSClosed                       // CLOSED
	TypeNewMessage                       // +CMTI
	TypeStatusReport                     // +CDSI
	TypeCallerID                         // +CLIP
	TypeMemoryFull                       // ^SMMEMFULL
	TypeVendor                           // Any other ^ notification
)

func (t ResponseType) String() string {
	switch t {
	case TypeResponse:
		return "response"
	case TypeGPRSData:
		return "gprs-data"
	case TypeSendFail:
		return "send-fail"
	case TypeGPRSClosed:
		return "gprs-closed"
	case TypeNewMessage:
		return "new-message"
	case TypeStatusReport:
		return "status-report"
	case TypeCallerID:
		return "caller-id"
	case TypeMemoryFull:
		return "memory-full"
	case TypeVendor:
		return "vendor"
	default:
		return "unknown"
	}
}
