package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// The modem stream is delimited by carriage returns. Line feeds that follow
// a carriage return are dropped from the next token, so both "\r" and "\r\n"
// line endings produce the same tokens. A bare data prompt ("> ") at the
// start of the buffer is returned on its own since the modem never terminates it.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// Skip line feeds left over from a CRLF ending
	start := 0
	for start < len(data) && data[start] == '\n' {
		start++
	}
	if start == len(data) && !atEOF {
		return start, nil, nil
	}
	rest := data[start:]

	// 1. Match data prompt
	if bytes.HasPrefix(rest, []byte(Prompt)) {
		return start + len(Prompt), rest[0:len(Prompt)], nil
	}

	// 2. Match carriage return line ending
	if i := bytes.IndexByte(rest, '\r'); i >= 0 {
		return start + i + 1, bytes.TrimRight(rest[0:i], "\n"), nil
	}

	if atEOF {
		if len(rest) == 0 {
			return len(data), nil, nil
		}
		return len(data), rest, nil
	}
	return start, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies whether a line is an unsolicited notification or
// belongs to the response of the command in flight.
func Classify(line string) ResponseType {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, UrcGPRSData):
		return TypeGPRSData
	case strings.HasPrefix(line, SendFail):
		return TypeSendFail
	case strings.HasPrefix(line, Closed):
		return TypeGPRSClosed
	case strings.HasPrefix(line, UrcNewMsg):
		return TypeNewMessage
	case strings.HasPrefix(line, UrcMessageReport):
		return TypeStatusReport
	case strings.HasPrefix(line, UrcCallerID):
		return TypeCallerID
	case strings.HasPrefix(line, UrcMemoryFull):
		return TypeMemoryFull
	case strings.HasPrefix(line, UrcVendorPrefix):
		return TypeVendor
	default:
		return TypeResponse
	}
}

// Payload returns the text after the first colon of a notification line.
// It serves +IPD, whose header carries a variable length before the colon;
// fixed headers are trimmed with info.TrimPrefix.
func Payload(line string) string {
	_, after, found := strings.Cut(line, ":")
	if !found {
		return ""
	}
	return strings.TrimSpace(after)
}

// ParseParams splits the parameter list of an information response, as
// returned by info.TrimPrefix for `+CMTI: "SM",3`, into its unquoted values.
// Commas inside double quotes do not split.
func ParseParams(list string) []string {
	plain := strings.TrimSpace(list)
	if plain == "" {
		return nil
	}

	var (
		params  []string
		current strings.Builder
		quoted  bool
	)
	for _, r := range plain {
		switch {
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			params = append(params, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(params, strings.TrimSpace(current.String()))
}
