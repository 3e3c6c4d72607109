package wsproto

import (
	"encoding/binary"
	"unicode/utf8"
)

// CloseCode is a WebSocket close status code, per RFC 6455 §7.4.
type CloseCode uint16

const (
	CloseNormal           CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseUnsupportedData  CloseCode = 1003
	CloseNoStatus         CloseCode = 1005
	CloseAbnormal         CloseCode = 1006
	CloseInvalidPayload   CloseCode = 1007
	ClosePolicyViolation  CloseCode = 1008
	CloseMessageTooBig    CloseCode = 1009
	CloseMissingExtension CloseCode = 1010
	CloseInternalError    CloseCode = 1011
	CloseTLSHandshake     CloseCode = 1015
)

// echoable holds the close codes this implementation will echo verbatim
// when received from a peer, resolving the spec's open question: any other
// code received is replaced with CloseProtocolError before being echoed.
var echoable = map[CloseCode]bool{
	CloseNormal:           true,
	CloseGoingAway:        true,
	CloseProtocolError:    true,
	CloseUnsupportedData:  true,
	CloseInvalidPayload:   true,
	ClosePolicyViolation:  true,
	CloseMessageTooBig:    true,
	CloseMissingExtension: true,
	CloseInternalError:    true,
}

// SanitizeCloseCode maps a received close code to the code that should be
// echoed back: the code itself if it is one of the known, echoable codes,
// otherwise CloseProtocolError.
func SanitizeCloseCode(code uint16) CloseCode {
	c := CloseCode(code)
	if echoable[c] {
		return c
	}
	return CloseProtocolError
}

// BuildClosePayload builds a CLOSE frame payload: a 2-byte big-endian status
// code followed by an optional UTF-8 reason, truncated with "..." if it
// would otherwise overflow the 125-byte control-frame payload limit.
func BuildClosePayload(code CloseCode, reason string) []byte {
	if len(reason) > maxControlPayload-2 {
		reason = reason[:maxControlPayload-5] + "..."
	}
	buf := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(buf, uint16(code))
	copy(buf[2:], reason)
	return buf
}

// ParseClosePayload extracts the status code and reason from a CLOSE frame
// payload. ok is false if the payload is non-empty but shorter than 2 bytes,
// or if a present reason is not valid UTF-8 (RFC 6455 §5.5.1); in both cases
// the caller should treat the close as CloseInvalidPayload.
func ParseClosePayload(payload []byte) (code CloseCode, reason string, ok bool) {
	if len(payload) == 0 {
		return CloseNoStatus, "", true
	}
	if len(payload) < 2 {
		return CloseInvalidPayload, "", false
	}
	code = CloseCode(binary.BigEndian.Uint16(payload[:2]))
	reason = string(payload[2:])
	if reason != "" && !utf8.ValidString(reason) {
		return CloseInvalidPayload, "invalid utf8 in close reason", false
	}
	return code, reason, true
}
