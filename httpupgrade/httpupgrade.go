// Package httpupgrade implements the server side of the RFC 6455 §4.2
// opening handshake: parsing a raw HTTP/1.1 Upgrade request line-by-line off
// a non-blocking socket buffer, validating it, and writing the 101 Switching
// Protocols response (or an HTTP error response) by hand. net/http's server
// is not used here since the I/O thread owns raw, non-blocking file
// descriptors and never hands a connection to net.Listener.
package httpupgrade

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/wsmq-io/wsmq/omap"
	"github.com/wsmq-io/wsmq/wsproto"
)

// maxRequestLine bounds how much a peer can make the server buffer before a
// terminating CRLFCRLF arrives, closing off a trivial memory-exhaustion
// vector from a client that never finishes its handshake.
const maxRequestLine = 8192

// Request is a parsed WebSocket opening handshake.
type Request struct {
	Method  string
	Path    string
	Version string // HTTP version, e.g. "HTTP/1.1"
	Headers *omap.Map

	Host      string
	Upgrade   string
	Connection string
	Key       string
	WSVersion string
	Protocols []string
}

// ParseRequest scans buf for a complete request line plus header block
// terminated by "\r\n\r\n". If the terminator has not yet arrived it returns
// wsproto.ErrNeedMore, mirroring wsproto.Decode's streaming contract.
func ParseRequest(buf []byte) (*Request, int, error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > maxRequestLine {
			return nil, 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: request headers exceed size limit")
		}
		return nil, 0, wsproto.ErrNeedMore
	}
	consumed := idx + 4

	lines := strings.Split(string(buf[:idx]), "\r\n")
	if len(lines) == 0 {
		return nil, 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: empty request")
	}

	req := &Request{Headers: omap.New()}
	requestLine := strings.Fields(lines[0])
	if len(requestLine) != 3 {
		return nil, 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: malformed request line")
	}
	req.Method, req.Path, req.Version = requestLine[0], requestLine[1], requestLine[2]
	if req.Method != "GET" {
		return nil, 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: method must be GET")
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: malformed header line")
		}
		req.Headers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	req.Host = req.Headers.GetFold("Host")
	req.Upgrade = req.Headers.GetFold("Upgrade")
	req.Connection = req.Headers.GetFold("Connection")
	req.Key = req.Headers.GetFold("Sec-WebSocket-Key")
	req.WSVersion = req.Headers.GetFold("Sec-WebSocket-Version")
	if proto := req.Headers.GetFold("Sec-WebSocket-Protocol"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			req.Protocols = append(req.Protocols, strings.TrimSpace(p))
		}
	}

	return req, consumed, nil
}

// Validate checks that r satisfies the RFC 6455 §4.2.1 requirements this
// server enforces: a Host header, a case-insensitive "websocket" Upgrade
// value, a Connection header whose comma-separated tokens include "upgrade",
// protocol version 13, and a Sec-WebSocket-Key that decodes to 16 bytes.
func Validate(r *Request) error {
	if r.Host == "" {
		return wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: missing Host header")
	}
	if !strings.EqualFold(r.Upgrade, "websocket") {
		return wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: Upgrade header must be \"websocket\"")
	}
	if !connectionHasUpgradeToken(r.Connection) {
		return wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: Connection header missing \"Upgrade\" token")
	}
	if r.WSVersion != "13" {
		return wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: unsupported Sec-WebSocket-Version "+r.WSVersion)
	}
	if !wsproto.ValidClientKey(r.Key) {
		return wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: invalid Sec-WebSocket-Key")
	}
	return nil
}

func connectionHasUpgradeToken(header string) bool {
	for _, tok := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// WriteAccept builds the 101 Switching Protocols response for the given
// client key. If protocol is non-empty it is echoed back as the negotiated
// subprotocol.
func WriteAccept(key string, protocol string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: ")
	b.WriteString(wsproto.AcceptKey(key))
	b.WriteString("\r\n")
	if protocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: ")
		b.WriteString(protocol)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// WriteReject builds a plain HTTP error response for a handshake this
// server refuses to upgrade.
func WriteReject(status int, reason string) []byte {
	body := reason
	if body == "" {
		body = statusText(status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, statusText(status))
	b.WriteString("Connection: close\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Content-Type: text/plain\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// ParseClientResponse scans buf for a complete HTTP status line plus header
// block terminated by "\r\n\r\n", as seen from the client side of the
// opening handshake. It returns the status code, the Sec-WebSocket-Accept
// header value, and the number of bytes consumed. Like ParseRequest, an
// incomplete buffer yields wsproto.ErrNeedMore.
func ParseClientResponse(buf []byte) (status int, acceptKey string, consumed int, err error) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > maxRequestLine {
			return 0, "", 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: response headers exceed size limit")
		}
		return 0, "", 0, wsproto.ErrNeedMore
	}
	consumed = idx + 4

	lines := strings.Split(string(buf[:idx]), "\r\n")
	if len(lines) == 0 {
		return 0, "", 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: empty response")
	}

	statusLine := strings.Fields(lines[0])
	if len(statusLine) < 2 {
		return 0, "", 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: malformed status line")
	}
	status, convErr := strconv.Atoi(statusLine[1])
	if convErr != nil {
		return 0, "", 0, wsproto.WrapError(wsproto.ErrCodeProtocol, "httpupgrade: malformed status code", convErr)
	}

	headers := omap.New()
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, "", 0, wsproto.NewError(wsproto.ErrCodeProtocol, "httpupgrade: malformed header line")
		}
		headers.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	return status, headers.GetFold("Sec-WebSocket-Accept"), consumed, nil
}

func statusText(status int) string {
	switch status {
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 426:
		return "Upgrade Required"
	case 500:
		return "Internal Server Error"
	default:
		return strconv.Itoa(status)
	}
}
