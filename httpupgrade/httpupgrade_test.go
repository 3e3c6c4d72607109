package httpupgrade

import (
	"strings"
	"testing"

	"github.com/wsmq-io/wsmq/wsproto"
)

const sampleRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n" +
	"Sec-WebSocket-Protocol: chat, superchat\r\n" +
	"\r\n"

func TestParseRequestNeedsMore(t *testing.T) {
	buf := []byte(sampleRequest)
	for n := 0; n < len(buf)-4; n++ {
		_, _, err := ParseRequest(buf[:n])
		if err != wsproto.ErrNeedMore {
			t.Fatalf("with %d bytes, err = %v, want ErrNeedMore", n, err)
		}
	}
}

func TestParseRequestComplete(t *testing.T) {
	buf := []byte(sampleRequest + "junk-after")
	req, consumed, err := ParseRequest(buf)
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if consumed != len(sampleRequest) {
		t.Fatalf("consumed = %d, want %d", consumed, len(sampleRequest))
	}
	if req.Method != "GET" || req.Path != "/chat" {
		t.Fatalf("got method=%q path=%q", req.Method, req.Path)
	}
	if req.Host != "server.example.com" {
		t.Fatalf("Host = %q", req.Host)
	}
	if req.Key != "dGhlIHNhbXBsZSBub25jZQ==" {
		t.Fatalf("Key = %q", req.Key)
	}
	if len(req.Protocols) != 2 || req.Protocols[0] != "chat" || req.Protocols[1] != "superchat" {
		t.Fatalf("Protocols = %v", req.Protocols)
	}
}

func TestValidateAccepts(t *testing.T) {
	req, _, err := ParseRequest([]byte(sampleRequest))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if err := Validate(req); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsWrongVersion(t *testing.T) {
	bad := strings.Replace(sampleRequest, "Sec-WebSocket-Version: 13", "Sec-WebSocket-Version: 8", 1)
	req, _, err := ParseRequest([]byte(bad))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if err := Validate(req); err == nil {
		t.Fatal("expected Validate to reject Sec-WebSocket-Version: 8")
	}
}

func TestValidateRejectsMissingUpgrade(t *testing.T) {
	bad := strings.Replace(sampleRequest, "Upgrade: websocket\r\n", "", 1)
	req, _, err := ParseRequest([]byte(bad))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if err := Validate(req); err == nil {
		t.Fatal("expected Validate to reject a missing Upgrade header")
	}
}

func TestValidateRejectsBadKeyLength(t *testing.T) {
	bad := strings.Replace(sampleRequest, "Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==", "Sec-WebSocket-Key: dG8=", 1)
	req, _, err := ParseRequest([]byte(bad))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if err := Validate(req); err == nil {
		t.Fatal("expected Validate to reject a key that doesn't decode to 16 bytes")
	}
}

func TestValidateAcceptsCaseInsensitiveConnectionToken(t *testing.T) {
	bad := strings.Replace(sampleRequest, "Connection: Upgrade", "Connection: keep-alive, Upgrade", 1)
	req, _, err := ParseRequest([]byte(bad))
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	if err := Validate(req); err != nil {
		t.Fatalf("Validate should accept a multi-token Connection header: %v", err)
	}
}

func TestWriteAcceptProducesKnownVector(t *testing.T) {
	resp := string(WriteAccept("dGhlIHNhbXBsZSBub25jZQ==", ""))
	if !strings.Contains(resp, "HTTP/1.1 101 Switching Protocols") {
		t.Fatalf("missing status line: %q", resp)
	}
	if !strings.Contains(resp, "Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=") {
		t.Fatalf("wrong accept value: %q", resp)
	}
}

func TestWriteAcceptEchoesProtocol(t *testing.T) {
	resp := string(WriteAccept("dGhlIHNhbXBsZSBub25jZQ==", "chat"))
	if !strings.Contains(resp, "Sec-WebSocket-Protocol: chat\r\n") {
		t.Fatalf("missing echoed protocol: %q", resp)
	}
}

func TestParseClientResponse(t *testing.T) {
	raw := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: s3pPLMBiTxaQ9kYGzzhZRbK+xOo=\r\n" +
		"\r\n"
	status, accept, consumed, err := ParseClientResponse([]byte(raw))
	if err != nil {
		t.Fatalf("ParseClientResponse: %v", err)
	}
	if status != 101 {
		t.Fatalf("status = %d, want 101", status)
	}
	if accept != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Fatalf("accept = %q", accept)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed = %d, want %d", consumed, len(raw))
	}
}

func TestParseClientResponseNeedsMore(t *testing.T) {
	raw := []byte("HTTP/1.1 101 Switching Protocols\r\n\r\n")
	_, _, _, err := ParseClientResponse(raw[:len(raw)-4])
	if err != wsproto.ErrNeedMore {
		t.Fatalf("err = %v, want ErrNeedMore", err)
	}
}

func TestWriteRejectIncludesContentLength(t *testing.T) {
	resp := string(WriteReject(400, "missing headers"))
	if !strings.Contains(resp, "HTTP/1.1 400 Bad Request") {
		t.Fatalf("missing status line: %q", resp)
	}
	if !strings.Contains(resp, "Content-Length: 15") {
		t.Fatalf("wrong content length: %q", resp)
	}
	if !strings.HasSuffix(resp, "missing headers") {
		t.Fatalf("missing body: %q", resp)
	}
}
