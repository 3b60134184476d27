package gateway

import (
	"strings"
	"testing"
)

func TestDispatchAnswersProtocolErrors(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)

	tests := []struct {
		name     string
		raw      string
		wantType string
		wantIn   string
	}{
		{"malformed json", `{nope`, "error", "invalid message format"},
		{"missing type", `{"payload":{}}`, "error", "invalid message format"},
		{"unknown type", `{"type":"ftp:get","payload":{}}`, "error", `"ftp:get"`},
		{"sftp without requestId", `{"type":"sftp:readdir","payload":{"path":"/tmp"}}`, "sftp_error", "requestId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sock := newTestClient()
			dispatch(g, c, tt.raw)
			fr := nextFrame(t, sock)
			if fr.Type != tt.wantType {
				t.Fatalf("reply type = %s, want %s", fr.Type, tt.wantType)
			}
			if msg := fr.payloadString(t); !strings.Contains(msg, tt.wantIn) {
				t.Fatalf("message %q does not mention %q", msg, tt.wantIn)
			}
		})
	}
}

// Frames that need a live session are answered in their own family's error
// vocabulary when there is none.
func TestSessionPreconditionReplies(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, fr frame)
	}{
		{
			"ssh input",
			`{"type":"ssh:input","payload":{"data":"ls\n"}}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "ssh:error" || fr.payloadString(t) != "no active session" {
					t.Fatalf("got %s %s", fr.Type, fr.Payload)
				}
			},
		},
		{
			"ssh resize",
			`{"type":"ssh:resize","payload":{"cols":80,"rows":24}}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "ssh:error" {
					t.Fatalf("got %s, want ssh:error", fr.Type)
				}
			},
		},
		{
			"sftp op",
			`{"type":"sftp:stat","payload":{"path":"/etc"},"requestId":"r1"}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "sftp:stat:error" {
					t.Fatalf("got %s, want sftp:stat:error", fr.Type)
				}
				if fr.RequestID != "r1" {
					t.Fatalf("requestId = %q, want r1", fr.RequestID)
				}
				if fr.payloadString(t) != "no active session" {
					t.Fatalf("payload = %s", fr.Payload)
				}
			},
		},
		{
			// Upload frames correlate on uploadId and need no requestId.
			"upload chunk",
			`{"type":"sftp:upload:chunk","payload":{"uploadId":"u7","chunkIndex":0,"data":"QUI="}}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "sftp:upload:error" {
					t.Fatalf("got %s, want sftp:upload:error", fr.Type)
				}
				if fr.UploadID != "u7" {
					t.Fatalf("uploadId = %q, want u7", fr.UploadID)
				}
				if msg := fr.payloadMap(t)["message"]; msg != "no active session" {
					t.Fatalf("message = %v", msg)
				}
			},
		},
		{
			"docker command",
			`{"type":"docker:command","payload":{"containerId":"web","command":"start"}}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "docker:command:error" {
					t.Fatalf("got %s, want docker:command:error", fr.Type)
				}
				if msg := fr.payloadMap(t)["message"]; msg != "no active session" {
					t.Fatalf("message = %v", msg)
				}
			},
		},
		{
			"docker status",
			`{"type":"docker:get_status","payload":{}}`,
			func(t *testing.T, fr frame) {
				if fr.Type != "docker:status:error" {
					t.Fatalf("got %s, want docker:status:error", fr.Type)
				}
				if msg := fr.payloadMap(t)["message"]; msg != "no active session" {
					t.Fatalf("message = %v", msg)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, sock := newTestClient()
			dispatch(g, c, tt.raw)
			tt.check(t, nextFrame(t, sock))
		})
	}
}

func TestConnectAttemptsAreRateLimited(t *testing.T) {
	link, _, _ := newTestLink()
	g := testGateway(t, link)
	c, sock := newTestClient()

	// Burn the burst with invalid payloads; each one still spends a token.
	for i := 0; i < 5; i++ {
		dispatch(g, c, `{"type":"ssh:connect","payload":{}}`)
		fr := nextFrame(t, sock)
		if fr.Type != "ssh:error" || !strings.Contains(fr.payloadString(t), "non-negative integer") {
			t.Fatalf("attempt %d: got %s %s", i, fr.Type, fr.Payload)
		}
	}

	dispatch(g, c, `{"type":"ssh:connect","payload":{}}`)
	fr := nextFrame(t, sock)
	if fr.Type != "ssh:error" || !strings.Contains(fr.payloadString(t), "too many connection attempts") {
		t.Fatalf("got %s %s, want rate-limit error", fr.Type, fr.Payload)
	}
}
