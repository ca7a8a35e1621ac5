package driver

import (
	"strings"
	"testing"
)

func TestParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr bool
	}{
		{
			name:  "contract pairing payload",
			input: `{"type":"pairing_payload","payload":"1@2,ABC=="}`,
			want:  Event{Type: EventPairingPayload, Payload: "1@2,ABC=="},
		},
		{
			name:  "qr alias with data",
			input: `{"event":"qr","data":"2@xyz"}`,
			want:  Event{Type: EventPairingPayload, Payload: "2@xyz"},
		},
		{
			name:  "qr alias with qr field",
			input: `{"type":"qr","qr":"3@abc"}`,
			want:  Event{Type: EventPairingPayload, Payload: "3@abc"},
		},
		{
			name:  "ready",
			input: `{"type":"ready"}`,
			want:  Event{Type: EventReady},
		},
		{
			name:  "authenticated",
			input: `{"type":"authenticated"}`,
			want:  Event{Type: EventAuthenticated},
		},
		{
			name:  "disconnected with reason",
			input: `{"type":"disconnected","reason":"logged_out"}`,
			want:  Event{Type: EventDisconnected, Reason: "logged_out"},
		},
		{
			name:  "auth failure message field",
			input: `{"type":"auth_failure","message":"restore failed"}`,
			want:  Event{Type: EventAuthFailure, Reason: "restore failed"},
		},
		{
			name:  "init error error field",
			input: `{"type":"init_error","error":"browser not found"}`,
			want:  Event{Type: EventInitError, Reason: "browser not found"},
		},
		{name: "malformed", input: `{"type":`, wantErr: true},
		{name: "unknown type", input: `{"type":"message","data":"hi"}`, wantErr: true},
		{name: "pairing without payload", input: `{"type":"qr"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEvent([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEventString_HidesPayload(t *testing.T) {
	ev := Event{Type: EventPairingPayload, Payload: "secret-code"}
	if strings.Contains(ev.String(), "secret-code") {
		t.Errorf("String() leaked payload: %s", ev.String())
	}

	ev = Event{Type: EventDisconnected, Reason: "logged_out"}
	if ev.String() != "disconnected(logged_out)" {
		t.Errorf("String() = %q", ev.String())
	}
}
