package auth

import (
	"bytes"
	"errors"
	"testing"
)

func TestVerifyEcho(t *testing.T) {
	tests := []struct {
		name    string
		issued  string
		echoed  string
		wantErr error
	}{
		{name: "matching echo accepted", issued: "tok123", echoed: "tok123", wantErr: nil},
		{name: "mismatch denied", issued: "tok123", echoed: "tok124", wantErr: ErrTokenMismatch},
		{name: "prefix denied", issued: "tok123", echoed: "tok12", wantErr: ErrTokenMismatch},
		{name: "empty against empty accepted", issued: "", echoed: "", wantErr: nil},
		{name: "empty echo denied", issued: "tok123", echoed: "", wantErr: ErrTokenMismatch},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyEcho([]byte(tc.issued), []byte(tc.echoed))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestVerifyEchoOpaqueBytes(t *testing.T) {
	token := []byte{'t', 'o', 'k', ' ', '\n', 0x00, 0xff}
	if err := VerifyEcho(token, bytes.Clone(token)); err != nil {
		t.Fatalf("opaque token echo: %v", err)
	}
	flipped := bytes.Clone(token)
	flipped[len(flipped)-1] ^= 1
	if err := VerifyEcho(token, flipped); !errors.Is(err, ErrTokenMismatch) {
		t.Fatalf("flipped byte: got %v, want ErrTokenMismatch", err)
	}
}

func TestNewTokenIsUsable(t *testing.T) {
	a := NewToken()
	b := NewToken()
	if len(a) == 0 {
		t.Fatal("empty token issued")
	}
	if bytes.Equal(a, b) {
		t.Fatal("two issued tokens collide")
	}
	if err := VerifyEcho(a, bytes.Clone(a)); err != nil {
		t.Fatalf("fresh token does not verify: %v", err)
	}
}
