package feed

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"
)

func TestCursor_EncodeDecodeRoundtrip(t *testing.T) {
	in := Cursor{
		CreatedAt: time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC),
		EventID:   "9f1c2d3e-aaaa-bbbb-cccc-000000000001",
	}

	got, ok, err := DecodeCursor(in.Encode())
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok for a minted token")
	}
	if !got.CreatedAt.Equal(in.CreatedAt) || got.EventID != in.EventID {
		t.Fatalf("roundtrip mismatch: %+v != %+v", got, in)
	}
}

func TestDecodeCursor_EmptyMeansStartFromTop(t *testing.T) {
	_, ok, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("empty token must not error, got %v", err)
	}
	if ok {
		t.Fatalf("empty token must report no cursor")
	}
}

func TestDecodeCursor_Malformed(t *testing.T) {
	bad := []string{
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("v1|no-pipe")),
		base64.RawURLEncoding.EncodeToString([]byte("v2|12345|id")),        // wrong version
		base64.RawURLEncoding.EncodeToString([]byte("v1|not-a-number|id")), // bad timestamp
		base64.RawURLEncoding.EncodeToString([]byte("v1|12345|")),          // missing id
	}
	for _, token := range bad {
		if _, _, err := DecodeCursor(token); !errors.Is(err, ErrBadCursor) {
			t.Errorf("DecodeCursor(%q) err = %v; want ErrBadCursor", token, err)
		}
	}
}
