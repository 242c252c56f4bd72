package bencode

import (
	"bytes"
	"crypto/sha1"
	"strings"
	"testing"
)

func TestDecodeWithInfoSpanBasic(t *testing.T) {
	infoBytes := "d6:lengthi100e4:name8:file.bin12:piece lengthi16384e6:pieces0:e"
	raw := "d8:announce18:http://tracker/ann4:info" + infoBytes + "e"

	val, span, err := DecodeWithInfoSpan(strings.NewReader(raw), "info")
	if err != nil {
		t.Fatalf("DecodeWithInfoSpan error = %v", err)
	}

	if span.End-span.Start != int64(len(infoBytes)) {
		t.Fatalf(
			"span length = %d, want %d",
			span.End-span.Start,
			len(infoBytes),
		)
	}

	got := raw[span.Start:span.End]
	if got != infoBytes {
		t.Fatalf("span bytes = %q, want %q", got, infoBytes)
	}

	dict, ok := val.(map[string]any)
	if !ok {
		t.Fatalf("decoded value is not a dictionary: %T", val)
	}
	if dict["announce"] != "http://tracker/ann" {
		t.Fatalf("unexpected announce value: %v", dict["announce"])
	}
}

func TestDecodeWithInfoSpanHashMatchesEncoder(t *testing.T) {
	info := map[string]any{
		"length":       int64(12345),
		"name":         "file.bin",
		"piece length": int64(16384),
		"pieces":       "",
	}

	var infoBuf bytes.Buffer
	if err := NewEncoder(&infoBuf).Encode(info); err != nil {
		t.Fatalf("encode info: %v", err)
	}

	top := map[string]any{
		"announce": "http://tracker/ann",
		"info":     info,
	}
	var topBuf bytes.Buffer
	if err := NewEncoder(&topBuf).Encode(top); err != nil {
		t.Fatalf("encode top: %v", err)
	}

	_, span, err := DecodeWithInfoSpan(bytes.NewReader(topBuf.Bytes()), "info")
	if err != nil {
		t.Fatalf("DecodeWithInfoSpan error = %v", err)
	}

	gotBytes := topBuf.Bytes()[span.Start:span.End]
	wantHash := sha1.Sum(infoBuf.Bytes())
	gotHash := sha1.Sum(gotBytes)

	if wantHash != gotHash {
		t.Fatalf("info-hash mismatch: got %x want %x", gotHash, wantHash)
	}
}

func TestDecodeWithInfoSpanMissingKey(t *testing.T) {
	raw := "d8:announce3:fooe"
	if _, _, err := DecodeWithInfoSpan(strings.NewReader(raw), "info"); err == nil {
		t.Fatalf("expected error for missing info key")
	}
}
