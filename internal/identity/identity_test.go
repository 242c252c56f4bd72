package identity

import (
	"strings"
	"testing"
)

func TestNew_PrefixAndLength(t *testing.T) {
	cases := []struct {
		client  Client
		version string
		prefix  string
	}{
		{UTorrent, "3.5.5", "-UT3550-"},
		{QBittorrent, "5.1.4", "-qB5140-"},
		{Transmission, "4.0.6", "-TR4060-"},
		{Deluge, "2.1.1", "-DE2110-"},
	}

	for _, tc := range cases {
		id, err := New(tc.client, tc.version)
		if err != nil {
			t.Fatalf("New(%v, %q) error = %v", tc.client, tc.version, err)
		}
		if len(id.PeerID) != 20 {
			t.Fatalf("peer id length = %d, want 20", len(id.PeerID))
		}
		if got := string(id.PeerID[:len(tc.prefix)]); got != tc.prefix {
			t.Fatalf("peer id prefix = %q, want %q", got, tc.prefix)
		}
	}
}

func TestNew_TransmissionPeerIDIsDigitsOnly(t *testing.T) {
	id, err := New(Transmission, "4.0.6")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	suffix := string(id.PeerID[8:])
	for _, r := range suffix {
		if r < '0' || r > '9' {
			t.Fatalf("transmission peer id suffix %q has non-digit %q", suffix, r)
		}
	}
}

func TestNew_TransmissionKeyIsUppercaseHex(t *testing.T) {
	id, err := New(Transmission, "4.0.6")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if len(id.Key) != 8 {
		t.Fatalf("key length = %d, want 8", len(id.Key))
	}
	if strings.ToUpper(id.Key) != id.Key {
		t.Fatalf("transmission key %q not uppercase", id.Key)
	}
}

func TestNew_QueryKeyOrderMatchesTable(t *testing.T) {
	id, err := New(QBittorrent, "5.1.4")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	want := []string{
		"info_hash", "peer_id", "port", "uploaded", "downloaded", "left",
		"corrupt", "key", "event", "numwant", "compact", "no_peer_id",
		"supportcrypto", "redundant",
	}
	if len(id.QueryKeyOrder) != len(want) {
		t.Fatalf(
			"query key order length = %d, want %d",
			len(id.QueryKeyOrder),
			len(want),
		)
	}
	for i, k := range want {
		if id.QueryKeyOrder[i] != k {
			t.Fatalf(
				"query key order[%d] = %q, want %q",
				i,
				id.QueryKeyOrder[i],
				k,
			)
		}
	}
}

func TestNew_HeadersSetPerClient(t *testing.T) {
	id, err := New(Transmission, "4.0.6")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := id.Headers.Get("User-Agent"); got != "Transmission/4.0.6" {
		t.Fatalf("User-Agent = %q", got)
	}
	if got := id.Headers.Get("Accept-Encoding"); got != "deflate, gzip, br, zstd" {
		t.Fatalf("Accept-Encoding = %q", got)
	}
}

func TestNew_FreshEachCall(t *testing.T) {
	a, err := New(UTorrent, "3.5.5")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	b, err := New(UTorrent, "3.5.5")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.PeerID == b.PeerID {
		t.Fatalf("two successive peer ids collided: %x", a.PeerID)
	}
	if a.Key == b.Key {
		t.Fatalf("two successive keys collided: %s", a.Key)
	}
}

func TestNew_UnknownClientOrVersion(t *testing.T) {
	if _, err := New(Client(99), "1.0"); err == nil {
		t.Fatalf("expected error for unknown client")
	}
	if _, err := New(QBittorrent, "0.0.0"); err == nil {
		t.Fatalf("expected error for unknown version")
	}
}
