package registry

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prxssh/phantom/internal/bencode"
	"github.com/prxssh/phantom/internal/identity"
	"github.com/prxssh/phantom/internal/stats"
)

func validTorrentBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	info := map[string]any{
		"name":         "f.bin",
		"piece length": int64(16384),
		"pieces":       "",
		"length":       int64(1024),
	}
	if err := bencode.NewEncoder(&buf).Encode(map[string]any{
		"announce": "http://tracker.example/announce",
		"info":     info,
	}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestCreate_ListContainsID(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)

	found := false
	for _, v := range r.List() {
		if v.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatalf("List() does not contain created id %s", id)
	}
}

func TestCreate_IDIsTwelveCharsURLSafe(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)
	if len(id) != 12 {
		t.Fatalf("id length = %d, want 12", len(id))
	}
	for _, c := range id {
		urlSafe := c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' ||
			c >= '0' && c <= '9' || c == '-' || c == '_'
		if !urlSafe {
			t.Fatalf("id %q contains non-URL-safe character %q", id, c)
		}
	}
}

func TestDelete_StatsYieldsNotFound(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)

	if err := r.Delete(context.Background(), id, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := r.Stats(id); err == nil {
		t.Fatalf("expected NotFound after delete")
	}
}

func TestLoadTorrent_UnknownID(t *testing.T) {
	r := New()
	if _, err := r.LoadTorrent("nonexistent", validTorrentBytes(t)); err == nil {
		t.Fatalf("expected NotFound for unknown id")
	}
}

func TestLoadTorrent_Succeeds(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)

	tor, err := r.LoadTorrent(id, validTorrentBytes(t))
	if err != nil {
		t.Fatalf("LoadTorrent() error = %v", err)
	}
	if tor.Announce != "http://tracker.example/announce" {
		t.Fatalf("Announce = %q", tor.Announce)
	}
}

func TestStart_WithoutTorrentFails(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)

	if err := r.Start(context.Background(), id, &stats.Config{}); err == nil {
		t.Fatalf("expected error starting without a loaded torrent")
	}
}

func TestStart_Lifecycle(t *testing.T) {
	r := New()
	id := r.Create(SourceManual)
	if _, err := r.LoadTorrent(id, validTorrentBytes(t)); err != nil {
		t.Fatalf("LoadTorrent() error = %v", err)
	}

	cfg := stats.Config{
		Port:    6881,
		Client:  identity.QBittorrent,
		Version: "5.1.4",
		NumWant: 50,
	}
	if err := r.Start(context.Background(), id, &cfg); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	snap, err := r.Stats(id)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if snap.State == stats.Idle {
		t.Fatalf("expected non-idle state after Start, got %v", snap.State)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Stop(stopCtx, id); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestSubscribe_ReceivesCreatedAndDeleted(t *testing.T) {
	r := New()
	ch := r.Subscribe()

	id := r.Create(SourceManual)
	select {
	case ev := <-ch:
		if ev.Kind != Created || ev.ID != id {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Created event")
	}

	if err := r.Delete(context.Background(), id, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	select {
	case ev := <-ch:
		if ev.Kind != Deleted || ev.ID != id {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Deleted event")
	}
}
