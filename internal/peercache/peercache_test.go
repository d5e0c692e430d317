package peercache_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/internal/peercache"
)

func testLogger() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	entries := peercache.Load(filepath.Join(t.TempDir(), "missing.json"), testLogger())
	if entries != nil {
		t.Fatalf("expected nil entries for missing file, got %v", entries)
	}
}

func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write corrupt cache: %v", err)
	}
	entries := peercache.Load(path, testLogger())
	if entries != nil {
		t.Fatalf("expected nil entries for corrupt file, got %v", entries)
	}
}

func TestWriterRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	w := peercache.NewWriter(path, testLogger())

	entries := []peercache.Entry{
		{AgentID: "ed25519.aaaa", NetworkAddress: "127.0.0.1:7777", PublicKey: base64.StdEncoding.EncodeToString([]byte("key-bytes"))},
	}
	w.Save(entries)
	w.Close()

	got := peercache.Load(path, testLogger())
	if len(got) != 1 || got[0].AgentID != "ed25519.aaaa" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestToRecordsSkipsBadPubkey(t *testing.T) {
	entries := []peercache.Entry{
		{AgentID: "ed25519.aaaa", NetworkAddress: "a:1", PublicKey: "not-base64!!"},
		{AgentID: "ed25519.bbbb", NetworkAddress: "b:2", PublicKey: base64.StdEncoding.EncodeToString([]byte("ok"))},
	}
	recs := peercache.ToRecords(entries, base64.StdEncoding.DecodeString)
	if len(recs) != 1 || recs[0].AgentID != "ed25519.bbbb" {
		t.Fatalf("expected only the valid entry to survive, got %+v", recs)
	}
}

var _ = time.Second
