// Package peercache persists the known-peers cache to disk in a
// best-effort, non-blocking fashion: saves are offloaded to a single
// background writer so router goroutines never block on filesystem I/O.
package peercache

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/peertable"
)

// Entry is the on-disk representation of one cached peer.
type Entry struct {
	AgentID        string `json:"agent_id"`
	NetworkAddress string `json:"network_address"`
	PublicKey      string `json:"public_key"` // base64
}

// Load reads the cache file at path. A missing or corrupt file is not
// fatal: it is reported and an empty cache is returned so startup proceeds.
func Load(path string, log *logrus.Entry) []Entry {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("failed to read known-peers cache, starting with an empty cache")
		}
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.WithError(err).Warn("known-peers cache is corrupt, starting with an empty cache")
		return nil
	}
	return entries
}

// ToRecords converts cache entries into Cached-source peer records,
// skipping any entry whose public key fails to decode.
func ToRecords(entries []Entry, decode func(string) ([]byte, error)) []peertable.Record {
	out := make([]peertable.Record, 0, len(entries))
	for _, e := range entries {
		pub, err := decode(e.PublicKey)
		if err != nil {
			continue
		}
		out = append(out, peertable.Record{
			AgentID:        identity.AgentID(e.AgentID),
			NetworkAddress: e.NetworkAddress,
			PublicKey:      pub,
			Source:         peertable.SourceCached,
		})
	}
	return out
}

// Writer offloads cache saves to a single background goroutine so callers
// never block on disk I/O. Only the most recent pending snapshot is kept;
// intermediate snapshots submitted while a write is in flight are dropped.
type Writer struct {
	path string
	log  *logrus.Entry
	ch   chan []Entry
	done chan struct{}
}

// NewWriter starts the background writer goroutine.
func NewWriter(path string, log *logrus.Entry) *Writer {
	w := &Writer{
		path: path,
		log:  log,
		ch:   make(chan []Entry, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Save submits a new snapshot to persist. Non-blocking: if the writer is
// busy, the previous pending snapshot is replaced rather than queued.
func (w *Writer) Save(entries []Entry) {
	select {
	case w.ch <- entries:
	default:
		select {
		case <-w.ch:
		default:
		}
		select {
		case w.ch <- entries:
		default:
		}
	}
}

// Close stops the background writer after flushing any pending snapshot.
func (w *Writer) Close() {
	close(w.ch)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for entries := range w.ch {
		w.writeOnce(entries)
	}
}

func (w *Writer) writeOnce(entries []Entry) {
	data, err := json.Marshal(entries)
	if err != nil {
		w.log.WithError(err).Warn("failed to marshal known-peers cache")
		return
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o700); err != nil {
		w.log.WithError(err).Warn("failed to create state directory for known-peers cache")
		return
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		w.log.WithError(err).Warn("failed to write known-peers cache")
		return
	}
	if err := os.Rename(tmp, w.path); err != nil {
		w.log.WithError(err).Warn("failed to replace known-peers cache")
	}
}
