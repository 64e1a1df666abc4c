package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"marketwatch/internal/events"
)

// FileKV persists every key in a single JSON document. The document is re-read on
// each access so that several processes sharing the file observe each other's writes,
// and replaced atomically (temp file + rename) when a transaction commits.
// Transactions hold an exclusive flock on a sidecar lock file.
type FileKV struct {
	path string
	mu   sync.Mutex

	ownMu   sync.Mutex
	written map[string][]string
}

// recentWrites bounds how many of its own values per key a FileKV remembers. The
// watcher may read the file a few writes behind.
const recentWrites = 8

type fileTxKey struct{ kv *FileKV }

type fileTx struct {
	doc     map[string]json.RawMessage
	written map[string]bool
}

// OpenFileKV prepares a file-backed store at path, creating parent directories.
func OpenFileKV(path string) (*FileKV, error) {
	if path == "" {
		return nil, errors.New("storage.path is required for the file backend")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	kv := &FileKV{path: path, written: make(map[string][]string)}
	if _, err := readDocument(path); err != nil {
		return nil, err
	}
	return kv, nil
}

// Path returns the backing file location.
func (f *FileKV) Path() string {
	return f.path
}

func (f *FileKV) lockPath() string {
	return f.path + ".lock"
}

func (f *FileKV) tx(ctx context.Context) (*fileTx, bool) {
	tx, ok := ctx.Value(fileTxKey{f}).(*fileTx)
	return tx, ok
}

// Get reads key from the current document on disk, or from the open transaction.
func (f *FileKV) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if tx, ok := f.tx(ctx); ok {
		v, ok := tx.doc[key]
		return v, ok, nil
	}
	doc, err := readDocument(f.path)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[key]
	return v, ok, nil
}

// Set rewrites the document with key replaced. On failure the file is left untouched.
func (f *FileKV) Set(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return errors.New("file kv: value is not valid json")
	}
	if tx, ok := f.tx(ctx); ok {
		tx.doc[key] = append(json.RawMessage(nil), value...)
		tx.written[key] = true
		return nil
	}
	return f.Transact(ctx, func(ctx context.Context) error {
		return f.Set(ctx, key, value)
	})
}

// Transact reads the document under the file lock, lets fn modify it, and writes it
// back in one rename.
func (f *FileKV) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := f.tx(ctx); ok {
		return fn(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	unlock, err := lockFile(ctx, f.lockPath())
	if err != nil {
		return err
	}
	defer unlock()

	doc, err := readDocument(f.path)
	if err != nil {
		return err
	}
	tx := &fileTx{doc: doc, written: make(map[string]bool)}
	if err := fn(context.WithValue(ctx, fileTxKey{f}, tx)); err != nil {
		return err
	}
	if len(tx.written) == 0 {
		return nil
	}

	payload, err := json.MarshalIndent(tx.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	f.remember(tx)
	return writeFileAtomic(f.path, payload)
}

// Close is a no-op; the file is not held open between calls.
func (f *FileKV) Close() error {
	return nil
}

// remember records the compacted bytes of keys written by this process, so the
// watcher can tell them apart from edits made elsewhere.
func (f *FileKV) remember(tx *fileTx) {
	f.ownMu.Lock()
	defer f.ownMu.Unlock()
	for key := range tx.written {
		recent := append(f.written[key], compactJSON(tx.doc[key]))
		if len(recent) > recentWrites {
			recent = recent[len(recent)-recentWrites:]
		}
		f.written[key] = recent
	}
}

func (f *FileKV) isOwnWrite(key string, value json.RawMessage) bool {
	if value == nil {
		return false
	}
	f.ownMu.Lock()
	defer f.ownMu.Unlock()
	v := compactJSON(value)
	for _, w := range f.written[key] {
		if w == v {
			return true
		}
	}
	return false
}

func compactJSON(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

func readDocument(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]json.RawMessage), nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// Watch publishes a change on bus for every key whose stored bytes differ after
// another writer replaces the file. Writes made through f are not republished; the
// repository already announced them. It blocks until ctx is cancelled.
func (f *FileKV) Watch(ctx context.Context, bus *events.Bus, logger zerolog.Logger) error {
	log := logger.With().Str("component", "file_watcher").Str("path", f.path).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// The file is replaced by rename, so the directory is watched rather than the inode.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(f.path)
	snapshot, err := readDocument(f.path)
	if err != nil {
		log.Warn().Err(err).Msg("initial read failed; starting from empty snapshot")
		snapshot = make(map[string]json.RawMessage)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			current, err := readDocument(f.path)
			if err != nil {
				log.Debug().Err(err).Msg("skip unreadable document")
				continue
			}
			for _, key := range changedKeys(snapshot, current) {
				if f.isOwnWrite(key, current[key]) {
					continue
				}
				log.Debug().Str("key", key).Msg("external change detected")
				bus.Publish(key, "file")
			}
			snapshot = current
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func changedKeys(before, after map[string]json.RawMessage) []string {
	var keys []string
	for k, v := range after {
		if old, ok := before[k]; !ok || !bytes.Equal(old, v) {
			keys = append(keys, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

var _ KV = (*FileKV)(nil)
