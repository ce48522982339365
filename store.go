package komodo

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/clydebarrow/komodo/internal/numeric"
	"github.com/clydebarrow/komodo/komodoerr"
	"github.com/clydebarrow/komodo/komodolog"
	"github.com/clydebarrow/komodo/kvbackend"
	"github.com/clydebarrow/komodo/kvbackend/mdbxkv"
	"github.com/clydebarrow/komodo/kvbackend/memkv"
)

// defaultMapSizeMb bounds the MDBX environment's address space
// reservation. It is not a hard data cap (MDBX grows the backing file
// lazily up to this ceiling); raise it for a store expected to exceed
// a few GB of resident data.
const defaultMapSizeMb = 4096

// Config configures Store.Open. An empty Filename selects the
// in-memory backend (memkv); any other value opens (creating if
// needed) an MDBX environment at that path.
type Config struct {
	// Filename is the MDBX environment path, or empty for an
	// in-memory store.
	Filename string
	// Compressed zstd-compresses every primary-map value.
	Compressed bool
	// ReadCacheMb sizes each collection's decoded-value read cache; 0
	// disables it.
	ReadCacheMb datasize.ByteSize
	// AutoCommitBufferKb and AutoCommitDelayMs describe the backend's
	// own write-buffering policy; komodo does not implement buffering
	// itself; these are recorded for callers that want to inspect or
	// log the configured policy; the underlying KV engine, not this
	// package, is responsible for honoring them.
	AutoCommitBufferKb datasize.ByteSize
	AutoCommitDelayMs  int
	// EncryptionKey, if non-empty, enables ChaCha20-Poly1305 sealing
	// of every primary-map value. The key is hashed with SHA-256 first
	// so any length is accepted.
	EncryptionKey []byte
	// Logger receives Store and Collection diagnostics. A nil Logger
	// discards everything.
	Logger *komodolog.Logger
}

// Store owns one backend (in-memory or MDBX) and the collections
// opened against it.
type Store struct {
	backend kvbackend.Backend
	config  Config
	logger  *komodolog.Logger
	id      uuid.UUID

	collections sync.Map
	openTx      atomic.Int64

	// autoCommitDelayMs shadows config.AutoCommitDelayMs behind an
	// atomic so SetAutoCommitDelay can be called concurrently with
	// reads of the configured policy.
	autoCommitDelayMs atomic.Int64

	aead cipher.AEAD
}

// Open opens (or creates) a store per cfg. Opening the MDBX backend
// retries with exponential backoff, since a freshly-crashed process
// on the same path can transiently hold the environment lock.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = komodolog.Nop()
	}

	var backend kvbackend.Backend
	open := func() error {
		if cfg.Filename == "" {
			backend = memkv.New()
			return nil
		}
		b, err := mdbxkv.Open(mdbxkv.Options{Path: cfg.Filename, MaxMapsMb: defaultMapSizeMb})
		if err != nil {
			return err
		}
		backend = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(open, backoff.WithMaxRetries(bo, 5)); err != nil {
		return nil, komodoerr.NewBackendFailure(fmt.Errorf("open backend: %w", err))
	}

	s := &Store{backend: backend, config: cfg, logger: logger, id: uuid.New()}
	s.autoCommitDelayMs.Store(int64(cfg.AutoCommitDelayMs))

	if len(cfg.EncryptionKey) > 0 {
		sum := sha256.Sum256(cfg.EncryptionKey)
		aead, err := chacha20poly1305.New(sum[:])
		if err != nil {
			return nil, komodoerr.NewBackendFailure(err)
		}
		s.aead = aead
	}

	if err := s.checkSchemaVersion(); err != nil {
		_ = backend.Close()
		return nil, err
	}

	s.logger.Info("store opened", "id", s.id, "filename", cfg.Filename, "compressed", cfg.Compressed, "encrypted", s.aead != nil)
	return s, nil
}

func (s *Store) checkSchemaVersion() error {
	m, err := s.backend.Map(metaMapName)
	if err != nil {
		return wrapBackend(err)
	}
	existing, found, err := m.Get([]byte(schemaVersionKey))
	if err != nil {
		return wrapBackend(err)
	}
	if !found {
		return wrapBackend(m.Put([]byte(schemaVersionKey), encodeSchemaVersion(SchemaVersion.Major, SchemaVersion.Minor)))
	}
	major, _ := decodeSchemaVersion(existing)
	if major != SchemaVersion.Major {
		return komodoerr.NewBackendFailure(fmt.Errorf("schema version mismatch: backend has major %d, code expects %d", major, SchemaVersion.Major))
	}
	return nil
}

// recordIndexSet stamps the declared index names for collection into
// the reserved metadata map, logging (not failing) when they differ
// from what was recorded on a previous open: a collection's codec
// changing shape across a deploy is expected during development and
// should not block startup, but is worth a loud log line.
func (s *Store) recordIndexSet(collection string, names []string) {
	m, err := s.backend.Map(metaMapName)
	if err != nil {
		return
	}
	k := indexSetKey(collection)
	declared := encodeIndexSet(names)
	existing, found, err := m.Get(k)
	if err == nil && found && !bytes.Equal(existing, declared) {
		s.logger.Warn("collection index set changed since last open", "detail", formatIndexSetMismatch(collection, declared, existing))
	}
	_ = m.Put(k, declared)
}

func (s *Store) registerCollection(name string, c interface{}) {
	s.collections.Store(name, c)
}

// Collections returns the names of every collection opened against
// this store in the current process (not a persisted list: a
// freshly-opened Store that hasn't called NewCollection yet reports
// none, even if the backend holds data from a previous run).
func (s *Store) Collections() []string {
	var names []string
	s.collections.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	return names
}

// packBytes applies this store's configured compression and
// encryption to a codec-encoded value, in that order (compress then
// encrypt, so ciphertext doesn't defeat compression).
func (s *Store) packBytes(raw []byte) ([]byte, error) {
	out := raw
	if s.config.Compressed {
		var buf bytes.Buffer
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(out); err != nil {
			zw.Close()
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		out = buf.Bytes()
	}
	if s.aead != nil {
		nonce := make([]byte, s.aead.NonceSize())
		if _, err := rand.Read(nonce); err != nil {
			return nil, err
		}
		out = s.aead.Seal(nonce, nonce, out, nil)
	}
	return out, nil
}

// unpackBytes reverses packBytes: decrypt then decompress.
func (s *Store) unpackBytes(stored []byte) ([]byte, error) {
	out := stored
	if s.aead != nil {
		n := s.aead.NonceSize()
		if len(out) < n {
			return nil, fmt.Errorf("komodo: ciphertext shorter than nonce")
		}
		nonce, ct := out[:n], out[n:]
		plain, err := s.aead.Open(nil, nonce, ct, nil)
		if err != nil {
			return nil, err
		}
		out = plain
	}
	if s.config.Compressed {
		zr, err := zstd.NewReader(bytes.NewReader(out))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		decoded, err := io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
		out = decoded
	}
	return out, nil
}

func cacheEntries(size datasize.ByteSize) int {
	if size == 0 {
		return 0
	}
	const avgEntryBytes = 4096
	n := numeric.CeilDiv(int(size), avgEntryBytes)
	if n < 16 {
		n = 16
	}
	return n
}

// RawGet returns the raw (still codec-encoded, and still
// compressed/encrypted if configured) bytes stored under keyBytes in
// the named map, bypassing any Collection. It exists for
// cmd/komodoctl, which has no static type to decode into; ordinary
// callers should go through a Collection instead.
func (s *Store) RawGet(mapName string, keyBytes []byte) ([]byte, bool, error) {
	m, err := s.backend.Map(mapName)
	if err != nil {
		return nil, false, wrapBackend(err)
	}
	v, found, err := m.Get(keyBytes)
	if err != nil {
		return nil, false, wrapBackend(err)
	}
	return v, found, nil
}

// RawCount returns the number of entries in the named map, bypassing
// any Collection. It exists for cmd/komodoctl's inspect command.
func (s *Store) RawCount(mapName string) (uint64, error) {
	m, err := s.backend.Map(mapName)
	if err != nil {
		return 0, wrapBackend(err)
	}
	n, err := m.Count()
	if err != nil {
		return 0, wrapBackend(err)
	}
	return n, nil
}

// Commit flushes any buffered writes to stable storage.
func (s *Store) Commit() error {
	return wrapBackend(s.backend.Commit())
}

// SetAutoCommitDelay replaces the recorded auto-commit delay at
// runtime, unlike the rest of Config, which is fixed at Open. komodo
// does not itself buffer writes and does not pass this value to the
// backend; it is recorded for callers that want to inspect or log the
// configured policy, and is surfaced back through AutoCommitDelay.
func (s *Store) SetAutoCommitDelay(ms int) {
	s.autoCommitDelayMs.Store(int64(ms))
	s.logger.Info("auto-commit delay updated", "id", s.id, "delayMs", ms)
}

// AutoCommitDelay returns the currently configured auto-commit delay,
// in milliseconds.
func (s *Store) AutoCommitDelay() int {
	return int(s.autoCommitDelayMs.Load())
}

// GetMaps returns the names of every map currently known to the
// backend, including collections' secondary/spatial maps and the
// reserved metadata map.
func (s *Store) GetMaps() ([]string, error) {
	names, err := s.backend.ListMaps()
	if err != nil {
		return nil, wrapBackend(err)
	}
	return names, nil
}

// DeleteMap removes a named map and all its entries. Deleting a
// collection's primary map without also deleting its secondary and
// spatial maps leaves them orphaned; prefer driving this through a
// collection-level drop operation when one exists.
func (s *Store) DeleteMap(name string) error {
	return wrapBackend(s.backend.DeleteMap(name))
}

// RollbackTo asks the backend to discard all writes after version. It
// fails with a BackendFailure wrapping kvbackend.ErrNotSupported on
// backends (memkv) that don't implement kvbackend.Versioned, and on
// mdbxkv, whose RollbackTo returns that error itself; neither bundled
// backend can roll back.
func (s *Store) RollbackTo(version uint64) error {
	v, ok := s.backend.(kvbackend.Versioned)
	if !ok {
		return wrapBackend(fmt.Errorf("rollback: %w", kvbackend.ErrNotSupported))
	}
	return wrapBackend(v.RollbackTo(version))
}

// BeginTransaction and EndTransaction are the hook a caller layering
// its own multi-statement transaction semantics on top of a Store can
// use to make Close refuse while one is outstanding; the core itself
// never calls these.
func (s *Store) BeginTransaction() { s.openTx.Add(1) }
func (s *Store) EndTransaction()   { s.openTx.Add(-1) }

// Close releases the store's backend resources. It refuses with
// OpenTransactions if BeginTransaction calls outnumber EndTransaction
// calls.
func (s *Store) Close() error {
	if n := s.openTx.Load(); n != 0 {
		return &komodoerr.OpenTransactions{Count: n}
	}
	s.logger.Info("store closed", "id", s.id)
	return wrapBackend(s.backend.Close())
}
