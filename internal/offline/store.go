package offline

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// metaBucket holds store bookkeeping; manifests reject prefixes starting
// with "__".
var (
	metaBucket = []byte("__meta__")
	activeKey  = []byte("active")
)

// openTimeout bounds waiting for the database file lock held by another
// process.
const openTimeout = 2 * time.Second

// Entry is a captured response.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the entry's Content-Type header.
func (e *Entry) ContentType() string {
	return e.Header.Get("Content-Type")
}

// record is the stored form of an Entry. Body is zstd-compressed.
type record struct {
	Status int                 `msgpack:"status"`
	Header map[string][]string `msgpack:"header"`
	Body   []byte              `msgpack:"body"`
	Size   int                 `msgpack:"size"`
}

// Shared codecs; EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

func encodeEntry(e *Entry) ([]byte, error) {
	encoder, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return msgpack.Marshal(&record{
		Status: e.Status,
		Header: e.Header,
		Body:   encoder.EncodeAll(e.Body, nil),
		Size:   len(e.Body),
	})
}

func decodeEntry(data []byte) (*Entry, error) {
	decoder, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	var r record
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	body, err := decoder.DecodeAll(r.Body, make([]byte, 0, r.Size))
	if err != nil {
		return nil, err
	}
	return &Entry{Status: r.Status, Header: http.Header(r.Header), Body: body}, nil
}

// StoreInfo describes one cache store.
type StoreInfo struct {
	Name    string
	Active  bool
	Entries int
}

// Store is a set of named cache stores in one bbolt database. Each store is
// a bucket; every mutation is a single transaction.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// OpenStore opens or creates the database at path.
func OpenStore(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "offline-store")),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) view(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.View(fn)
}

func (s *Store) update(fn func(tx *bbolt.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.Update(fn)
}

// Put replaces the contents of store name with entries in one transaction.
// Entries without a Content-Type get one detected from their body.
func (s *Store) Put(name string, entries map[string]*Entry) error {
	encoded := make(map[string][]byte, len(entries))
	for key, e := range entries {
		if e.Header == nil {
			e.Header = http.Header{}
		}
		if e.ContentType() == "" {
			e.Header.Set("Content-Type", mimetype.Detect(e.Body).String())
		}
		data, err := encodeEntry(e)
		if err != nil {
			return fmt.Errorf("failed to encode '%s': %w", key, err)
		}
		encoded[key] = data
	}

	err := s.update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			if err := tx.DeleteBucket([]byte(name)); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucket([]byte(name))
		if err != nil {
			return err
		}
		for key, data := range encoded {
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Cache store written",
		zap.String("store", name),
		zap.Int("entries", len(entries)),
	)
	return nil
}

// Get returns the entry stored under key in store name, or nil.
func (s *Store) Get(name, key string) (*Entry, error) {
	var entry *Entry
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction; decoding copies it.
		e, err := decodeEntry(data)
		if err != nil {
			return &EntryDecodeError{Store: name, Key: key, Err: err}
		}
		entry = e
		return nil
	})
	return entry, err
}

// Exists reports whether store name exists.
func (s *Store) Exists(name string) (bool, error) {
	var ok bool
	err := s.view(func(tx *bbolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil
		return nil
	})
	return ok, err
}

// Names returns every store name, sorted.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if string(name) != string(metaBucket) {
				names = append(names, string(name))
			}
			return nil
		})
	})
	sort.Strings(names)
	return names, err
}

// Keys returns the entry keys of store name, sorted.
func (s *Store) Keys(name string) ([]string, error) {
	var keys []string
	err := s.view(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Active returns the active store name, or "" when none was activated.
func (s *Store) Active() (string, error) {
	var active string
	err := s.view(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(metaBucket); b != nil {
			active = string(b.Get(activeKey))
		}
		return nil
	})
	return active, err
}

// Activate deletes every store except keep and records keep as active, in
// one transaction. It returns the deleted store names.
func (s *Store) Activate(keep string) ([]string, error) {
	var deleted []string
	err := s.update(func(tx *bbolt.Tx) error {
		// Buckets cannot be deleted while iterating.
		var stale [][]byte
		err := tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if string(name) != keep && string(name) != string(metaBucket) {
				stale = append(stale, append([]byte(nil), name...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, name := range stale {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
			deleted = append(deleted, string(name))
		}

		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return err
		}
		return meta.Put(activeKey, []byte(keep))
	})
	if err != nil {
		return nil, err
	}

	if len(deleted) > 0 {
		s.logger.Info("Deleted stale cache stores",
			zap.Strings("stores", deleted),
			zap.String("active", keep),
		)
	}
	return deleted, nil
}

// Info describes every store.
func (s *Store) Info() ([]StoreInfo, error) {
	active, err := s.Active()
	if err != nil {
		return nil, err
	}

	var infos []StoreInfo
	err = s.view(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if string(name) == string(metaBucket) {
				return nil
			}
			infos = append(infos, StoreInfo{
				Name:    string(name),
				Active:  string(name) == active,
				Entries: b.Stats().KeyN,
			})
			return nil
		})
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, err
}
