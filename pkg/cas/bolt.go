package cas

import (
	"context"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ajitpratap0/gridetl/pkg/errors"
	"github.com/ajitpratap0/gridetl/pkg/metrics"
)

var blocksBucket = []byte("blocks")

// BoltBlockstore keeps blocks in a bbolt database file, keyed by the binary
// CID.
type BoltBlockstore struct {
	db   *bolt.DB
	path string
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*BoltBlockstore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStorage, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStorage, "open blockstore %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blocksBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, errors.ErrorTypeStorage, "creating bucket %s", blocksBucket)
	}
	return &BoltBlockstore{db: db, path: path}, nil
}

// Path returns the database file path.
func (b *BoltBlockstore) Path() string { return b.path }

// Close closes the database.
func (b *BoltBlockstore) Close() error {
	return b.db.Close()
}

func (b *BoltBlockstore) Put(ctx context.Context, codec Codec, data []byte) (CID, error) {
	if err := ctx.Err(); err != nil {
		return CID{}, err
	}
	cid := Sum(codec, data)
	key := cid.Bytes()

	written := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blocksBucket)
		if bucket.Get(key) != nil {
			return nil
		}
		written = true
		return bucket.Put(key, data)
	})
	if err != nil {
		return CID{}, errors.Wrapf(err, errors.ErrorTypeStorage, "put block %s", cid)
	}
	if written {
		metrics.BlocksWritten.WithLabelValues("bolt").Inc()
		metrics.BytesWritten.WithLabelValues("bolt").Add(float64(len(data)))
	}
	return cid, nil
}

func (b *BoltBlockstore) Get(ctx context.Context, cid CID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blocksBucket).Get(cid.Bytes())
		if v == nil {
			return nil
		}
		// bbolt values are only valid inside the transaction.
		found = true
		data = append(make([]byte, 0, len(v)), v...)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeStorage, "get block %s", cid)
	}
	if !found {
		return nil, ErrBlockNotFound(cid)
	}
	if err := verify(cid, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (b *BoltBlockstore) Has(_ context.Context, cid CID) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(blocksBucket).Get(cid.Bytes()) != nil
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrorTypeStorage, "has block %s", cid)
	}
	return found, nil
}
