// Package boltdb provides a persistent psk.Store that keeps cached PMKs in a file.
package boltdb

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"code.wpakey.org/golang/pkg/psk"
)

const (
	connectTimeout = 5 * time.Second
	pmkBucket      = "pmkTbl"
)

type pmkStore struct {
	dbpath string
}

// New returns a psk.Store implementation that persists Entries in a single file boltdb database.
// It errors if the database schema can not be created.
func New(dbpath string) (psk.Store, error) {
	store := pmkStore{dbpath: dbpath}

	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(pmkBucket))
		return wrapError(err, "failed %s bucket creation", pmkBucket) // nil if err is nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db initialization")
	}

	return store, nil
}

// Load loads the Entry referenced by key into dst.
// It returns true if the Entry was found and successfully loaded.
func (self pmkStore) Load(ctx context.Context, key psk.Key, dst *psk.Entry) (bool, error) {
	db, err := self.open(ctx)
	if nil != err {
		return false, err
	}
	defer db.Close()

	var loaded bool
	err = db.View(func(tx *bolt.Tx) error {
		tbl, err := loadBucket(tx)
		if nil != err {
			return err
		}
		srzentry := tbl.Get(key[:])
		if nil == srzentry {
			return nil
		}
		err = cbor.Unmarshal(srzentry, dst)
		if nil != err {
			return wrapError(err, "failed unmarshaling entry")
		}
		loaded = true
		return nil
	})

	return loaded, wrapError(err, "failed db.View") // nil if err is nil
}

// Save saves entry in the pmkStore.
// It errors if entry is invalid or could not be saved.
func (self pmkStore) Save(ctx context.Context, entry psk.Entry) error {
	err := entry.Check()
	if nil != err {
		return wrapError(err, "entry is invalid")
	}

	// marshal entry data using cbor
	srzentry, err := cbor.Marshal(entry)
	if nil != err {
		return wrapError(err, "failed cbor.Marshal(entry)")
	}

	db, err := self.open(ctx)
	if nil != err {
		return err
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		tbl, err := loadBucket(tx)
		if nil != err {
			return err
		}
		return tbl.Put(entry.Key[:], srzentry)
	})

	return wrapError(err, "failed db.Update") // nil if err is nil
}

// Remove removes the Entry referenced by key from the pmkStore.
// It returns true if the Entry was effectively removed.
func (self pmkStore) Remove(ctx context.Context, key psk.Key) (bool, error) {
	db, err := self.open(ctx)
	if nil != err {
		return false, err
	}
	defer db.Close()

	var removed bool
	err = db.Update(func(tx *bolt.Tx) error {
		tbl, err := loadBucket(tx)
		if nil != err {
			return err
		}
		if nil == tbl.Get(key[:]) {
			return nil
		}
		err = tbl.Delete(key[:])
		if nil != err {
			// unlikely as pmkTbl is writable
			return err
		}
		removed = true
		return nil
	})

	return removed, wrapError(err, "failed db.Update") // nil if err is nil
}

// Count returns the number of Entries in the store at dbpath or -1 if it can not be read.
func Count(dbpath string) int {
	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout, ReadOnly: true})
	if nil != err {
		return -1
	}
	defer db.Close()

	count := -1
	db.View(func(tx *bolt.Tx) error {
		tbl, err := loadBucket(tx)
		if nil == err {
			count = tbl.Stats().KeyN
		}
		return err
	})

	return count
}

func (self pmkStore) open(ctx context.Context) (*bolt.DB, error) {
	err := ctx.Err()
	if nil != err {
		return nil, wrapError(err, "operation cancelled")
	}
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	return db, nil
}

func loadBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	tbl := tx.Bucket([]byte(pmkBucket))
	if nil == tbl {
		return nil, newError("missing %s bucket", pmkBucket)
	}
	return tbl, nil
}
