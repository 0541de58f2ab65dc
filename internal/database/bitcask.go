// Package database wraps a bitcask embedded key-value log with gzip
// value compression and a single-writer/multi-reader lock discipline.
// It is deliberately generic: internal/catalog builds the artifact/alias
// namespaces on top of it.
package database

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

var gzipMagicBytes = []byte{0x1f, 0x8b}

// maxKeySize raises bitcask's 64-byte default key limit: internal/catalog
// builds keys from 64-character hex digests and, for attempt rows, a full
// source URL, all of which exceed the default.
const maxKeySize = 4096

// DB wraps the bitcask database instance and provides helper methods.
type DB struct {
	db *bitcask.Bitcask
	sync.RWMutex
}

// Open initializes and returns a DB instance, creating path's parent
// directory if needed.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path, bitcask.WithMaxKeySize(maxKeySize))
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("database opened at %s", path)
	return &DB{db: dbInstance}, nil
}

// Lock acquires a write lock.
func (d *DB) Lock() { d.RWMutex.Lock() }

// Unlock releases a write lock.
func (d *DB) Unlock() { d.RWMutex.Unlock() }

// RLock acquires a read lock.
func (d *DB) RLock() { d.RWMutex.RLock() }

// RUnlock releases a read lock.
func (d *DB) RUnlock() { d.RWMutex.RUnlock() }

// Close safely closes the database connection.
func (d *DB) Close() error {
	d.Lock()
	defer d.Unlock()
	log.Info("closing database")
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if
// necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database. Deleting a missing key is not
// an error.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs, decompressing each value, and
// calls fn. The database's read lock is held for the whole iteration.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	return d.db.Fold(func(key []byte) error {
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("fold: error getting value for key %s", string(key))
			return nil
		}

		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("fold: error decompressing value for key %s", string(key))
			return nil
		}

		return fn(key, value)
	})
}

// Keys returns a channel of all keys in the database. Read from it until
// it closes; the database's read lock is held for the duration.
func (d *DB) Keys() <-chan []byte {
	d.RLock()
	keysChan := d.db.Keys()
	monitoredChan := make(chan []byte)

	go func() {
		defer d.RUnlock()
		for key := range keysChan {
			monitoredChan <- key
		}
		close(monitoredChan)
	}()

	return monitoredChan
}

func decompressIfGzipped(value []byte) ([]byte, error) {
	if !bytes.HasPrefix(value, gzipMagicBytes) {
		return value, nil
	}

	bReader := bytes.NewReader(value)
	gReader, err := gzip.NewReader(bReader)
	if err != nil {
		log.WithError(err).Warn("error creating gzip reader for value, returning raw data")
		return value, nil
	}
	defer gReader.Close()

	decompressedValue, err := io.ReadAll(gReader)
	if err != nil {
		log.WithError(err).Warn("error decompressing value, returning raw data")
		return value, nil
	}
	return decompressedValue, nil
}

func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	if _, err := gWriter.Write(value); err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	if err := gWriter.Close(); err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}

	return buf.Bytes(), nil
}
