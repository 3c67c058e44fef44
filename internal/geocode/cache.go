package geocode

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var postcodeBucket = []byte("postcodes")

// Cache wraps a Reverser with an on-disk bbolt store of previous answers.
// Coordinates are rounded to 5 decimal places (about a metre) to form keys.
// Only successful lookups are stored.
type Cache struct {
	next Reverser
	db   *bolt.DB

	hits, misses int
}

// OpenCache opens (creating if needed) the cache file at path.
func OpenCache(path string, next Reverser) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening geocode cache %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(postcodeBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating geocode cache bucket")
	}
	return &Cache{next: next, db: db}, nil
}

// Close closes the cache file.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Stats returns the hit and miss counts since open.
func (c *Cache) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// Get returns a cached postcode. A found postcode counts as a hit.
func (c *Cache) Get(lat, lon float64) (string, bool) {
	zip, ok := c.lookup(lat, lon)
	if ok {
		c.hits++
	}
	return zip, ok
}

func (c *Cache) lookup(lat, lon float64) (string, bool) {
	var zip string
	_ = c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(postcodeBucket).Get(cacheKey(lat, lon)); v != nil {
			zip = string(v)
		}
		return nil
	})
	return zip, zip != ""
}

// Reverse answers from the cache, falling through to the wrapped Reverser.
func (c *Cache) Reverse(ctx context.Context, lat, lon float64) (string, error) {
	if zip, ok := c.Get(lat, lon); ok {
		return zip, nil
	}
	c.misses++

	zip, err := c.next.Reverse(ctx, lat, lon)
	if err != nil {
		return "", err
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(postcodeBucket).Put(cacheKey(lat, lon), []byte(zip))
	})
	if err != nil {
		return "", errors.Wrap(err, "writing geocode cache")
	}
	return zip, nil
}

func cacheKey(lat, lon float64) []byte {
	return []byte(strconv.FormatFloat(lat, 'f', 5, 64) + "," + strconv.FormatFloat(lon, 'f', 5, 64))
}
