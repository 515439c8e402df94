package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"pkgkeeper/internal/logger"
	"pkgkeeper/internal/models"

	"go.etcd.io/bbolt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAliasExists = errors.New("alias already exists")
)

var (
	bucketPackages   = []byte("packages")
	bucketRepos      = []byte("repos")
	bucketAccounts   = []byte("accounts")
	bucketMigrations = []byte("migrations")
	bucketSettings   = []byte("settings")
)

/**
 * Durable store of packages, repositories, accounts and the migration ledger
 * @description
 * - Opened once at process start and closed at shutdown
 * - Every mutation is one bbolt transaction
 * - bbolt holds an exclusive file lock, so only one command mutates the store at a time
 */
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

/**
 * Open the store at the given path, creating it and its buckets if needed
 * @param {string} path - bbolt database file
 * @returns {(*Store, error)} Opened store
 */
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store '%s': %w", path, err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.createBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debugf("Opened store %s", path)
	return s, nil
}

func (s *Store) createBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPackages, bucketRepos, bucketAccounts, bucketMigrations, bucketSettings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) get(bucket []byte, key string, out interface{}) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucket).Get([]byte(key))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, out)
	})
}

func (s *Store) put(bucket []byte, key string, value interface{}, mustBeNew bool) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if mustBeNew && b.Get([]byte(key)) != nil {
			return ErrAliasExists
		}
		return b.Put([]byte(key), data)
	})
}

func (s *Store) del(bucket []byte, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		if b.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func list[T any](s *Store, bucket []byte) ([]*T, error) {
	var items []*T
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			item := new(T)
			if err := json.Unmarshal(v, item); err != nil {
				return fmt.Errorf("decode %s/%s: %w", bucket, k, err)
			}
			items = append(items, item)
			return nil
		})
	})
	return items, err
}

// GetPackage returns ErrNotFound when no package has the alias.
func (s *Store) GetPackage(alias string) (*models.LocalPackage, error) {
	var pkg models.LocalPackage
	if err := s.get(bucketPackages, alias, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

// CreatePackage stores a new package and fails with ErrAliasExists on duplicates.
func (s *Store) CreatePackage(pkg *models.LocalPackage) error {
	now := s.now()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now
	return s.put(bucketPackages, pkg.Alias, pkg, true)
}

func (s *Store) SavePackage(pkg *models.LocalPackage) error {
	pkg.UpdatedAt = s.now()
	return s.put(bucketPackages, pkg.Alias, pkg, false)
}

func (s *Store) DeletePackage(alias string) error {
	return s.del(bucketPackages, alias)
}

func (s *Store) ListPackages() ([]*models.LocalPackage, error) {
	return list[models.LocalPackage](s, bucketPackages)
}

func (s *Store) GetRepo(alias string) (*models.LocalRepo, error) {
	var repo models.LocalRepo
	if err := s.get(bucketRepos, alias, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// AddRepo stores a repository; repositories are immutable once added.
func (s *Store) AddRepo(repo *models.LocalRepo) error {
	return s.put(bucketRepos, repo.Alias, repo, true)
}

func (s *Store) ListRepos() ([]*models.LocalRepo, error) {
	return list[models.LocalRepo](s, bucketRepos)
}

func (s *Store) GetAccount(username string) (*models.LocalAccount, error) {
	var acct models.LocalAccount
	if err := s.get(bucketAccounts, username, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (s *Store) SaveAccount(acct *models.LocalAccount) error {
	return s.put(bucketAccounts, acct.Username, acct, false)
}

func (s *Store) ListAccounts() ([]*models.LocalAccount, error) {
	return list[models.LocalAccount](s, bucketAccounts)
}

func (s *Store) GetSetting(key string) (string, error) {
	var val string
	if err := s.get(bucketSettings, key, &val); err != nil {
		return "", err
	}
	return val, nil
}

func (s *Store) SetSetting(key, value string) error {
	return s.put(bucketSettings, key, value, false)
}

/**
 * Ledger of applied migrations
 * @description
 * - One nested bucket per package alias, keyed by a big-endian sequence so
 *   iteration returns migrations in application order
 */
func (s *Store) MarkMigrationApplied(alias, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketMigrations).CreateBucketIfNotExists([]byte(alias))
		if err != nil {
			return err
		}
		found := false
		_ = b.ForEach(func(_, v []byte) error {
			if string(v) == id {
				found = true
			}
			return nil
		})
		if found {
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), []byte(id))
	})
}

func (s *Store) MarkMigrationRemoved(alias, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMigrations).Bucket([]byte(alias))
		if b == nil {
			return ErrNotFound
		}
		var key []byte
		_ = b.ForEach(func(k, v []byte) error {
			if string(v) == id {
				key = append([]byte(nil), k...)
			}
			return nil
		})
		if key == nil {
			return ErrNotFound
		}
		return b.Delete(key)
	})
}

// AppliedMigrations returns the ledger of alias in application order.
func (s *Store) AppliedMigrations(alias string) ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMigrations).Bucket([]byte(alias))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			ids = append(ids, string(v))
			return nil
		})
	})
	return ids, err
}

func (s *Store) DropMigrations(alias string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketMigrations).DeleteBucket([]byte(alias))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		key[i] = byte(seq)
		seq >>= 8
	}
	return key
}

// SortPackages orders packages by alias for stable listings.
func SortPackages(pkgs []*models.LocalPackage) {
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Alias < pkgs[j].Alias })
}
