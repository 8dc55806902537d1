package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"fitchat/internal/auth"

	"go.etcd.io/bbolt"
)

var (
	bucketNodes  = []byte("nodes")
	bucketTokens = []byte("tokens")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketNodes); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketTokens); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// ReplaceSubtree removes everything stored at and below path, plus any leaf
// stored at an ancestor of path, and writes the leaves of value.
func (s *BboltStorage) ReplaceSubtree(path string, value any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)

		// An ancestor may hold a scalar that is now replaced by a map.
		segs := strings.Split(path, "/")
		for i := 1; i < len(segs); i++ {
			if err := b.Delete([]byte(strings.Join(segs[:i], "/"))); err != nil {
				return err
			}
		}

		var stale [][]byte
		c := b.Cursor()
		prefix := []byte(path + "/")
		if k, _ := c.Seek([]byte(path)); k != nil && bytes.Equal(k, []byte(path)) {
			stale = append(stale, bytes.Clone(k))
		}
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, bytes.Clone(k))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return flatten(path, value, func(leaf *DBLeaf) error {
			data, err := leaf.MarshalBinary()
			if err != nil {
				return fmt.Errorf("failed to marshal leaf %s: %w", leaf.Path, err)
			}
			return b.Put(leaf.Key(), data)
		})
	})
}

func flatten(path string, value any, put func(*DBLeaf) error) error {
	switch v := value.(type) {
	case nil:
		return nil
	case map[string]any:
		for k, child := range v {
			if err := flatten(path+"/"+k, child, put); err != nil {
				return err
			}
		}
		return nil
	default:
		return put(&DBLeaf{Path: path, Value: v})
	}
}

// LoadTree rebuilds the nested tree from the stored leaves.
func (s *BboltStorage) LoadTree() (map[string]any, error) {
	root := make(map[string]any)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			leaf := DBLeaf{Path: string(k)}
			if err := leaf.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt leaf %s: %w", string(k), err)
			}

			segs := strings.Split(leaf.Path, "/")
			cur := root
			for _, seg := range segs[:len(segs)-1] {
				next, ok := cur[seg].(map[string]any)
				if !ok {
					next = make(map[string]any)
					cur[seg] = next
				}
				cur = next
			}
			cur[segs[len(segs)-1]] = leaf.Value
			return nil
		})
	})
	return root, err
}

func (s *BboltStorage) UpsertToken(record auth.TokenRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		dbToken := &DBToken{
			Hash:      record.Hash,
			Username:  record.Username,
			ExpiresAt: record.ExpiresAt,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(hash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.Delete([]byte(hash))
	})
}

func (s *BboltStorage) ListTokens() ([]auth.TokenRecord, error) {
	var tokens []auth.TokenRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return fmt.Errorf("corrupt token %x: %w", k, err)
			}
			tokens = append(tokens, auth.TokenRecord{
				Hash:      dbToken.Hash,
				Username:  dbToken.Username,
				ExpiresAt: dbToken.ExpiresAt,
			})
			return nil
		})
	})
	return tokens, err
}
