package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KVSet stores or replaces a key/value pair.
func (q *Queries) KVSet(key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := q.Exec("kv-upsert", key, value, now); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

// KVGet returns the value for key. The second return is false when the key
// is absent, distinguishing a missing key from a storage failure.
func (q *Queries) KVGet(key string) (string, bool, error) {
	var value string
	err := q.Get("kv-get", &value, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

// KVDelete removes a key. Deleting an absent key is not an error.
func (q *Queries) KVDelete(key string) error {
	if _, err := q.Exec("kv-delete", key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}
