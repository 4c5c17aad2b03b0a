package profile

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	// SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// ErrCacheMiss is returned by Load when nothing has been cached yet.
var ErrCacheMiss = errors.New("profile cache empty")

// ErrCacheKey is returned when the cached profile cannot be opened with the passphrase.
var ErrCacheKey = errors.New("profile cache passphrase mismatch")

const cacheSchema = `
CREATE TABLE IF NOT EXISTS profile_cache (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	salt BLOB NOT NULL,
	nonce BLOB NOT NULL,
	sealed BLOB NOT NULL,
	fetched_at INTEGER NOT NULL
);
`

const (
	saltSize = 16
	keySize  = 32
)

// EncryptedCache keeps one encrypted copy of the profile in a SQLite file.
// The key is derived from the passphrase with argon2id; each save uses a new salt and nonce.
type EncryptedCache struct {
	db         *sql.DB
	passphrase []byte
}

// OpenCache opens (or creates) the cache database at path.
func OpenCache(ctx context.Context, path, passphrase string) (*EncryptedCache, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("profile cache requires a passphrase")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open profile cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize profile cache: %w", err)
	}
	return &EncryptedCache{db: db, passphrase: []byte(passphrase)}, nil
}

// Close closes the underlying database.
func (c *EncryptedCache) Close() error {
	return c.db.Close()
}

// Save seals and stores p, replacing any previous copy.
func (c *EncryptedCache) Save(ctx context.Context, p *Profile) error {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	key := c.deriveKey(salt)
	sealed := secretbox.Seal(nil, p.Raw(), &nonce, &key)

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO profile_cache (id, salt, nonce, sealed, fetched_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			salt = excluded.salt,
			nonce = excluded.nonce,
			sealed = excluded.sealed,
			fetched_at = excluded.fetched_at`,
		salt, nonce[:], sealed, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save profile cache: %w", err)
	}
	return nil
}

// Load opens the cached profile and returns it with the time it was saved.
func (c *EncryptedCache) Load(ctx context.Context) (*Profile, time.Time, error) {
	var salt, nonceBytes, sealed []byte
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT salt, nonce, sealed, fetched_at FROM profile_cache WHERE id = 1`,
	).Scan(&salt, &nonceBytes, &sealed, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to read profile cache: %w", err)
	}
	if len(nonceBytes) != 24 {
		return nil, time.Time{}, fmt.Errorf("corrupt profile cache: nonce length %d", len(nonceBytes))
	}

	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	key := c.deriveKey(salt)
	plain, ok := secretbox.Open(nil, sealed, &nonce, &key)
	if !ok {
		return nil, time.Time{}, ErrCacheKey
	}
	p, err := New(plain)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("corrupt profile cache: %w", err)
	}
	return p, time.Unix(fetchedAt, 0), nil
}

// Clear removes the cached copy.
func (c *EncryptedCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM profile_cache`); err != nil {
		return fmt.Errorf("failed to clear profile cache: %w", err)
	}
	return nil
}

func (c *EncryptedCache) deriveKey(salt []byte) [keySize]byte {
	var key [keySize]byte
	copy(key[:], argon2.IDKey(c.passphrase, salt, 1, 64*1024, 4, keySize))
	return key
}
