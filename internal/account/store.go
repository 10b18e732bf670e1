package account

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// Store provides database operations for accounts. It implements the
// orchestrator's balance service.
type Store struct {
	pool *pgxpool.Pool
	// now is swappable for refill tests.
	now func() time.Time
}

// NewStore creates a new account store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

const accountColumns = `id, email, password_hash, name, key_hash, key_prefix,
	sparks, refill_count, last_refill_at, created_at`

func scanAccount(scan func(dest ...any) error) (*Account, error) {
	a := &Account{}
	err := scan(&a.ID, &a.Email, &a.PasswordHash, &a.Name, &a.KeyHash, &a.KeyPrefix,
		&a.Sparks, &a.RefillCount, &a.LastRefillAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new account with a bcrypt-hashed password and the starting
// spark balance.
func (s *Store) Create(ctx context.Context, in CreateInput, startingSparks float64) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`INSERT INTO accounts (email, password_hash, name, key_hash, key_prefix, sparks)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+accountColumns,
			in.Email, string(hash), in.Name, in.KeyHash, in.KeyPrefix, startingSparks,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return a, nil
}

// GetByID retrieves an account by primary key.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting account by id: %w", err)
	}
	return a, nil
}

// GetByEmail retrieves an account by email address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*Account, error) {
	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting account by email: %w", err)
	}
	return a, nil
}

// GetByKeyHash retrieves an account by the SHA-256 hash of its API key.
func (s *Store) GetByKeyHash(ctx context.Context, hash string) (*Account, error) {
	a, err := scanAccount(func(dest ...any) error {
		return s.pool.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM accounts WHERE key_hash = $1`, hash,
		).Scan(dest...)
	})
	if err != nil {
		return nil, fmt.Errorf("getting account by key hash: %w", err)
	}
	return a, nil
}

// Balance returns the account's spark balance, applying a due daily refill
// first. The refill update is conditional so concurrent readers grant it at
// most once per window.
func (s *Store) Balance(ctx context.Context, id string) (float64, error) {
	a, err := s.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}

	now := s.now().UTC()
	grant, due := NextRefill(a.RefillCount, a.LastRefillAt, now)
	if !due {
		return a.Sparks, nil
	}

	var sparks float64
	err = s.pool.QueryRow(ctx,
		`UPDATE accounts
		 SET sparks = sparks + $2, refill_count = refill_count + 1, last_refill_at = $3
		 WHERE id = $1 AND refill_count = $4
		 RETURNING sparks`,
		id, grant, now, a.RefillCount,
	).Scan(&sparks)
	if err != nil {
		// A concurrent reader won the refill; re-read the balance.
		a, rerr := s.GetByID(ctx, id)
		if rerr != nil {
			return 0, fmt.Errorf("applying refill: %w", err)
		}
		return a.Sparks, nil
	}
	return sparks, nil
}

// Deduct subtracts sparks from the balance, clamping at zero, and returns the
// remaining balance.
func (s *Store) Deduct(ctx context.Context, id string, sparks float64) (float64, error) {
	var remaining float64
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET sparks = GREATEST(sparks - $2, 0)
		 WHERE id = $1 RETURNING sparks`,
		id, sparks,
	).Scan(&remaining)
	if err != nil {
		return 0, fmt.Errorf("deducting sparks: %w", err)
	}
	return remaining, nil
}

// CheckPassword verifies a plaintext password against the account's stored
// hash.
func CheckPassword(a *Account, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) == nil
}
