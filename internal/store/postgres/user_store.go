package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// UserStore implements domain.UserStore. Wallet address is the primary
// key; identity is optional (wallet-only users) but unique when present.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userSelectCols = `wallet_address, COALESCE(identity, ''), name, password_hash,
	latitude, longitude, location_token, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.WalletAddress, &u.Identity, &u.Name, &u.PasswordHash,
		&u.Latitude, &u.Longitude, &u.LocationToken, &u.CreatedAt, &u.UpdatedAt,
	)
	return u, err
}

// Create inserts a new user.
func (s *UserStore) Create(ctx context.Context, u domain.User) error {
	const query = `
		INSERT INTO users (
			wallet_address, identity, name, password_hash,
			latitude, longitude, location_token
		) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		u.WalletAddress, u.Identity, u.Name, u.PasswordHash,
		u.Latitude, u.Longitude, u.LocationToken,
	)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if constraint == "users_identity_key" {
				return domain.ErrDuplicateIdentity
			}
			return domain.ErrDuplicateWallet
		}
		return fmt.Errorf("postgres: create user %s: %w", u.WalletAddress, err)
	}
	return nil
}

// GetByWallet returns the user registered under wallet.
func (s *UserStore) GetByWallet(ctx context.Context, wallet string) (domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE wallet_address = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, wallet))
	if err != nil {
		if isNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by wallet %s: %w", wallet, err)
	}
	return u, nil
}

// GetByIdentity returns the user registered under identity.
func (s *UserStore) GetByIdentity(ctx context.Context, identity string) (domain.User, error) {
	query := `SELECT ` + userSelectCols + ` FROM users WHERE identity = $1`
	u, err := scanUser(s.pool.QueryRow(ctx, query, identity))
	if err != nil {
		if isNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user by identity: %w", err)
	}
	return u, nil
}

// UpdateLocation moves a user and returns the updated row.
func (s *UserStore) UpdateLocation(ctx context.Context, wallet string, lat, lon float64, token string) (domain.User, error) {
	query := `
		UPDATE users
		SET latitude = $2, longitude = $3, location_token = $4, updated_at = NOW()
		WHERE wallet_address = $1
		RETURNING ` + userSelectCols

	u, err := scanUser(s.pool.QueryRow(ctx, query, wallet, lat, lon, token))
	if err != nil {
		if isNoRows(err) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: update location %s: %w", wallet, err)
	}
	return u, nil
}

var _ domain.UserStore = (*UserStore)(nil)
