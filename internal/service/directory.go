package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/bcrypt"

	"github.com/alanyoungcy/geomarket/internal/domain"
	"github.com/alanyoungcy/geomarket/internal/geo"
)

// Registration is the input of DirectoryService.Register.
type Registration struct {
	Name          string
	Identity      string
	Password      string
	WalletAddress string
	Latitude      float64
	Longitude     float64
}

// DirectoryService manages located identities. Wallet addresses are stored
// in EIP-55 checksum form and location tokens are recomputed on every
// location change.
type DirectoryService struct {
	users     domain.UserStore
	precision int
	cost      int
	logger    *slog.Logger
}

// NewDirectoryService creates a DirectoryService. precision is the location
// token length; cost is the bcrypt cost.
func NewDirectoryService(users domain.UserStore, precision, cost int, logger *slog.Logger) *DirectoryService {
	if precision <= 0 {
		precision = geo.DefaultPrecision
	}
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &DirectoryService{
		users:     users,
		precision: precision,
		cost:      cost,
		logger:    logger.With(slog.String("component", "directory")),
	}
}

// NormalizeWallet validates a hex address and returns its checksum form.
func NormalizeWallet(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", domain.ErrValidation, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", domain.ErrValidation, lon)
	}
	return nil
}

// Register creates a user with a bcrypt password hash.
func (d *DirectoryService) Register(ctx context.Context, r Registration) (domain.User, error) {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"name", r.Name},
		{"identity", r.Identity},
		{"password", r.Password},
		{"walletAddress", r.WalletAddress},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return domain.User{}, fmt.Errorf("directory: register: %w: missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	wallet, err := NormalizeWallet(r.WalletAddress)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: register: %w", err)
	}
	if err := validateCoordinates(r.Latitude, r.Longitude); err != nil {
		return domain.User{}, fmt.Errorf("directory: register: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), d.cost)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: register: hash password: %w", err)
	}

	u := domain.User{
		Identity:      strings.TrimSpace(r.Identity),
		Name:          strings.TrimSpace(r.Name),
		WalletAddress: wallet,
		Latitude:      r.Latitude,
		Longitude:     r.Longitude,
		LocationToken: geo.Encode(r.Latitude, r.Longitude, d.precision),
		PasswordHash:  string(hash),
	}
	if err := d.users.Create(ctx, u); err != nil {
		return domain.User{}, fmt.Errorf("directory: register: %w", err)
	}
	d.logger.InfoContext(ctx, "directory: user registered",
		slog.String("wallet", wallet),
		slog.String("location_token", u.LocationToken),
	)
	return d.users.GetByWallet(ctx, wallet)
}

// Login checks identity and password. Unknown identities and wrong
// passwords both fail with domain.ErrInvalidCredentials.
func (d *DirectoryService) Login(ctx context.Context, identity, password string) (domain.User, error) {
	if identity == "" || password == "" {
		return domain.User{}, fmt.Errorf("directory: login: %w: identity and password required", domain.ErrValidation)
	}
	u, err := d.users.GetByIdentity(ctx, identity)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("directory: login: %w", domain.ErrInvalidCredentials)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: login: %w", err)
	}
	if u.PasswordHash == "" || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, fmt.Errorf("directory: login: %w", domain.ErrInvalidCredentials)
	}
	return u, nil
}

// WalletLogin returns the user for wallet, creating a wallet-only user at
// the given coordinates on first contact.
func (d *DirectoryService) WalletLogin(ctx context.Context, walletAddr string, lat, lon float64) (domain.User, error) {
	wallet, err := NormalizeWallet(walletAddr)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: wallet login: %w", err)
	}
	u, err := d.users.GetByWallet(ctx, wallet)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, fmt.Errorf("directory: wallet login: %w", err)
	}
	if err := validateCoordinates(lat, lon); err != nil {
		return domain.User{}, fmt.Errorf("directory: wallet login: %w", err)
	}
	u = domain.User{
		WalletAddress: wallet,
		Latitude:      lat,
		Longitude:     lon,
		LocationToken: geo.Encode(lat, lon, d.precision),
	}
	if err := d.users.Create(ctx, u); err != nil {
		// Another request may have created it first.
		if errors.Is(err, domain.ErrDuplicateWallet) {
			return d.users.GetByWallet(ctx, wallet)
		}
		return domain.User{}, fmt.Errorf("directory: wallet login: %w", err)
	}
	d.logger.InfoContext(ctx, "directory: wallet user created", slog.String("wallet", wallet))
	return d.users.GetByWallet(ctx, wallet)
}

// UpdateLocation moves a user and recomputes the location token.
func (d *DirectoryService) UpdateLocation(ctx context.Context, walletAddr string, lat, lon float64) (domain.User, error) {
	wallet, err := NormalizeWallet(walletAddr)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: update location: %w", err)
	}
	if err := validateCoordinates(lat, lon); err != nil {
		return domain.User{}, fmt.Errorf("directory: update location: %w", err)
	}
	u, err := d.users.UpdateLocation(ctx, wallet, lat, lon, geo.Encode(lat, lon, d.precision))
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: update location: %w", err)
	}
	return u, nil
}

// Get returns the user for a wallet address. A malformed address cannot
// belong to a registered user and is reported as domain.ErrUserNotFound.
func (d *DirectoryService) Get(ctx context.Context, walletAddr string) (domain.User, error) {
	wallet, err := NormalizeWallet(walletAddr)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: get %q: %w", walletAddr, domain.ErrUserNotFound)
	}
	u, err := d.users.GetByWallet(ctx, wallet)
	if err != nil {
		return domain.User{}, fmt.Errorf("directory: get: %w", err)
	}
	return u, nil
}
