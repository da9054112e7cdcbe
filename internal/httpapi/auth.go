package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"washpoint/backend/internal/domain"
	"washpoint/backend/internal/store"
)

const (
	tokenIssuer = "washpoint"
	roleCashier = "cashier"
	roleAdmin   = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and verifies HS256 access tokens for cashier and admin
// accounts. Accounts are cached in memory and refreshed from the store.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	accounts UserStore

	mu    sync.RWMutex
	cache map[string]domain.UserAccount
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, accounts UserStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
		cache:    map[string]domain.UserAccount{},
	}
	a.reload(ctx)
	return a
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (a *AuthManager) account(username string) (domain.UserAccount, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.cache[username]
	return acct, ok
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.reload(ctx)
	username := normalizeUsername(req.Username)
	acct, ok := a.account(username)
	if !ok || !passwordMatches(acct.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !acct.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	signed, err := a.sign(username, acct.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{AccessToken: signed, Role: acct.Role, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims staffClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, fmt.Errorf("invalid or expired token: %w", err)
	}
	if claims.Subject == "" {
		return domain.Actor{}, errors.New("token has no subject")
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: role,
	}).SignedString(a.secret)
}

// CreateCashier registers a new cashier account. Validation failures wrap
// store.ErrInvalidTransaction and a taken username wraps store.ErrDuplicate.
func (a *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	a.reload(ctx)
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.CashierUser{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidTransaction)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.CashierUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidTransaction)
	case len(strings.TrimSpace(req.Password)) < 6:
		return domain.CashierUser{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidTransaction)
	}
	if _, taken := a.account(username); taken {
		return domain.CashierUser{}, fmt.Errorf("%w: username already exists", store.ErrDuplicate)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	acct := domain.UserAccount{
		Username:  username,
		Password:  string(hashed),
		Role:      roleCashier,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.accounts != nil {
		if err := a.accounts.CreateUser(ctx, acct); err != nil {
			return domain.CashierUser{}, err
		}
	}

	a.mu.Lock()
	a.cache[username] = acct
	a.mu.Unlock()
	return cashierView(acct), nil
}

func (a *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	a.reload(ctx)
	a.mu.RLock()
	out := make([]domain.CashierUser, 0, len(a.cache))
	for _, acct := range a.cache {
		if acct.Role == roleCashier {
			out = append(out, cashierView(acct))
		}
	}
	a.mu.RUnlock()
	slices.SortFunc(out, func(x, y domain.CashierUser) int { return strings.Compare(x.Username, y.Username) })
	return out
}

func cashierView(acct domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{Username: acct.Username, Role: acct.Role, Active: acct.Active, CreatedAt: acct.CreatedAt}
}

// reload refreshes the account cache from the store. Accounts seeded with a
// plain-text password are rehashed with bcrypt and written back.
func (a *AuthManager) reload(ctx context.Context) {
	if a.accounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	stored, err := a.accounts.ListUsers(ctx)
	if err != nil {
		slog.WarnContext(ctx, "load user accounts failed", "error", err)
		return
	}

	fresh := make(map[string]domain.UserAccount, len(stored))
	for _, acct := range stored {
		acct.Username = normalizeUsername(acct.Username)
		if acct.Username == "" {
			continue
		}
		if !bcryptHash(acct.Password) {
			hashed, err := bcrypt.GenerateFromPassword([]byte(acct.Password), bcrypt.DefaultCost)
			if err != nil {
				continue
			}
			acct.Password = string(hashed)
			if err := a.accounts.UpdateUserPassword(ctx, acct.Username, acct.Password); err != nil {
				slog.WarnContext(ctx, "upgrade password hash failed", "username", acct.Username, "error", err)
			}
		}
		fresh[acct.Username] = acct
	}

	a.mu.Lock()
	for username, acct := range fresh {
		a.cache[username] = acct
	}
	a.mu.Unlock()
}

func passwordMatches(stored, input string) bool {
	if strings.TrimSpace(input) == "" || !bcryptHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func bcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
