// Package session holds per-shopper state: identity, admin grant, cart,
// checkout draft and preference blobs. Every value is JSON under a key scoped
// to one session id. Absent or corrupt values read as defaults.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"storefront/internal/domain"
)

const (
	keyCustomer = "customer"
	keyAdmin    = "admin"
	keyCart     = "cart"
)

// SettingsKind names one preference blob.
type SettingsKind string

const (
	NotificationSettings SettingsKind = "notificationSettings"
	SecuritySettings     SettingsKind = "securitySettings"
	AppearanceSettings   SettingsKind = "appearanceSettings"
	GeneralSettings      SettingsKind = "generalSettings"
	StoreSettings        SettingsKind = "storeSettings"
)

var ErrUnknownSettings = errors.New("unknown settings kind")

// defaults returns a pointer to the default value of the blob.
func (k SettingsKind) defaults() (any, error) {
	switch k {
	case NotificationSettings:
		v := domain.DefaultNotificationSettings()
		return &v, nil
	case SecuritySettings:
		v := domain.DefaultSecuritySettings()
		return &v, nil
	case AppearanceSettings:
		v := domain.DefaultAppearanceSettings()
		return &v, nil
	case GeneralSettings:
		v := domain.DefaultGeneralSettings()
		return &v, nil
	case StoreSettings:
		v := domain.DefaultStoreSettings()
		return &v, nil
	}
	return nil, ErrUnknownSettings
}

// ShopWide reports whether the blob is shared by every session rather than
// owned by one shopper.
func (k SettingsKind) ShopWide() bool { return k == StoreSettings }

// NewID returns a fresh random session id.
func NewID() string { return uuid.NewString() }

// Store is the explicit session object handed to cart, checkout and auth.
type Store struct {
	kv  KV
	id  string
	log *slog.Logger
}

func New(kv KV, id string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, id: id, log: log.With("session", id)}
}

func (s *Store) ID() string { return s.id }

func (s *Store) key(name string) string { return "session/" + s.id + "/" + name }

// Load decodes the value stored under name into dst. It reports false when
// the value is absent, unreadable or corrupt.
func (s *Store) Load(ctx context.Context, name string, dst any) bool {
	raw, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		s.log.Warn("session read failed, using defaults", "key", name, "err", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.Warn("corrupt session value, using defaults", "key", name, "err", err)
		return false
	}
	return true
}

func (s *Store) Save(ctx context.Context, name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := s.kv.Set(ctx, s.key(name), raw); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Swap saves v under name only if the stored value still encodes the same as
// old. A nil old means the value must be absent. It reports whether v was
// saved.
func (s *Store) Swap(ctx context.Context, name string, old, v any) (bool, error) {
	var prev []byte
	if old != nil {
		raw, err := json.Marshal(old)
		if err != nil {
			return false, fmt.Errorf("encode %s: %w", name, err)
		}
		prev = raw
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", name, err)
	}
	ok, err := s.kv.CompareAndSwap(ctx, s.key(name), prev, raw)
	if err != nil {
		return false, fmt.Errorf("swap %s: %w", name, err)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.kv.Delete(ctx, s.key(name)); err != nil {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (s *Store) Customer(ctx context.Context) (domain.Customer, bool) {
	var c domain.Customer
	if !s.Load(ctx, keyCustomer, &c) || c.ID == 0 {
		return domain.Customer{}, false
	}
	return c, true
}

func (s *Store) SetCustomer(ctx context.Context, c domain.Customer) error {
	return s.Save(ctx, keyCustomer, c)
}

func (s *Store) ClearCustomer(ctx context.Context) error { return s.Delete(ctx, keyCustomer) }

func (s *Store) Admin(ctx context.Context) (domain.AdminGrant, bool) {
	var g domain.AdminGrant
	if !s.Load(ctx, keyAdmin, &g) || g.UserID == 0 {
		return domain.AdminGrant{}, false
	}
	return g, true
}

func (s *Store) SetAdmin(ctx context.Context, g domain.AdminGrant) error {
	return s.Save(ctx, keyAdmin, g)
}

func (s *Store) ClearAdmin(ctx context.Context) error { return s.Delete(ctx, keyAdmin) }

// CartLines returns the persisted cart, or nil when absent or corrupt.
func (s *Store) CartLines(ctx context.Context) []domain.CartLine {
	var lines []domain.CartLine
	if !s.Load(ctx, keyCart, &lines) {
		return nil
	}
	return lines
}

func (s *Store) SaveCart(ctx context.Context, lines []domain.CartLine) error {
	if len(lines) == 0 {
		return s.Delete(ctx, keyCart)
	}
	return s.Save(ctx, keyCart, lines)
}

// Settings returns a pointer to the typed blob, merged over its defaults.
func (s *Store) Settings(ctx context.Context, kind SettingsKind) (any, error) {
	v, err := kind.defaults()
	if err != nil {
		return nil, err
	}
	s.Load(ctx, "settings/"+string(kind), v)
	return v, nil
}

// SetSettings validates raw against the blob's shape before saving it.
func (s *Store) SetSettings(ctx context.Context, kind SettingsKind, raw json.RawMessage) (any, error) {
	v, err := kind.defaults()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	if err := s.Save(ctx, "settings/"+string(kind), v); err != nil {
		return nil, err
	}
	return v, nil
}
