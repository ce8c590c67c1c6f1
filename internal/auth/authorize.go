// Package auth decides who may do what and manages the credentials behind it.
package auth

import (
	"context"
	"errors"
	"fmt"

	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/session"
)

var (
	ErrLoginRequired = errors.New("login required")
	ErrAdminRequired = errors.New("admin access required")
)

// Identity is what a session proves about its holder. Customer and Admin are
// independent: either, both or neither may be present.
type Identity struct {
	Customer *domain.Customer
	Admin    *domain.AdminGrant
}

// IdentityOf reads both identities from the session.
func IdentityOf(ctx context.Context, s *session.Store) Identity {
	var id Identity
	if c, ok := s.Customer(ctx); ok {
		id.Customer = &c
	}
	if g, ok := s.Admin(ctx); ok {
		id.Admin = &g
	}
	return id
}

// Current is IdentityOf checked against the user table. An identity whose
// user is gone or banned is dropped from the session, and so is an admin
// grant whose user no longer has the admin role.
func (s *Service) Current(ctx context.Context, sess *session.Store) (Identity, error) {
	id := IdentityOf(ctx, sess)
	if id.Customer != nil {
		ok, err := s.active(ctx, id.Customer.ID, false)
		if err != nil {
			return Identity{}, err
		}
		if !ok {
			s.log.InfoContext(ctx, "customer identity revoked", "user_id", id.Customer.ID)
			id.Customer = nil
			if err := sess.ClearCustomer(ctx); err != nil {
				return Identity{}, err
			}
		}
	}
	if id.Admin != nil {
		ok, err := s.active(ctx, id.Admin.UserID, true)
		if err != nil {
			return Identity{}, err
		}
		if !ok {
			s.log.InfoContext(ctx, "admin grant revoked", "user_id", id.Admin.UserID)
			id.Admin = nil
			if err := sess.ClearAdmin(ctx); err != nil {
				return Identity{}, err
			}
		}
	}
	return id, nil
}

func (s *Service) active(ctx context.Context, userID int64, admin bool) (bool, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load user %d: %w", userID, err)
	}
	if u.Banned {
		return false, nil
	}
	return !admin || u.Role == domain.RoleAdmin, nil
}

type Action int

const (
	ActionBrowseCatalog Action = iota
	ActionViewProduct
	ActionUseCart
	ActionCheckout
	ActionManageAccount
	ActionAdminister
)

func (a Action) String() string {
	switch a {
	case ActionBrowseCatalog:
		return "browse-catalog"
	case ActionViewProduct:
		return "view-product"
	case ActionUseCart:
		return "use-cart"
	case ActionCheckout:
		return "checkout"
	case ActionManageAccount:
		return "manage-account"
	case ActionAdminister:
		return "administer"
	}
	return "unknown"
}

// Authorize is the single capability check. It returns nil when id may
// perform action, ErrLoginRequired or ErrAdminRequired otherwise.
func Authorize(id Identity, action Action) error {
	switch action {
	case ActionBrowseCatalog:
		return nil
	case ActionViewProduct, ActionUseCart, ActionCheckout, ActionManageAccount:
		if id.Customer == nil {
			return ErrLoginRequired
		}
		return nil
	case ActionAdminister:
		if id.Admin == nil {
			return ErrAdminRequired
		}
		return nil
	}
	return ErrAdminRequired
}
