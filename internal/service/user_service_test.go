package service

import (
	"context"
	"errors"
	"testing"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

func TestUser_CreateHashesPassword(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u, err := f.users.Create(ctx, UserInput{Name: "Admin", Email: "admin@shop.so", Role: domain.RoleAdmin, Password: "hunter22"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.PasswordHash == "" || u.PasswordHash == "hunter22" {
		t.Fatalf("password stored in the clear")
	}
	if !auth.CheckPassword(u.PasswordHash, "hunter22") {
		t.Fatalf("hash does not verify")
	}
}

func TestUser_CreateInvalid(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	cases := []UserInput{
		{Name: "", Email: "a@x.com", Role: domain.RoleCustomer, Password: "secret1"},
		{Name: "A", Email: "not-an-email", Role: domain.RoleCustomer, Password: "secret1"},
		{Name: "A", Email: "a@x.com", Role: "owner", Password: "secret1"},
		{Name: "A", Email: "a@x.com", Role: domain.RoleCustomer, Password: "123"},
		{Name: "A", Email: "a@x.com", Role: domain.RoleCustomer},
	}
	for i, in := range cases {
		if _, err := f.users.Create(ctx, in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestUser_UpdateDeleteBan(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	u, _ := f.users.Create(ctx, UserInput{Name: "A", Email: "a@x.com", Role: domain.RoleCustomer, Password: "secret1"})
	other, _ := f.users.Create(ctx, UserInput{Name: "B", Email: "b@x.com", Role: domain.RoleCustomer, Password: "secret1"})

	up, err := f.users.Update(ctx, u.ID, UserInput{Name: "A2", Email: "a2@x.com", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.Name != "A2" || up.Role != domain.RoleAdmin || up.PasswordHash != u.PasswordHash {
		t.Fatalf("unexpected update result: %+v", up)
	}
	if _, err := f.users.Update(ctx, u.ID, UserInput{Name: "A2", Email: "B@x.com", Role: domain.RoleAdmin}); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict on taken email, got %v", err)
	}

	banned, err := f.users.ToggleBan(ctx, other.ID)
	if err != nil || !banned.Banned {
		t.Fatalf("ban: %v %+v", err, banned)
	}
	unbanned, _ := f.users.ToggleBan(ctx, other.ID)
	if unbanned.Banned {
		t.Fatalf("expected unbanned")
	}

	if err := f.users.Delete(ctx, other.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := f.users.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one user left, got %d", len(list))
	}
	if _, err := f.users.ToggleBan(ctx, other.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
