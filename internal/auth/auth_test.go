package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/domain"
	"storefront/internal/repository"
	"storefront/internal/session"
)

func TestAuthorize(t *testing.T) {
	customer := &domain.Customer{ID: 1}
	admin := &domain.AdminGrant{UserID: 2}

	cases := []struct {
		id     Identity
		action Action
		want   error
	}{
		{Identity{}, ActionBrowseCatalog, nil},
		{Identity{}, ActionViewProduct, ErrLoginRequired},
		{Identity{}, ActionCheckout, ErrLoginRequired},
		{Identity{Admin: admin}, ActionUseCart, ErrLoginRequired},
		{Identity{Customer: customer}, ActionUseCart, nil},
		{Identity{Customer: customer}, ActionAdminister, ErrAdminRequired},
		{Identity{Admin: admin}, ActionAdminister, nil},
		{Identity{Customer: customer, Admin: admin}, ActionManageAccount, nil},
	}
	for _, c := range cases {
		assert.ErrorIs(t, Authorize(c.id, c.action), c.want, c.action.String())
		if c.want == nil {
			assert.NoError(t, Authorize(c.id, c.action), c.action.String())
		}
	}
}

func TestTokens_RoundTripAndExpiry(t *testing.T) {
	tok := NewTokens([]byte("secret"), time.Hour)
	signed, err := tok.Issue("sess-1")
	require.NoError(t, err)

	sid, err := tok.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sid)

	other := NewTokens([]byte("other"), time.Hour)
	_, err = other.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)

	tok.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = tok.Parse(signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

type fakeSender struct {
	err    error
	params map[string]string
}

func (f *fakeSender) Send(_ context.Context, _ string, params map[string]string) error {
	f.params = params
	return f.err
}

func newTestService(t *testing.T) (*Service, repository.UserRepository, *fakeSender, *session.Store) {
	t.Helper()
	users := repository.NewMemoryStore().Users()
	sender := &fakeSender{}
	svc := NewService(users, sender, nil)
	svc.code = func() (string, error) { return "1234", nil }
	return svc, users, sender, session.New(session.NewMemoryKV(), "s", nil)
}

func seedUser(t *testing.T, users repository.UserRepository, email string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := HashPassword("secret1")
	require.NoError(t, err)
	u := &domain.User{Name: "Jane", Email: email, Role: role, PasswordHash: hash}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, users, _, sess := newTestService(t)
	u := seedUser(t, users, "jane@x.com", domain.RoleCustomer)

	_, err := svc.Login(ctx, sess, "jane@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	c, err := svc.Login(ctx, sess, "jane@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, c.ID)
	got, ok := sess.Customer(ctx)
	require.True(t, ok)
	assert.Equal(t, "Jane", got.Name)

	u.Banned = true
	require.NoError(t, users.Update(ctx, u))
	_, err = svc.Login(ctx, sess, "jane@x.com", "secret1")
	assert.ErrorIs(t, err, ErrBanned)
}

func TestAdminLogin_RequiresAdminRole(t *testing.T) {
	ctx := context.Background()
	svc, users, _, sess := newTestService(t)
	seedUser(t, users, "jane@x.com", domain.RoleCustomer)
	seedUser(t, users, "boss@x.com", domain.RoleAdmin)

	_, err := svc.AdminLogin(ctx, sess, "jane@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.AdminLogin(ctx, sess, "boss@x.com", "secret1")
	require.NoError(t, err)
	id := IdentityOf(ctx, sess)
	assert.NotNil(t, id.Admin)
	assert.Nil(t, id.Customer)
}

func TestCurrent_DropsStaleIdentities(t *testing.T) {
	ctx := context.Background()
	svc, users, _, sess := newTestService(t)
	boss := seedUser(t, users, "boss@x.com", domain.RoleAdmin)
	_, err := svc.Login(ctx, sess, "boss@x.com", "secret1")
	require.NoError(t, err)
	_, err = svc.AdminLogin(ctx, sess, "boss@x.com", "secret1")
	require.NoError(t, err)

	id, err := svc.Current(ctx, sess)
	require.NoError(t, err)
	require.NotNil(t, id.Customer)
	require.NotNil(t, id.Admin)

	boss.Role = domain.RoleCustomer
	require.NoError(t, users.Update(ctx, boss))
	id, err = svc.Current(ctx, sess)
	require.NoError(t, err)
	assert.NotNil(t, id.Customer)
	assert.Nil(t, id.Admin)
	_, ok := sess.Admin(ctx)
	assert.False(t, ok, "grant kept in session")

	require.NoError(t, users.Delete(ctx, boss.ID))
	id, err = svc.Current(ctx, sess)
	require.NoError(t, err)
	assert.Nil(t, id.Customer)
	_, ok = sess.Customer(ctx)
	assert.False(t, ok)
}

func TestSignup_TwoSteps(t *testing.T) {
	ctx := context.Background()
	svc, users, sender, sess := newTestService(t)

	req := SignupRequest{Name: "Jane", Email: "jane@x.com", Password: "secret1", Confirm: "nope"}
	assert.ErrorIs(t, svc.StartSignup(ctx, sess, req), ErrPasswordMismatch)

	req.Confirm = "secret1"
	require.NoError(t, svc.StartSignup(ctx, sess, req))
	assert.Equal(t, "1234", sender.params["verification_code"])

	_, err := svc.VerifySignup(ctx, sess, "9999")
	assert.ErrorIs(t, err, ErrIncorrectCode)

	u, err := svc.VerifySignup(ctx, sess, "1234")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleCustomer, u.Role)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	stored, err := users.GetByEmail(ctx, "jane@x.com")
	require.NoError(t, err)
	assert.True(t, CheckPassword(stored.PasswordHash, "secret1"))

	_, err = svc.VerifySignup(ctx, sess, "1234")
	assert.ErrorIs(t, err, ErrNoPendingSignup)
}

func TestSignup_SendFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	svc, users, sender, sess := newTestService(t)
	sender.err = errors.New("smtp down")

	req := SignupRequest{Name: "Jane", Email: "jane@x.com", Password: "secret1", Confirm: "secret1"}
	assert.ErrorIs(t, svc.StartSignup(ctx, sess, req), ErrNotificationFailed)
	_, err := svc.VerifySignup(ctx, sess, "1234")
	assert.ErrorIs(t, err, ErrNoPendingSignup)
	list, _ := users.List(ctx)
	assert.Empty(t, list)

	sender.err = nil
	require.NoError(t, svc.StartSignup(ctx, sess, req))
}

func TestSignup_CodeExpires(t *testing.T) {
	ctx := context.Background()
	svc, _, _, sess := newTestService(t)
	req := SignupRequest{Name: "Jane", Email: "jane@x.com", Password: "secret1", Confirm: "secret1"}
	require.NoError(t, svc.StartSignup(ctx, sess, req))

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := svc.VerifySignup(ctx, sess, "1234")
	assert.ErrorIs(t, err, ErrNoPendingSignup)
}

func TestSignup_WrongCodesDiscardPendingSignup(t *testing.T) {
	ctx := context.Background()
	svc, users, _, sess := newTestService(t)
	req := SignupRequest{Name: "Jane", Email: "jane@x.com", Password: "secret1", Confirm: "secret1"}
	require.NoError(t, svc.StartSignup(ctx, sess, req))

	for i := 1; i < maxCodeAttempts; i++ {
		_, err := svc.VerifySignup(ctx, sess, "0000")
		assert.ErrorIs(t, err, ErrIncorrectCode, "attempt %d", i)
	}
	_, err := svc.VerifySignup(ctx, sess, "0000")
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	_, err = svc.VerifySignup(ctx, sess, "1234")
	assert.ErrorIs(t, err, ErrNoPendingSignup)
	_, err = users.GetByEmail(ctx, "jane@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, users, _, _ := newTestService(t)
	u := seedUser(t, users, "jane@x.com", domain.RoleCustomer)

	err := svc.ChangePassword(ctx, u.ID, PasswordChange{Current: "secret1", New: "abcdef", Confirm: "abcdeg"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	err = svc.ChangePassword(ctx, u.ID, PasswordChange{Current: "secret1", New: "abc", Confirm: "abc"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	err = svc.ChangePassword(ctx, u.ID, PasswordChange{Current: "bad", New: "abcdef", Confirm: "abcdef"})
	assert.ErrorIs(t, err, ErrWrongPassword)

	require.NoError(t, svc.ChangePassword(ctx, u.ID, PasswordChange{Current: "secret1", New: "abcdef", Confirm: "abcdef"}))
	stored, _ := users.GetByID(ctx, u.ID)
	assert.True(t, CheckPassword(stored.PasswordHash, "abcdef"))
}

func TestUpdateProfile_RefreshesSession(t *testing.T) {
	ctx := context.Background()
	svc, users, _, sess := newTestService(t)
	u := seedUser(t, users, "jane@x.com", domain.RoleCustomer)
	seedUser(t, users, "taken@x.com", domain.RoleCustomer)

	_, err := svc.UpdateProfile(ctx, sess, u.ID, ProfileUpdate{Name: "Jane D", Email: "taken@x.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = svc.UpdateProfile(ctx, sess, u.ID, ProfileUpdate{Name: "Jane D", Email: "jane@x.com", Address: "1 Road"})
	require.NoError(t, err)
	c, ok := sess.Customer(ctx)
	require.True(t, ok)
	assert.Equal(t, "Jane D", c.Name)
}
