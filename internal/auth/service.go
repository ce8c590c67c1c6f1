package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
	"storefront/internal/notify"
	"storefront/internal/repository"
	"storefront/internal/session"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("incorrect email or password")
	ErrBanned             = errors.New("account is banned")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNoPendingSignup    = errors.New("no signup in progress")
	ErrIncorrectCode      = errors.New("incorrect code")
	ErrTooManyAttempts    = errors.New("too many incorrect codes, sign up again")
	// ErrNotificationFailed is retryable; the signup stays in its first step.
	ErrNotificationFailed = errors.New("failed to send verification email")
)

const (
	keySignup     = "signup"
	signupCodeTTL = 15 * time.Minute
	// maxCodeAttempts wrong codes discard the pending signup.
	maxCodeAttempts = 5
	WelcomeMessage  = "Welcome to Hanad Shopping Center!"
)

func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func CheckPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// pendingSignup is kept in the session between the two signup steps.
type pendingSignup struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
	Attempts     int       `json:"attempts,omitempty"`
}

type SignupRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Confirm  string `json:"confirm" validate:"required"`
}

type PasswordChange struct {
	Current string `json:"currentPassword" validate:"required"`
	New     string `json:"newPassword" validate:"required,min=6"`
	Confirm string `json:"confirmPassword" validate:"required"`
}

type ProfileUpdate struct {
	Name    string `json:"name" validate:"required,max=100"`
	Email   string `json:"email" validate:"required,email"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Address string `json:"address" validate:"omitempty,max=300"`
}

// Service runs login, signup and account self-service against the user table.
type Service struct {
	users    repository.UserRepository
	sender   notify.Sender
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
	code     func() (string, error)
}

func NewService(users repository.UserRepository, sender notify.Sender, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		users:    users,
		sender:   sender,
		validate: validator.New(),
		log:      log,
		now:      time.Now,
		code:     fourDigitCode,
	}
}

func fourDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", 1000+n.Int64()), nil
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	u, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if u.Banned {
		return nil, ErrBanned
	}
	return u, nil
}

// Login stores the customer identity in the session.
func (s *Service) Login(ctx context.Context, sess *session.Store, email, password string) (domain.Customer, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return domain.Customer{}, err
	}
	c := domain.Customer{ID: u.ID, Name: u.Name, Email: u.Email}
	if err := sess.SetCustomer(ctx, c); err != nil {
		return domain.Customer{}, err
	}
	s.log.InfoContext(ctx, "customer logged in", "user_id", u.ID)
	return c, nil
}

func (s *Service) Logout(ctx context.Context, sess *session.Store) error {
	return sess.ClearCustomer(ctx)
}

// AdminLogin grants admin capability only to users whose stored role is admin.
// It does not touch the customer identity.
func (s *Service) AdminLogin(ctx context.Context, sess *session.Store, email, password string) (domain.AdminGrant, error) {
	u, err := s.authenticate(ctx, email, password)
	if err != nil {
		return domain.AdminGrant{}, err
	}
	if u.Role != domain.RoleAdmin {
		return domain.AdminGrant{}, ErrInvalidCredentials
	}
	g := domain.AdminGrant{UserID: u.ID, Email: u.Email}
	if err := sess.SetAdmin(ctx, g); err != nil {
		return domain.AdminGrant{}, err
	}
	s.log.InfoContext(ctx, "admin logged in", "user_id", u.ID)
	return g, nil
}

func (s *Service) AdminLogout(ctx context.Context, sess *session.Store) error {
	return sess.ClearAdmin(ctx)
}

// StartSignup validates the form, emails a 4-digit code and parks the
// pending account in the session until VerifySignup.
func (s *Service) StartSignup(ctx context.Context, sess *session.Store, req SignupRequest) error {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		return err
	}
	if req.Password != req.Confirm {
		return ErrPasswordMismatch
	}
	if _, err := s.users.GetByEmail(ctx, req.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check email: %w", err)
	}

	code, err := s.code()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return err
	}
	err = s.sender.Send(ctx, notify.TemplateSignupVerification, map[string]string{
		notify.ParamName:    req.Name,
		notify.ParamEmail:   req.Email,
		notify.ParamCode:    code,
		notify.ParamMessage: WelcomeMessage,
	})
	if err != nil {
		s.log.WarnContext(ctx, "verification email failed", "err", err)
		return fmt.Errorf("%w: %w", ErrNotificationFailed, err)
	}
	return sess.Save(ctx, keySignup, pendingSignup{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Code:         code,
		ExpiresAt:    s.now().Add(signupCodeTTL),
	})
}

// VerifySignup creates the account when code matches the emailed one. The
// shopper still has to log in afterwards.
func (s *Service) VerifySignup(ctx context.Context, sess *session.Store, code string) (*domain.User, error) {
	var p pendingSignup
	if !sess.Load(ctx, keySignup, &p) || p.Email == "" {
		return nil, ErrNoPendingSignup
	}
	if s.now().After(p.ExpiresAt) {
		_ = sess.Delete(ctx, keySignup)
		return nil, ErrNoPendingSignup
	}
	// the attempt is counted before the code is compared, so parallel
	// guesses cannot share one attempt
	next := p
	next.Attempts++
	swapped, err := sess.Swap(ctx, keySignup, p, next)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, ErrIncorrectCode
	}
	if strings.TrimSpace(code) != p.Code {
		if next.Attempts >= maxCodeAttempts {
			_ = sess.Delete(ctx, keySignup)
			s.log.WarnContext(ctx, "pending signup discarded after wrong codes", "attempts", next.Attempts)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrIncorrectCode
	}
	u := domain.User{Name: p.Name, Email: p.Email, Role: domain.RoleCustomer, PasswordHash: p.PasswordHash}
	if err := s.users.Create(ctx, &u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := sess.Delete(ctx, keySignup); err != nil {
		s.log.WarnContext(ctx, "could not clear pending signup", "err", err)
	}
	return &u, nil
}

func (s *Service) ChangePassword(ctx context.Context, userID int64, req PasswordChange) error {
	if req.New != req.Confirm {
		return ErrPasswordMismatch
	}
	if err := s.check(req); err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !CheckPassword(u.PasswordHash, req.Current) {
		return ErrWrongPassword
	}
	hash, err := HashPassword(req.New)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.users.Update(ctx, u)
}

// UpdateProfile edits the caller's own account and refreshes the session
// identity so the new name shows immediately.
func (s *Service) UpdateProfile(ctx context.Context, sess *session.Store, userID int64, req ProfileUpdate) (*domain.User, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Name, u.Email, u.Phone, u.Address = req.Name, req.Email, req.Phone, req.Address
	if err := s.users.Update(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	if err := sess.SetCustomer(ctx, domain.Customer{ID: u.ID, Name: u.Name, Email: u.Email}); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}
