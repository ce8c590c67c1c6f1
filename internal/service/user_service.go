package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"storefront/internal/auth"
	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

// UserInput форма создания и редактирования пользователя в админке
type UserInput struct {
	Name     string      `json:"name" validate:"required"`
	Email    string      `json:"email" validate:"required,email"`
	Role     domain.Role `json:"role" validate:"required,oneof=customer admin"`
	Password string      `json:"password,omitempty" validate:"omitempty,min=6"`
}

// UserService управляет учётными записями
type UserService struct {
	repo     repository.UserRepository
	feed     changefeed.Feed
	validate *validator.Validate
	log      *slog.Logger
}

func NewUserService(repo repository.UserRepository, feed changefeed.Feed, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{repo: repo, feed: feed, validate: validator.New(), log: log}
}

func (s *UserService) check(in *UserInput) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s failed %s", ErrInvalidInput, strings.ToLower(verrs[0].Field()), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.repo.List(ctx)
}

func (s *UserService) Get(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// Create требует пароль; он сохраняется только в виде bcrypt-хеша
func (s *UserService) Create(ctx context.Context, in UserInput) (*domain.User, error) {
	if err := s.check(&in); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password failed required", ErrInvalidInput)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	u := domain.User{Name: in.Name, Email: in.Email, Role: in.Role, PasswordHash: hash}
	if err := s.repo.Create(ctx, &u); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user created", "user_id", u.ID, "role", u.Role)
	publish(ctx, s.feed, s.log, changefeed.TableUsers, changefeed.OpInsert, u.ID)
	return &u, nil
}

// Update меняет имя, email и роль; пароль здесь не меняется
func (s *UserService) Update(ctx context.Context, id int64, in UserInput) (*domain.User, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in.Password = ""
	if err := s.check(&in); err != nil {
		return nil, err
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Name, u.Email, u.Role = in.Name, in.Email, in.Role
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	publish(ctx, s.feed, s.log, changefeed.TableUsers, changefeed.OpUpdate, id)
	return u, nil
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	publish(ctx, s.feed, s.log, changefeed.TableUsers, changefeed.OpDelete, id)
	return nil
}

// ToggleBan переключает блокировку; заблокированный пользователь не может войти
func (s *UserService) ToggleBan(ctx context.Context, id int64) (*domain.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Banned = !u.Banned
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "user ban toggled", "user_id", id, "banned", u.Banned)
	publish(ctx, s.feed, s.log, changefeed.TableUsers, changefeed.OpUpdate, id)
	return u, nil
}
