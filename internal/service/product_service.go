package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/changefeed"
	"storefront/internal/domain"
	"storefront/internal/filestore"
	"storefront/internal/repository"
)

// ImageBucket хранит изображения товаров
const ImageBucket = "product-images"

var ErrInvalidInput = errors.New("invalid input")

// ProductService инкапсулирует бизнес-логику вокруг товаров
type ProductService struct {
	repo  repository.ProductRepository
	files filestore.Store
	feed  changefeed.Feed
	log   *slog.Logger
	now   func() time.Time
}

// NewProductService files and feed may be nil: uploads are then rejected and
// changes are not announced.
func NewProductService(repo repository.ProductRepository, files filestore.Store, feed changefeed.Feed, log *slog.Logger) *ProductService {
	if log == nil {
		log = slog.Default()
	}
	return &ProductService{repo: repo, files: files, feed: feed, log: log, now: time.Now}
}

func validProduct(p domain.Product) bool {
	return strings.TrimSpace(p.Name) != "" && !p.Price.IsNegative()
}

func (s *ProductService) Create(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if !validProduct(p) {
		return nil, ErrInvalidInput
	}
	cp := p
	cp.Name = strings.TrimSpace(cp.Name)
	if err := s.repo.Create(ctx, &cp); err != nil {
		return nil, err
	}
	publish(ctx, s.feed, s.log, changefeed.TableProducts, changefeed.OpInsert, cp.ID)
	return &cp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

// Update меняет имя, цену и описание; пустой ImageURL оставляет прежнее изображение
func (s *ProductService) Update(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.ID <= 0 || !validProduct(p) {
		return nil, ErrInvalidInput
	}
	cur, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	cur.Name = strings.TrimSpace(p.Name)
	cur.Price = p.Price
	cur.Description = p.Description
	if p.ImageURL != "" {
		cur.ImageURL = p.ImageURL
	}
	if err := s.repo.Update(ctx, cur); err != nil {
		return nil, err
	}
	publish(ctx, s.feed, s.log, changefeed.TableProducts, changefeed.OpUpdate, cur.ID)
	return cur, nil
}

func (s *ProductService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	publish(ctx, s.feed, s.log, changefeed.TableProducts, changefeed.OpDelete, id)
	return nil
}

func (s *ProductService) List(ctx context.Context, f repository.ProductFilter) ([]domain.Product, error) {
	return s.repo.List(ctx, f)
}

// UploadImage сохраняет файл под именем <unix ms><ext> и возвращает публичный URL
func (s *ProductService) UploadImage(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if s.files == nil {
		return "", fmt.Errorf("%w: image uploads are not configured", ErrInvalidInput)
	}
	if filename == "" {
		return "", ErrInvalidInput
	}
	name := filestore.ObjectName(s.now(), filename)
	url, err := s.files.Upload(ctx, ImageBucket, name, contentType, r)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	s.log.InfoContext(ctx, "product image uploaded", "object", name)
	return url, nil
}

func publish(ctx context.Context, feed changefeed.Feed, log *slog.Logger, table string, op changefeed.Op, id int64) {
	if feed == nil {
		return
	}
	ev := changefeed.Event{Table: table, Op: op, ID: id, At: time.Now().UTC()}
	if err := feed.Publish(ctx, ev); err != nil {
		log.WarnContext(ctx, "change event not published", "table", table, "err", err)
	}
}
