package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shortsight/internal/cache"
	"shortsight/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// DefaultReinvalidateDelay is how long after a write the slug's cache entries are dropped again.
// The second drop clears a snapshot that a concurrent Get read before the write and cached after
// the first drop.
const DefaultReinvalidateDelay = 500 * time.Millisecond

var (
	ErrLinkNotFound  = errors.New("link not found")
	ErrDuplicateSlug = errors.New("slug already in use")
)

// LinkStore is the authoritative link storage. Every mutation updates the link cache before it
// returns: create populates, update and delete invalidate, and invalidate again shortly after.
type LinkStore struct {
	db                *gorm.DB
	cache             *cache.LinkCache
	logger            *slog.Logger
	reinvalidateDelay time.Duration
}

func NewLinkStore(db *gorm.DB, linkCache *cache.LinkCache, logger *slog.Logger) *LinkStore {
	return &LinkStore{db: db, cache: linkCache, logger: logger, reinvalidateDelay: DefaultReinvalidateDelay}
}

// invalidate drops the slug's cached entries now and once more after reinvalidateDelay.
func (s *LinkStore) invalidate(ctx context.Context, slug string) {
	s.cache.Invalidate(ctx, slug)
	if s.reinvalidateDelay <= 0 {
		return
	}
	time.AfterFunc(s.reinvalidateDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.cache.Invalidate(ctx, slug)
	})
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *LinkStore) Create(ctx context.Context, link *models.Link) error {
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create %q: %w", link.Slug, ErrDuplicateSlug)
		}
		return fmt.Errorf("create link: %w", err)
	}
	s.cache.Populate(ctx, link)
	return nil
}

// FindBySlug reads the store directly, bypassing the cache.
func (s *LinkStore) FindBySlug(ctx context.Context, slug string) (*models.Link, error) {
	var link models.Link
	err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find link %q: %w", slug, err)
	}
	return &link, nil
}

// Get is the cache-aside read: cache first, then the store, populating on a store hit.
func (s *LinkStore) Get(ctx context.Context, slug string) (*models.Link, error) {
	if link, ok := s.cache.GetLink(ctx, slug); ok {
		return link, nil
	}
	link, err := s.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	s.cache.Populate(ctx, link)
	return link, nil
}

// SlugExists answers from the metadata cache when it holds the slug and asks the store otherwise.
func (s *LinkStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	if _, ok := s.cache.GetMetadata(ctx, slug); ok {
		return true, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Link{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check slug %q: %w", slug, err)
	}
	return count > 0, nil
}

// Update applies column changes and refreshes link from the store. Cached entries for the slug
// are dropped, and so is the safety verdict of the previous URL when the destination changes.
func (s *LinkStore) Update(ctx context.Context, link *models.Link, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	oldURL := link.URL

	res := s.db.WithContext(ctx).Model(&models.Link{}).Where("id = ?", link.ID).Updates(changes)
	if res.Error != nil {
		return fmt.Errorf("update link %q: %w", link.Slug, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}

	s.invalidate(ctx, link.Slug)
	if newURL, ok := changes["url"].(string); ok && newURL != oldURL {
		s.cache.InvalidateURL(ctx, oldURL)
	}

	fresh, err := s.FindBySlug(ctx, link.Slug)
	if err != nil {
		return err
	}
	*link = *fresh
	return nil
}

func (s *LinkStore) UpdatePassword(ctx context.Context, link *models.Link, hash, salt string) error {
	return s.Update(ctx, link, map[string]any{
		"password_hash":         hash,
		"password_salt":         salt,
		"is_password_protected": hash != "",
	})
}

// Delete soft-deletes the link and drops its cached entries and the safety verdict of its URL.
func (s *LinkStore) Delete(ctx context.Context, link *models.Link) error {
	res := s.db.WithContext(ctx).Where("id = ?", link.ID).Delete(&models.Link{})
	if res.Error != nil {
		return fmt.Errorf("delete link %q: %w", link.Slug, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLinkNotFound
	}

	s.invalidate(ctx, link.Slug)
	s.cache.InvalidateURL(ctx, link.URL)
	s.logger.Info("Link deleted", "slug", link.Slug, "id", link.ID)
	return nil
}

func (s *LinkStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
