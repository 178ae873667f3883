package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shortsight/internal/metrics"
	"shortsight/internal/models"
	"shortsight/internal/repository"
)

const (
	maxURLInput       = 2048
	maxExpiryHours    = 24 * 365
	maxTitleLength    = 255
	maxPasswordLength = 128
)

// ShortenDTO is a link creation request after transport decoding.
type ShortenDTO struct {
	URL               string
	CustomSlug        string
	UseCustomSlug     bool
	Password          string
	RecaptchaToken    string
	ExpiresInHours    *int
	AutoDeleteExpired bool
	Title             string
	Description       string

	OwnerID *uint
	Premium bool
}

// LinkUpdate holds the owner-editable fields. Nil fields are left unchanged; an empty Password
// removes protection and ClearExpiry removes the expiry.
type LinkUpdate struct {
	URL               *string
	Title             *string
	Description       *string
	Disabled          *bool
	ExpiresAt         *time.Time
	ClearExpiry       bool
	AutoDeleteExpired *bool
	Password          *string
}

// URLChecker is the safety pipeline as seen by link creation.
type URLChecker interface {
	IsSafe(ctx context.Context, rawURL string) (bool, error)
	Validate(ctx context.Context, rawURL string) (*models.ValidationResult, error)
}

type ShortenerService struct {
	links     LinkRepository
	slugs     *SlugGenerator
	safety    URLChecker
	passwords *PasswordService
	captcha   CaptchaVerifier
	logger    *slog.Logger
	now       func() time.Time
}

func NewShortenerService(links LinkRepository, slugs *SlugGenerator, safety URLChecker, passwords *PasswordService, captcha CaptchaVerifier, logger *slog.Logger) *ShortenerService {
	return &ShortenerService{
		links:     links,
		slugs:     slugs,
		safety:    safety,
		passwords: passwords,
		captcha:   captcha,
		logger:    logger,
		now:       time.Now,
	}
}

func validateShorten(dto *ShortenDTO) *ValidationError {
	verr := &ValidationError{}
	dto.URL = strings.TrimSpace(dto.URL)
	switch {
	case dto.URL == "":
		verr.Add("url", "The url field is required.")
	case len(dto.URL) > maxURLInput:
		verr.Add("url", fmt.Sprintf("The url may not be greater than %d characters.", maxURLInput))
	default:
		if _, err := ParseDestination(dto.URL); err != nil {
			verr.Add("url", "The url must be a valid http or https URL.")
		}
	}

	if dto.UseCustomSlug {
		dto.CustomSlug = strings.TrimSpace(dto.CustomSlug)
		if dto.CustomSlug == "" {
			verr.Add("customSlugInput", "Please enter a custom slug.")
		} else if cerr := ValidateCustom(dto.CustomSlug); cerr != nil {
			for _, msg := range cerr.Fields["customSlugInput"] {
				verr.Add("customSlugInput", msg)
			}
		}
	} else {
		dto.CustomSlug = ""
	}

	if dto.ExpiresInHours != nil && (*dto.ExpiresInHours < 1 || *dto.ExpiresInHours > maxExpiryHours) {
		verr.Add("expires_in_hours", fmt.Sprintf("The expiry must be between 1 and %d hours.", maxExpiryHours))
	}
	if len(dto.Title) > maxTitleLength {
		verr.Add("title", fmt.Sprintf("The title may not be greater than %d characters.", maxTitleLength))
	}
	if len(dto.Password) > maxPasswordLength {
		verr.Add("password", fmt.Sprintf("The password may not be greater than %d characters.", maxPasswordLength))
	}

	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

// checkDestination runs the safety pipeline, consulting the verdict cache first.
func (s *ShortenerService) checkDestination(ctx context.Context, rawURL string) error {
	safe, err := s.safety.IsSafe(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}
	if safe {
		return nil
	}
	res, err := s.safety.Validate(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidationUnavailable, err)
	}
	return &UnsafeURLError{Errors: res.Errors, Warnings: res.Warnings}
}

func (s *ShortenerService) CreateShortURL(ctx context.Context, dto ShortenDTO) (*models.Link, error) {
	if verr := validateShorten(&dto); verr != nil {
		return nil, verr
	}
	if dto.Password != "" && (dto.OwnerID == nil || !dto.Premium) {
		return nil, ErrPremiumRequired
	}
	if s.captcha != nil && s.captcha.Enabled() {
		if err := s.captcha.Verify(ctx, dto.RecaptchaToken, RecaptchaAction); err != nil {
			return nil, err
		}
	}
	if err := s.checkDestination(ctx, dto.URL); err != nil {
		return nil, err
	}

	link := &models.Link{
		URL:               dto.URL,
		OwnerID:           dto.OwnerID,
		Title:             dto.Title,
		Description:       dto.Description,
		AutoDeleteExpired: dto.AutoDeleteExpired,
	}
	if dto.ExpiresInHours != nil {
		t := s.now().Add(time.Duration(*dto.ExpiresInHours) * time.Hour)
		link.ExpiresAt = &t
	}
	if dto.Password != "" {
		hash, salt, err := s.passwords.Hash(dto.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash, link.PasswordSalt, link.IsPasswordProtected = hash, salt, true
	}

	// The store's unique index settles races the pre-check in Generate cannot see.
	for attempt := 0; attempt < MaxSlugAttempts; attempt++ {
		slug, err := s.slugs.Generate(ctx, dto.CustomSlug)
		if err != nil {
			return nil, err
		}
		link.Slug = slug

		err = s.links.Create(ctx, link)
		if err == nil {
			metrics.LinksCreated.Inc()
			s.logger.Info("Link created", "slug", link.Slug, "owner", link.OwnerID, "protected", link.IsPasswordProtected)
			return link, nil
		}
		if !errors.Is(err, repository.ErrDuplicateSlug) {
			return nil, err
		}
		if dto.CustomSlug != "" {
			return nil, ErrSlugTaken
		}
		s.logger.Warn("Slug collided on insert, retrying", "slug", slug, "attempt", attempt+1)
	}
	return nil, ErrSlugGenerationExhausted
}

// ownedLink loads slug and checks that ownerID may manage it.
func (s *ShortenerService) ownedLink(ctx context.Context, slug string, ownerID *uint) (*models.Link, error) {
	link, err := s.links.Get(ctx, slug)
	if errors.Is(err, repository.ErrLinkNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !link.IsOwnedBy(ownerID) {
		return nil, ErrForbidden
	}
	return link, nil
}

func (s *ShortenerService) UpdateLink(ctx context.Context, slug string, ownerID *uint, premium bool, upd LinkUpdate) (*models.Link, error) {
	link, err := s.ownedLink(ctx, slug, ownerID)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	verr := &ValidationError{}

	if upd.URL != nil {
		newURL := strings.TrimSpace(*upd.URL)
		if _, perr := ParseDestination(newURL); perr != nil || len(newURL) > maxURLInput {
			verr.Add("url", "The url must be a valid http or https URL.")
		} else if newURL != link.URL {
			changes["url"] = newURL
		}
	}
	if upd.Title != nil {
		if len(*upd.Title) > maxTitleLength {
			verr.Add("title", fmt.Sprintf("The title may not be greater than %d characters.", maxTitleLength))
		}
		changes["title"] = *upd.Title
	}
	if upd.Description != nil {
		changes["description"] = *upd.Description
	}
	if upd.Disabled != nil {
		changes["is_disabled"] = *upd.Disabled
	}
	if upd.ClearExpiry {
		changes["expires_at"] = nil
	} else if upd.ExpiresAt != nil {
		changes["expires_at"] = upd.ExpiresAt.UTC()
	}
	if upd.AutoDeleteExpired != nil {
		changes["auto_delete_expired"] = *upd.AutoDeleteExpired
	}
	if upd.Password != nil && len(*upd.Password) > maxPasswordLength {
		verr.Add("password", fmt.Sprintf("The password may not be greater than %d characters.", maxPasswordLength))
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	if newURL, ok := changes["url"].(string); ok {
		if err := s.checkDestination(ctx, newURL); err != nil {
			return nil, err
		}
	}

	if upd.Password != nil {
		if *upd.Password == "" {
			changes["password_hash"], changes["password_salt"], changes["is_password_protected"] = "", "", false
		} else {
			if !premium {
				return nil, ErrPremiumRequired
			}
			hash, salt, err := s.passwords.Hash(*upd.Password)
			if err != nil {
				return nil, err
			}
			changes["password_hash"], changes["password_salt"], changes["is_password_protected"] = hash, salt, true
		}
	}

	if err := s.links.Update(ctx, link, changes); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.logger.Info("Link updated", "slug", slug, "fields", len(changes))
	return link, nil
}

func (s *ShortenerService) DeleteLink(ctx context.Context, slug string, ownerID *uint) error {
	link, err := s.ownedLink(ctx, slug, ownerID)
	if err != nil {
		return err
	}
	if err := s.links.Delete(ctx, link); err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}
