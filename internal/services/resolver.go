package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"shortsight/internal/cache"
	"shortsight/internal/metrics"
	"shortsight/internal/models"
	"shortsight/internal/repository"
)

// LinkRepository is the authoritative link store with cache maintenance on every mutation.
type LinkRepository interface {
	Create(ctx context.Context, link *models.Link) error
	Get(ctx context.Context, slug string) (*models.Link, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	Update(ctx context.Context, link *models.Link, changes map[string]any) error
	UpdatePassword(ctx context.Context, link *models.Link, hash, salt string) error
	Delete(ctx context.Context, link *models.Link) error
}

type VisitRecorder interface {
	Record(ctx context.Context, slug string, visit Visit) error
}

type Outcome int

const (
	OutcomeRedirect Outcome = iota
	OutcomePasswordRequired
)

func (o Outcome) String() string {
	if o == OutcomePasswordRequired {
		return "password_required"
	}
	return "redirect"
}

// Resolution is a successful outcome of resolving a slug.
type Resolution struct {
	Outcome     Outcome
	Link        *models.Link
	Destination string
}

type LinkResolver struct {
	links     LinkRepository
	cache     *cache.LinkCache
	passwords *PasswordService
	analytics VisitRecorder
	logger    *slog.Logger
	now       func() time.Time
	pending   sync.WaitGroup
}

func NewLinkResolver(links LinkRepository, linkCache *cache.LinkCache, passwords *PasswordService, analytics VisitRecorder, logger *slog.Logger) *LinkResolver {
	return &LinkResolver{
		links:     links,
		cache:     linkCache,
		passwords: passwords,
		analytics: analytics,
		logger:    logger,
		now:       time.Now,
	}
}

// lookup loads a link and rejects the disabled and expired ones. Expired links flagged for
// auto deletion are deleted on the way out.
func (r *LinkResolver) lookup(ctx context.Context, slug string) (*models.Link, error) {
	link, err := r.links.Get(ctx, slug)
	if errors.Is(err, repository.ErrLinkNotFound) {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if link.IsDisabled {
		metrics.Redirects.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("%w: link %q is disabled", ErrGone, slug)
	}

	if link.IsExpired(r.now()) {
		metrics.Redirects.WithLabelValues("expired").Inc()
		if link.AutoDeleteExpired {
			if err := r.links.Delete(ctx, link); err != nil && !errors.Is(err, repository.ErrLinkNotFound) {
				r.logger.Error("Failed to auto-delete expired link", "slug", slug, "error", err)
			} else {
				r.logger.Info("Expired link auto-deleted", "slug", slug)
			}
		}
		return nil, fmt.Errorf("%w: link %q expired", ErrGone, slug)
	}
	return link, nil
}

// Resolve decides what to do with a request for slug. grant is whatever the caller's session
// holds from an earlier VerifyPassword for this slug, or empty.
func (r *LinkResolver) Resolve(ctx context.Context, slug, grant string, visit Visit) (*Resolution, error) {
	link, err := r.lookup(ctx, slug)
	if err != nil {
		return nil, err
	}

	if link.IsPasswordProtected && !r.passwords.Granted(grant, link.PasswordHash) {
		metrics.Redirects.WithLabelValues("password_required").Inc()
		return &Resolution{Outcome: OutcomePasswordRequired, Link: link}, nil
	}

	dest, err := ParseDestination(link.URL)
	if err != nil {
		r.logger.Error("Stored destination is malformed", "slug", slug, "url", link.URL, "error", err)
		metrics.Redirects.WithLabelValues("corrupt").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCorruptDestination, err)
	}

	metrics.Redirects.WithLabelValues("redirect").Inc()
	r.dispatchVisit(ctx, slug, visit)
	return &Resolution{Outcome: OutcomeRedirect, Link: link, Destination: dest.String()}, nil
}

// dispatchVisit records analytics and bumps the click counter off the request path.
func (r *LinkResolver) dispatchVisit(ctx context.Context, slug string, visit Visit) {
	bg := context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if r.analytics != nil {
			if err := r.analytics.Record(bg, slug, visit); err != nil {
				r.logger.Warn("Failed to record visit", "slug", slug, "error", err)
			}
		}
		if _, err := r.cache.IncrementClickCount(bg, slug); err != nil {
			r.logger.Warn("Failed to increment click count", "slug", slug, "error", err)
		}
	}()
}

// Wait blocks until dispatched visit side effects have finished.
func (r *LinkResolver) Wait() {
	r.pending.Wait()
}

// VerifyPassword checks password against the link and returns the grant to keep in the
// caller's session. Unprotected links report ok with an empty grant. Outdated hashes are
// upgraded after a successful check; an upgrade failure is only logged.
func (r *LinkResolver) VerifyPassword(ctx context.Context, slug, password string) (grant string, ok bool, err error) {
	link, err := r.lookup(ctx, slug)
	if err != nil {
		return "", false, err
	}
	if !link.IsPasswordProtected {
		return "", true, nil
	}
	if !r.passwords.Verify(password, link.PasswordHash, link.PasswordSalt) {
		r.logger.Info("Password verification failed", "slug", slug)
		return "", false, nil
	}

	current := link.PasswordHash
	if r.passwords.NeedsRehash(current) {
		hash, salt, err := r.passwords.Hash(password)
		if err == nil {
			err = r.links.UpdatePassword(ctx, link, hash, salt)
		}
		if err != nil {
			r.logger.Warn("Password rehash failed", "slug", slug, "error", err)
		} else {
			r.logger.Info("Password rehashed with current cost", "slug", slug)
			current = hash
		}
	}
	return r.passwords.Grant(current), true, nil
}
