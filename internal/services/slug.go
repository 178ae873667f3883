package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"shortsight/pkg/utils"
)

const (
	SlugMinLength       = 3
	SlugMaxLength       = 20
	GeneratedSlugLength = 7
	MaxSlugAttempts     = 10
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Reserved slugs collide with application routes.
var reservedSlugs = map[string]struct{}{
	"admin":     {},
	"api":       {},
	"www":       {},
	"dashboard": {},
	"login":     {},
	"register":  {},
	"health":    {},
	"metrics":   {},
}

// SlugChecker reports whether a slug is held by a live link in the authoritative store.
type SlugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

type SlugGenerator struct {
	store         SlugChecker
	codeGenerator func(int) (string, error)
}

func NewSlugGenerator(store SlugChecker) *SlugGenerator {
	return &SlugGenerator{
		store:         store,
		codeGenerator: utils.GenerateShortCode,
	}
}

func IsReservedSlug(slug string) bool {
	_, ok := reservedSlugs[strings.ToLower(slug)]
	return ok
}

// ValidateCustom checks the shape of a caller-chosen slug without touching the store.
func ValidateCustom(slug string) *ValidationError {
	switch {
	case len(slug) < SlugMinLength || len(slug) > SlugMaxLength:
		return NewValidationError("customSlugInput", fmt.Sprintf("The slug must be between %d and %d characters.", SlugMinLength, SlugMaxLength))
	case !slugPattern.MatchString(slug):
		return NewValidationError("customSlugInput", "The slug may only contain letters, numbers, dashes and underscores.")
	case IsReservedSlug(slug):
		return NewValidationError("customSlugInput", "This slug is reserved.")
	}
	return nil
}

// Generate returns custom when it is valid and free, or a fresh random slug when custom is empty.
// Uniqueness is only pre-checked here; the store's unique index has the final word.
func (g *SlugGenerator) Generate(ctx context.Context, custom string) (string, error) {
	if custom != "" {
		if verr := ValidateCustom(custom); verr != nil {
			return "", verr
		}
		exists, err := g.store.SlugExists(ctx, custom)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrSlugTaken
		}
		return custom, nil
	}

	for attempt := 0; attempt < MaxSlugAttempts; attempt++ {
		candidate, err := g.codeGenerator(GeneratedSlugLength)
		if err != nil {
			return "", fmt.Errorf("generate slug: %w", err)
		}
		if IsReservedSlug(candidate) {
			continue
		}
		exists, err := g.store.SlugExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", ErrSlugGenerationExhausted
}

// Available reports whether slug could be claimed right now, with a reason when it cannot.
func (g *SlugGenerator) Available(ctx context.Context, slug string) (bool, string, error) {
	if verr := ValidateCustom(slug); verr != nil {
		return false, verr.Fields["customSlugInput"][0], nil
	}
	exists, err := g.store.SlugExists(ctx, slug)
	if err != nil {
		return false, "", err
	}
	if exists {
		return false, "This slug is already taken.", nil
	}
	return true, "", nil
}
