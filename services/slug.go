package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/rpupo63/postzen-backend/errs"
)

// DefaultMaxSlugAttempts bounds the suffix search for a free slug
const DefaultMaxSlugAttempts = 10000

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reNonWord    = regexp.MustCompile(`[^\w-]`)
	reHyphens    = regexp.MustCompile(`-+`)
)

// SlugExistsFunc reports whether slug is already taken
type SlugExistsFunc func(ctx context.Context, slug string) (bool, error)

// Slugify derives the candidate slug for a title. Accents are decomposed and dropped,
// whitespace runs become a hyphen, anything outside [A-Za-z0-9_-] is stripped,
// and the result is lowercased with hyphens collapsed and trimmed.
// Titles without any usable character produce "".
func Slugify(title string) string {
	s := norm.NFD.String(title)
	s = reWhitespace.ReplaceAllString(s, "-")
	s = reNonWord.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	s = reHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

type SlugGenerator struct {
	maxAttempts int
}

func NewSlugGenerator(maxAttempts int) SlugGenerator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSlugAttempts
	}
	return SlugGenerator{maxAttempts: maxAttempts}
}

// Generate returns the first free slug among base, base-1, base-2, ...
// fallback replaces base when the title slugifies to nothing.
func (g SlugGenerator) Generate(ctx context.Context, title, fallback string, exists SlugExistsFunc) (string, error) {
	base := Slugify(title)
	if base == "" {
		base = Slugify(fallback)
	}
	if base == "" {
		base = "post"
	}

	maxAttempts := g.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxSlugAttempts
	}

	candidate := base
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", errs.NewSlugGenerationError(base, maxAttempts)
}
