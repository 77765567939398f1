package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Opportunity is a normalized job listing. Identity is fixed by the content
// fingerprint: re-scraping the same listing updates metadata, never identity.
type Opportunity struct {
	ID uuid.UUID

	Source      string
	SourceURL   string
	Company     string
	Title       string
	Description string
	Location    string

	SalaryMin int
	SalaryMax int

	// Fingerprint deduplicates re-scraped listings (source, company, title).
	Fingerprint string

	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// OpportunityFingerprint derives the dedup identity of a listing. Casing and
// surrounding whitespace are normalized so copy-pasted listings match their
// scraped twins.
func OpportunityFingerprint(source, company, title string) string {
	norm := func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	}
	data := fmt.Sprintf("%s|%s|%s", norm(source), norm(company), norm(title))
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
