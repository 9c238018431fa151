// Package link implements short-slug redirection with click analytics
// over the tenant store.
//
// Slugs are either caller-supplied (validated) or generated from a
// cryptographically sound source with a bounded collision-retry loop.
// Expired links are purged lazily on the next read or list; an expired
// slug becomes reusable.
package link

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"time"

	"github.com/tenantd/tenantd/internal/storage"
)

const (
	slugAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	slugLength   = 6
	maxSlugTries = 10
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// ErrSlugTaken is returned when a caller-supplied slug collides with a
// live link.
var ErrSlugTaken = errors.New("slug already in use")

// ErrSlugGenerationExhausted is returned when random slug generation
// collides on every attempt. Retryable.
var ErrSlugGenerationExhausted = errors.New("slug generation exhausted after collisions")

// Link is a short-slug redirect.
type Link struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	Title     string     `json:"title,omitempty"`
	Clicks    int64      `json:"clicks"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ClickEvent is one recorded click on a link.
type ClickEvent struct {
	Slug      string    `json:"slug"`
	ClickedAt time.Time `json:"clicked_at"`
	Referrer  string    `json:"referrer,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Country   string    `json:"country,omitempty"`
}

// CreateOptions are the optional fields of Create.
type CreateOptions struct {
	Slug       string `json:"slug,omitempty"`
	Title      string `json:"title,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// ClickInfo carries the optional attributes of a click.
type ClickInfo struct {
	Referrer  string `json:"referrer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Country   string `json:"country,omitempty"`
}

// ClickResult reports whether a click was recorded and the new total.
type ClickResult struct {
	Recorded bool  `json:"recorded"`
	Clicks   int64 `json:"clicks"`
}

// ReferrerCount is one entry of the top-referrers breakdown.
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int64  `json:"count"`
}

// Stats is the analytics view of one link.
type Stats struct {
	Clicks       int64           `json:"clicks"`
	LastClickAt  *time.Time      `json:"last_click_at,omitempty"`
	Referrers    []ReferrerCount `json:"referrers"`
	RecentClicks []ClickEvent    `json:"recent_clicks"`
}

// Store provides link operations against one tenant's database.
type Store struct {
	store *storage.Store
	now   func() time.Time
}

// New creates a link store over the tenant's durable store.
func New(s *storage.Store) *Store {
	return &Store{store: s, now: time.Now}
}

// Create registers a new short link. A supplied slug must match
// [A-Za-z0-9_-]{3,32} and not collide with a live link; without one a
// random 6-character slug is generated, retrying up to 10 times on
// collision. TTLSeconds of 0 means the link never expires.
func (l *Store) Create(ctx context.Context, rawURL string, opts CreateOptions) (*Link, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if opts.TTLSeconds < 0 {
		return nil, fmt.Errorf("ttl_seconds must not be negative, got %d", opts.TTLSeconds)
	}

	now := l.now().UTC()

	slug := opts.Slug
	if slug != "" {
		if !slugPattern.MatchString(slug) {
			return nil, fmt.Errorf("slug must match [A-Za-z0-9_-] and be 3-32 characters, got %q", slug)
		}
		live, err := l.slugLive(ctx, slug)
		if err != nil {
			return nil, err
		}
		if live {
			return nil, fmt.Errorf("slug %q: %w", slug, ErrSlugTaken)
		}
	} else {
		slug, err = l.generateSlug(ctx)
		if err != nil {
			return nil, err
		}
	}

	// An expired row may still occupy the slug; replace it.
	if _, err := l.store.DB().ExecContext(ctx, "DELETE FROM links WHERE slug = ?", slug); err != nil {
		return nil, fmt.Errorf("purge expired slug %q: %w", slug, err)
	}

	var expiresMs *int64
	var expiresAt *time.Time
	if opts.TTLSeconds > 0 {
		exp := now.Add(time.Duration(opts.TTLSeconds) * time.Second)
		ms := exp.UnixMilli()
		expiresMs = &ms
		expiresAt = &exp
	}

	var title *string
	if opts.Title != "" {
		title = &opts.Title
	}

	_, err = l.store.DB().ExecContext(ctx,
		`INSERT INTO links (slug, url, title, clicks, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?, ?)`,
		slug, rawURL, title, expiresMs, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create link %q: %w", slug, err)
	}

	return &Link{
		Slug:      slug,
		URL:       rawURL,
		Title:     opts.Title,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Get returns the link for slug, or nil if it does not exist. An expired
// link is purged and reported as absent.
func (l *Store) Get(ctx context.Context, slug string) (*Link, error) {
	lk, err := l.readLink(ctx, slug)
	if err != nil {
		return nil, err
	}
	if lk == nil {
		return nil, nil
	}
	if lk.ExpiresAt != nil && !lk.ExpiresAt.After(l.now().UTC()) {
		if _, err := l.store.DB().ExecContext(ctx, "DELETE FROM links WHERE slug = ?", slug); err != nil {
			return nil, fmt.Errorf("purge expired link %q: %w", slug, err)
		}
		return nil, nil
	}
	return lk, nil
}

// RecordClick increments the click counter and appends a click event.
// Recording against a missing or expired slug is a no-op with
// Recorded=false.
func (l *Store) RecordClick(ctx context.Context, slug string, info ClickInfo) (*ClickResult, error) {
	lk, err := l.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if lk == nil {
		return &ClickResult{Recorded: false}, nil
	}

	db := l.store.DB()
	now := l.now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"UPDATE links SET clicks = clicks + 1, updated_at = ? WHERE slug = ?",
		now.UnixMilli(), slug)
	if err != nil {
		return nil, fmt.Errorf("count click on %q: %w", slug, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO link_clicks (slug, clicked_at, referrer, user_agent, country)
		 VALUES (?, ?, ?, ?, ?)`,
		slug, now.UnixMilli(),
		nullable(info.Referrer), nullable(info.UserAgent), nullable(info.Country))
	if err != nil {
		return nil, fmt.Errorf("record click on %q: %w", slug, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &ClickResult{Recorded: true, Clicks: lk.Clicks + 1}, nil
}

// Stats returns the analytics view of a link: total clicks, last click
// time, top 10 referrers by count, and the 20 most recent click events.
// Returns nil for a missing or expired slug.
func (l *Store) Stats(ctx context.Context, slug string) (*Stats, error) {
	lk, err := l.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if lk == nil {
		return nil, nil
	}

	db := l.store.DB()
	st := &Stats{Clicks: lk.Clicks, Referrers: []ReferrerCount{}, RecentClicks: []ClickEvent{}}

	var lastMs sql.NullInt64
	err = db.QueryRowContext(ctx,
		"SELECT MAX(clicked_at) FROM link_clicks WHERE slug = ?", slug).Scan(&lastMs)
	if err != nil {
		return nil, fmt.Errorf("last click of %q: %w", slug, err)
	}
	if lastMs.Valid {
		t := time.UnixMilli(lastMs.Int64).UTC()
		st.LastClickAt = &t
	}

	rows, err := db.QueryContext(ctx,
		`SELECT referrer, COUNT(*) AS n FROM link_clicks
		 WHERE slug = ? AND referrer IS NOT NULL
		 GROUP BY referrer ORDER BY n DESC, referrer LIMIT 10`, slug)
	if err != nil {
		return nil, fmt.Errorf("referrers of %q: %w", slug, err)
	}
	defer rows.Close()
	for rows.Next() {
		var rc ReferrerCount
		if err := rows.Scan(&rc.Referrer, &rc.Count); err != nil {
			return nil, err
		}
		st.Referrers = append(st.Referrers, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := db.QueryContext(ctx,
		`SELECT slug, clicked_at, referrer, user_agent, country FROM link_clicks
		 WHERE slug = ? ORDER BY clicked_at DESC, id DESC LIMIT 20`, slug)
	if err != nil {
		return nil, fmt.Errorf("recent clicks of %q: %w", slug, err)
	}
	defer recent.Close()
	for recent.Next() {
		var ev ClickEvent
		var clickedMs int64
		var ref, ua, country sql.NullString
		if err := recent.Scan(&ev.Slug, &clickedMs, &ref, &ua, &country); err != nil {
			return nil, err
		}
		ev.ClickedAt = time.UnixMilli(clickedMs).UTC()
		ev.Referrer = ref.String
		ev.UserAgent = ua.String
		ev.Country = country.String
		st.RecentClicks = append(st.RecentClicks, ev)
	}
	return st, recent.Err()
}

// List returns all live links, newest first, purging expired ones first.
func (l *Store) List(ctx context.Context) ([]Link, error) {
	nowMs := l.now().UTC().UnixMilli()
	if _, err := l.store.DB().ExecContext(ctx,
		"DELETE FROM links WHERE expires_at IS NOT NULL AND expires_at <= ?", nowMs); err != nil {
		return nil, fmt.Errorf("purge expired links: %w", err)
	}

	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT slug, url, title, clicks, expires_at, created_at, updated_at
		 FROM links ORDER BY created_at DESC, slug`)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		lk, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lk)
	}
	return out, rows.Err()
}

// Delete removes a link (and, via cascade, its click events). Returns
// false if the slug did not exist.
func (l *Store) Delete(ctx context.Context, slug string) (bool, error) {
	res, err := l.store.DB().ExecContext(ctx, "DELETE FROM links WHERE slug = ?", slug)
	if err != nil {
		return false, fmt.Errorf("delete link %q: %w", slug, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// generateSlug draws random slugs until one is free, bounded by
// maxSlugTries attempts.
func (l *Store) generateSlug(ctx context.Context) (string, error) {
	for i := 0; i < maxSlugTries; i++ {
		slug, err := randomSlug()
		if err != nil {
			return "", err
		}
		live, err := l.slugLive(ctx, slug)
		if err != nil {
			return "", err
		}
		if !live {
			return slug, nil
		}
	}
	return "", ErrSlugGenerationExhausted
}

// randomSlug builds a 6-character slug from the fixed alphabet using
// crypto/rand.
func randomSlug() (string, error) {
	buf := make([]byte, slugLength)
	max := big.NewInt(int64(len(slugAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random slug: %w", err)
		}
		buf[i] = slugAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// slugLive reports whether a non-expired link occupies the slug.
func (l *Store) slugLive(ctx context.Context, slug string) (bool, error) {
	lk, err := l.readLink(ctx, slug)
	if err != nil {
		return false, err
	}
	if lk == nil {
		return false, nil
	}
	if lk.ExpiresAt != nil && !lk.ExpiresAt.After(l.now().UTC()) {
		return false, nil
	}
	return true, nil
}

// readLink fetches a link row without the expiry check.
func (l *Store) readLink(ctx context.Context, slug string) (*Link, error) {
	row := l.store.DB().QueryRowContext(ctx,
		`SELECT slug, url, title, clicks, expires_at, created_at, updated_at
		 FROM links WHERE slug = ?`, slug)
	lk, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read link %q: %w", slug, err)
	}
	return lk, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLink(row scanner) (*Link, error) {
	var lk Link
	var title sql.NullString
	var expiresMs sql.NullInt64
	var createdMs, updatedMs int64

	err := row.Scan(&lk.Slug, &lk.URL, &title, &lk.Clicks, &expiresMs, &createdMs, &updatedMs)
	if err != nil {
		return nil, err
	}
	if title.Valid {
		lk.Title = title.String
	}
	if expiresMs.Valid {
		t := time.UnixMilli(expiresMs.Int64).UTC()
		lk.ExpiresAt = &t
	}
	lk.CreatedAt = time.UnixMilli(createdMs).UTC()
	lk.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &lk, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
