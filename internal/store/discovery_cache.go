package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nhle/mailsetup/internal/model"
)

// PutDiscovery records the server settings that worked for domain.
func (s *SQLiteStore) PutDiscovery(ctx context.Context, domain string, cfg model.ServerConfig) error {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return fmt.Errorf("discovery domain must not be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO discovery_cache (
			domain, host, port, use_ssl, protocol_url, discovery_method, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		domain, cfg.Host, cfg.Port, boolToInt(cfg.UseSSL),
		cfg.ProtocolURL, cfg.DiscoveryMethod, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("caching discovery for %s: %w", domain, err)
	}
	return nil
}

// GetDiscovery returns the cached settings for domain if they are younger
// than maxAge. A zero maxAge accepts any age.
func (s *SQLiteStore) GetDiscovery(ctx context.Context, domain string, maxAge time.Duration) (*model.ServerConfig, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))

	var (
		cfg       model.ServerConfig
		useSSL    int
		updatedAt time.Time
	)
	err := s.db.QueryRowxContext(ctx, `
		SELECT host, port, use_ssl, protocol_url, discovery_method, updated_at
		FROM discovery_cache WHERE domain = ?`, domain,
	).Scan(&cfg.Host, &cfg.Port, &useSSL, &cfg.ProtocolURL, &cfg.DiscoveryMethod, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("discovery cache %s: %w", domain, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading discovery cache %s: %w", domain, err)
	}

	if maxAge > 0 && time.Since(updatedAt) > maxAge {
		return nil, fmt.Errorf("discovery cache %s expired: %w", domain, ErrNotFound)
	}

	cfg.UseSSL = useSSL != 0
	return &cfg, nil
}
