package advisor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProviderConfig holds one owner's settings for one provider. The credential
// is write-only outward: list reads mask it, only call-time reads carry it.
type ProviderConfig struct {
	UserEmail  string `json:"user_email"`
	ProviderID string `json:"provider_id"`
	ModelName  string `json:"model_name"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// Masked returns a copy safe for listing and logging.
func (c ProviderConfig) Masked() ProviderConfig {
	if c.APIKey != "" {
		c.APIKey = maskSecret(c.APIKey)
	}
	return c
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + strings.Repeat("*", 8)
}

// Settings are per-owner advisor preferences.
type Settings struct {
	UserEmail       string `json:"user_email"`
	DefaultProvider string `json:"default_provider"`
	ProxyURL        string `json:"proxy_url"`
}

// ConfigStore persists provider configs and owner settings.
type ConfigStore interface {
	// ForCall returns the owner's enabled configs with credentials intact.
	ForCall(ctx context.Context, userEmail string) ([]ProviderConfig, error)
	// List returns the owner's configs with credentials masked.
	List(ctx context.Context, userEmail string) ([]ProviderConfig, error)
	Upsert(ctx context.Context, cfg ProviderConfig) error
	GetSettings(ctx context.Context, userEmail string) (Settings, error)
	UpsertSettings(ctx context.Context, settings Settings) error
}

const (
	listConfigsSQL = `SELECT user_email, provider_id, model_name, base_url, api_key, enabled
    FROM ai_provider_configs
    WHERE user_email = $1
    ORDER BY provider_id;`

	listEnabledConfigsSQL = `SELECT user_email, provider_id, model_name, base_url, api_key, enabled
    FROM ai_provider_configs
    WHERE user_email = $1 AND enabled
    ORDER BY provider_id;`

	upsertConfigSQL = `INSERT INTO ai_provider_configs (
        user_email, provider_id, model_name, base_url, api_key, enabled, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,now())
    ON CONFLICT (user_email, provider_id) DO UPDATE
    SET model_name = EXCLUDED.model_name,
        base_url   = EXCLUDED.base_url,
        api_key    = CASE WHEN EXCLUDED.api_key = '' THEN ai_provider_configs.api_key ELSE EXCLUDED.api_key END,
        enabled    = EXCLUDED.enabled,
        updated_at = now();`

	getSettingsSQL = `SELECT user_email, default_provider, proxy_url
    FROM user_settings
    WHERE user_email = $1;`

	upsertSettingsSQL = `INSERT INTO user_settings (user_email, default_provider, proxy_url, updated_at)
    VALUES ($1,$2,$3,now())
    ON CONFLICT (user_email) DO UPDATE
    SET default_provider = EXCLUDED.default_provider,
        proxy_url        = EXCLUDED.proxy_url,
        updated_at       = now();`
)

// PGConfigStore is the Postgres-backed provider config store.
type PGConfigStore struct {
	pool *pgxpool.Pool
}

// NewPGConfigStore wires a pgx pool into a PGConfigStore.
func NewPGConfigStore(pool *pgxpool.Pool) *PGConfigStore {
	return &PGConfigStore{pool: pool}
}

// ForCall returns enabled configs including credentials, in stable order.
func (s *PGConfigStore) ForCall(ctx context.Context, userEmail string) ([]ProviderConfig, error) {
	return s.listWith(ctx, listEnabledConfigsSQL, userEmail)
}

// List returns all of the owner's configs with credentials masked.
func (s *PGConfigStore) List(ctx context.Context, userEmail string) ([]ProviderConfig, error) {
	configs, err := s.listWith(ctx, listConfigsSQL, userEmail)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		configs[i] = configs[i].Masked()
	}
	return configs, nil
}

func (s *PGConfigStore) listWith(ctx context.Context, query, userEmail string) ([]ProviderConfig, error) {
	rows, err := s.pool.Query(ctx, query, userEmail)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	configs := make([]ProviderConfig, 0)
	for rows.Next() {
		var cfg ProviderConfig
		if err := rows.Scan(&cfg.UserEmail, &cfg.ProviderID, &cfg.ModelName, &cfg.BaseURL, &cfg.APIKey, &cfg.Enabled); err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		configs = append(configs, cfg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return configs, nil
}

// Upsert creates or updates one provider config. An empty api_key keeps the
// stored credential, so clients can toggle a provider without re-entering it.
func (s *PGConfigStore) Upsert(ctx context.Context, cfg ProviderConfig) error {
	if cfg.UserEmail == "" || cfg.ProviderID == "" {
		return fmt.Errorf("provider config requires user_email and provider_id")
	}
	if _, err := s.pool.Exec(ctx, upsertConfigSQL,
		cfg.UserEmail, cfg.ProviderID, cfg.ModelName, cfg.BaseURL, cfg.APIKey, cfg.Enabled); err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return nil
}

// GetSettings returns owner preferences, zero-valued when absent.
func (s *PGConfigStore) GetSettings(ctx context.Context, userEmail string) (Settings, error) {
	var settings Settings
	err := s.pool.QueryRow(ctx, getSettingsSQL, userEmail).
		Scan(&settings.UserEmail, &settings.DefaultProvider, &settings.ProxyURL)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{UserEmail: userEmail}, nil
		}
		return Settings{}, fmt.Errorf("get user settings: %w", err)
	}
	return settings, nil
}

// UpsertSettings stores owner preferences.
func (s *PGConfigStore) UpsertSettings(ctx context.Context, settings Settings) error {
	if settings.UserEmail == "" {
		return fmt.Errorf("user settings require user_email")
	}
	if _, err := s.pool.Exec(ctx, upsertSettingsSQL,
		settings.UserEmail, settings.DefaultProvider, settings.ProxyURL); err != nil {
		return fmt.Errorf("upsert user settings: %w", err)
	}
	return nil
}

var _ ConfigStore = (*PGConfigStore)(nil)
