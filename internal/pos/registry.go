package pos

import (
	"context"
	"errors"
	"os"
	"strings"

	"tableflow-pos-service/internal/canonical"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"
)

// Registry resolves tenant credentials and constructs the matching adapter.
// It holds no state beyond the constructor table and the credential sources,
// and is safe for concurrent use.
type Registry struct {
	db           *pgxpool.Pool
	constructors map[canonical.Provider]Constructor
	defaults     map[canonical.Provider]Credentials
}

// DefaultsFile is the optional YAML shape for shared fallback credentials,
// keyed by provider name.
type DefaultsFile struct {
	Providers map[string]struct {
		AccessToken        string `yaml:"accessToken"`
		ProviderMerchantID string `yaml:"merchantId"`
		WebhookSecret      string `yaml:"webhookSecret"`
		NotificationURL    string `yaml:"notificationUrl"`
		BaseURL            string `yaml:"baseUrl"`
	} `yaml:"providers"`
}

func NewRegistry(db *pgxpool.Pool, constructors map[canonical.Provider]Constructor) *Registry {
	return &Registry{
		db:           db,
		constructors: constructors,
		defaults:     map[canonical.Provider]Credentials{},
	}
}

// LoadDefaultsFile merges shared fallback credentials from a YAML file.
// Missing file is not an error; per-tenant rows always win.
func (r *Registry) LoadDefaultsFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var file DefaultsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return err
	}
	for name, entry := range file.Providers {
		provider, ok := canonical.ParseProvider(name)
		if !ok {
			continue
		}
		r.defaults[provider] = Credentials{
			Provider:           provider,
			AccessToken:        entry.AccessToken,
			ProviderMerchantID: entry.ProviderMerchantID,
			WebhookSecret:      entry.WebhookSecret,
			NotificationURL:    entry.NotificationURL,
			BaseURL:            entry.BaseURL,
		}
	}
	return nil
}

// Resolve returns the adapter for a location's configured provider.
// Resolution order: exact location row, merchant-wide row, shared default.
// A miss means "integration not configured", not a transient fault.
func (r *Registry) Resolve(ctx context.Context, provider canonical.Provider, locationID string) (Adapter, error) {
	creds, err := r.ResolveCredentials(ctx, provider, locationID)
	if err != nil {
		return nil, err
	}
	return r.build(creds)
}

func (r *Registry) ResolveCredentials(ctx context.Context, provider canonical.Provider, locationID string) (Credentials, error) {
	if r.db != nil {
		creds, found, err := r.lookup(ctx, provider, locationID)
		if err != nil {
			return Credentials{}, err
		}
		if found {
			return creds, nil
		}
	}
	if creds, ok := r.defaults[provider]; ok && creds.AccessToken != "" {
		return creds, nil
	}
	return Credentials{}, NotConfiguredError("no credentials for provider " + string(provider))
}

func (r *Registry) lookup(ctx context.Context, provider canonical.Provider, locationID string) (Credentials, bool, error) {
	query := `
		select access_token, provider_merchant_id, coalesce(webhook_secret, ''), coalesce(notification_url, '')
		from pos_credentials
		where provider = $1 and active
		  and (location_id = $2 or location_id is null)
		order by location_id nulls last
		limit 1
	`
	var creds Credentials
	creds.Provider = provider
	err := r.db.QueryRow(ctx, query, string(provider), locationID).
		Scan(&creds.AccessToken, &creds.ProviderMerchantID, &creds.WebhookSecret, &creds.NotificationURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return Credentials{}, false, nil
	}
	if err != nil {
		return Credentials{}, false, err
	}
	return creds, true, nil
}

// Build constructs an adapter from credentials the caller already resolved,
// used at webhook ingress where credentials and adapter are both needed.
func (r *Registry) Build(creds Credentials) (Adapter, error) {
	return r.build(creds)
}

func (r *Registry) build(creds Credentials) (Adapter, error) {
	construct, ok := r.constructors[creds.Provider]
	if !ok {
		return nil, NotConfiguredError("unregistered provider " + string(creds.Provider))
	}
	return construct(creds), nil
}

// Providers lists the registered provider identifiers.
func (r *Registry) Providers() []canonical.Provider {
	out := make([]canonical.Provider, 0, len(r.constructors))
	for provider := range r.constructors {
		out = append(out, provider)
	}
	return out
}
