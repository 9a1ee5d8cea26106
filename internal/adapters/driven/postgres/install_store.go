package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Ensure InstallStore implements the interface.
var _ driven.TokenStore = (*InstallStore)(nil)

// InstallStore implements driven.TokenStore on a JSONB document per tenant.
// Upserts merge top-level document keys, so concurrent writers touching
// different fields of one record do not clobber each other.
type InstallStore struct {
	db        *sql.DB
	encryptor *SecretEncryptor
	now       func() time.Time
}

// NewInstallStore creates a new PostgreSQL-backed install store.
func NewInstallStore(db *sql.DB, encryptor *SecretEncryptor) *InstallStore {
	return &InstallStore{
		db:        db,
		encryptor: encryptor,
		now:       time.Now,
	}
}

// Document keys.
const (
	docScopeKind      = "scope_kind"
	docAgencyID       = "agency_id"
	docSubAccountID   = "sub_account_id"
	docSubAccountName = "sub_account_name"
	docScopes         = "scopes"
	docTokens         = "tokens"
)

// storedDocument is the JSONB shape of an install record.
type storedDocument struct {
	ScopeKind      domain.ScopeKind `json:"scope_kind,omitempty"`
	AgencyID       string           `json:"agency_id,omitempty"`
	SubAccountID   string           `json:"sub_account_id,omitempty"`
	SubAccountName string           `json:"sub_account_name,omitempty"`
	Scopes         []string         `json:"scopes,omitempty"`
	Tokens         *storedTokens    `json:"tokens,omitempty"`
}

// storedTokens keeps token metadata in the clear and token values sealed.
type storedTokens struct {
	TokenType string    `json:"token_type,omitempty"`
	ExpiresIn int       `json:"expires_in,omitempty"`
	Scope     string    `json:"scope,omitempty"`
	SavedAt   time.Time `json:"saved_at"`
	Secret    []byte    `json:"secret,omitempty"`
}

type tokenSecret struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// patchDocument renders the fields present in patch as a partial document.
func patchDocument(patch domain.InstallPatch, enc *SecretEncryptor) (map[string]any, error) {
	doc := make(map[string]any)
	if patch.ScopeKind != nil {
		doc[docScopeKind] = *patch.ScopeKind
	}
	if patch.AgencyID != nil {
		doc[docAgencyID] = *patch.AgencyID
	}
	if patch.SubAccountID != nil {
		doc[docSubAccountID] = *patch.SubAccountID
	}
	if patch.SubAccountName != nil {
		doc[docSubAccountName] = *patch.SubAccountName
	}
	if patch.Scopes != nil {
		doc[docScopes] = patch.Scopes
	}
	if patch.Tokens != nil {
		blob, err := enc.Encrypt(tokenSecret{
			AccessToken:  patch.Tokens.AccessToken,
			RefreshToken: patch.Tokens.RefreshToken,
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt tokens: %w", err)
		}
		doc[docTokens] = storedTokens{
			TokenType: patch.Tokens.TokenType,
			ExpiresIn: patch.Tokens.ExpiresIn,
			Scope:     patch.Tokens.RawScope,
			SavedAt:   patch.Tokens.SavedAt,
			Secret:    blob,
		}
	}
	return doc, nil
}

// decodeDocument rebuilds an install record from its stored document.
func decodeDocument(tenantKey string, raw []byte, createdAt, updatedAt time.Time, enc *SecretEncryptor) (*domain.InstallRecord, error) {
	var doc storedDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode install %s: %w", tenantKey, err)
	}

	rec := &domain.InstallRecord{
		TenantKey:      tenantKey,
		ScopeKind:      doc.ScopeKind,
		AgencyID:       doc.AgencyID,
		SubAccountID:   doc.SubAccountID,
		SubAccountName: doc.SubAccountName,
		Scopes:         doc.Scopes,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if doc.Tokens != nil {
		var secret tokenSecret
		if len(doc.Tokens.Secret) > 0 {
			if err := enc.Decrypt(doc.Tokens.Secret, &secret); err != nil {
				return nil, fmt.Errorf("decrypt tokens for %s: %w", tenantKey, err)
			}
		}
		rec.Tokens = &domain.TokenSet{
			AccessToken:  secret.AccessToken,
			RefreshToken: secret.RefreshToken,
			TokenType:    doc.Tokens.TokenType,
			ExpiresIn:    doc.Tokens.ExpiresIn,
			RawScope:     doc.Tokens.Scope,
			SavedAt:      doc.Tokens.SavedAt,
		}
	}
	return rec, nil
}

// Upsert merges the patch into the stored document.
func (s *InstallStore) Upsert(ctx context.Context, tenantKey string, patch domain.InstallPatch) error {
	if tenantKey == "" {
		return fmt.Errorf("%w: tenant key is required", domain.ErrInvalidInput)
	}
	doc, err := patchDocument(patch, s.encryptor)
	if err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal install document: %w", err)
	}

	query := `
		INSERT INTO install_records (tenant_key, doc, created_at, updated_at)
		VALUES ($1, $2::jsonb, $3, $3)
		ON CONFLICT (tenant_key) DO UPDATE SET
			doc = install_records.doc || EXCLUDED.doc,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, tenantKey, string(body), s.now()); err != nil {
		return unavailable("upsert install "+tenantKey, err)
	}
	return nil
}

// GetByTenantKey retrieves an install by tenant key.
func (s *InstallStore) GetByTenantKey(ctx context.Context, tenantKey string) (*domain.InstallRecord, error) {
	query := `
		SELECT doc, created_at, updated_at
		FROM install_records
		WHERE tenant_key = $1
	`
	return s.scanOne(ctx, tenantKey, query, tenantKey)
}

// FindAnyAgencyInstall returns the most recently updated agency install.
func (s *InstallStore) FindAnyAgencyInstall(ctx context.Context) (*domain.InstallRecord, error) {
	query := `
		SELECT tenant_key
		FROM install_records
		WHERE doc->>'scope_kind' = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var tenantKey string
	err := s.db.QueryRowContext(ctx, query, string(domain.ScopeAgency)).Scan(&tenantKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find agency install", err)
	}
	return s.GetByTenantKey(ctx, tenantKey)
}

// FindSubAccountInstall returns the newest sub-account install of agencyID
// that has tokens on file.
func (s *InstallStore) FindSubAccountInstall(ctx context.Context, agencyID string) (*domain.InstallRecord, error) {
	query := `
		SELECT tenant_key
		FROM install_records
		WHERE doc->>'scope_kind' = $1
		  AND doc->>'agency_id' = $2
		  AND doc->'tokens' IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`
	var tenantKey string
	err := s.db.QueryRowContext(ctx, query, string(domain.ScopeSubAccount), agencyID).Scan(&tenantKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("find sub-account install", err)
	}
	return s.GetByTenantKey(ctx, tenantKey)
}

// Ping checks if the database is reachable.
func (s *InstallStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *InstallStore) scanOne(ctx context.Context, tenantKey, query string, args ...any) (*domain.InstallRecord, error) {
	var (
		raw                  []byte
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get install "+tenantKey, err)
	}
	return decodeDocument(tenantKey, raw, createdAt, updatedAt, s.encryptor)
}
