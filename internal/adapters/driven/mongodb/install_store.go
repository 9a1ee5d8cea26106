package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Ensure InstallStore implements the interface.
var _ driven.TokenStore = (*InstallStore)(nil)

// Sealer encrypts token values before they reach the database.
type Sealer interface {
	Encrypt(value any) ([]byte, error)
	Decrypt(blob []byte, value any) error
}

// Document field names.
const (
	fieldScopeKind      = "scope_kind"
	fieldAgencyID       = "agency_id"
	fieldSubAccountID   = "sub_account_id"
	fieldSubAccountName = "sub_account_name"
	fieldScopes         = "scopes"
	fieldTokens         = "tokens"
	fieldCreatedAt      = "created_at"
	fieldUpdatedAt      = "updated_at"
)

type installDocument struct {
	TenantKey      string          `bson:"_id"`
	ScopeKind      string          `bson:"scope_kind,omitempty"`
	AgencyID       string          `bson:"agency_id,omitempty"`
	SubAccountID   string          `bson:"sub_account_id,omitempty"`
	SubAccountName string          `bson:"sub_account_name,omitempty"`
	Scopes         []string        `bson:"scopes,omitempty"`
	Tokens         *tokensDocument `bson:"tokens,omitempty"`
	CreatedAt      time.Time       `bson:"created_at"`
	UpdatedAt      time.Time       `bson:"updated_at"`
}

type tokensDocument struct {
	TokenType string    `bson:"token_type,omitempty"`
	ExpiresIn int       `bson:"expires_in,omitempty"`
	Scope     string    `bson:"scope,omitempty"`
	SavedAt   time.Time `bson:"saved_at"`
	Secret    []byte    `bson:"secret,omitempty"`
}

type tokenSecret struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// InstallStore implements driven.TokenStore on a MongoDB collection keyed by
// tenant key.
type InstallStore struct {
	coll   *mongo.Collection
	client *mongo.Client
	sealer Sealer
	now    func() time.Time
}

// NewInstallStore creates a MongoDB-backed install store.
func NewInstallStore(db *mongo.Database, sealer Sealer) *InstallStore {
	return &InstallStore{
		coll:   db.Collection(InstallsCollection),
		client: db.Client(),
		sealer: sealer,
		now:    time.Now,
	}
}

// updateDocument builds the upsert update: present fields go to $set, the
// creation time to $setOnInsert.
func updateDocument(patch domain.InstallPatch, sealer Sealer, now time.Time) (bson.M, error) {
	set := bson.M{fieldUpdatedAt: now}
	if patch.ScopeKind != nil {
		set[fieldScopeKind] = string(*patch.ScopeKind)
	}
	if patch.AgencyID != nil {
		set[fieldAgencyID] = *patch.AgencyID
	}
	if patch.SubAccountID != nil {
		set[fieldSubAccountID] = *patch.SubAccountID
	}
	if patch.SubAccountName != nil {
		set[fieldSubAccountName] = *patch.SubAccountName
	}
	if patch.Scopes != nil {
		set[fieldScopes] = patch.Scopes
	}
	if patch.Tokens != nil {
		blob, err := sealer.Encrypt(tokenSecret{
			AccessToken:  patch.Tokens.AccessToken,
			RefreshToken: patch.Tokens.RefreshToken,
		})
		if err != nil {
			return nil, fmt.Errorf("encrypt tokens: %w", err)
		}
		set[fieldTokens] = tokensDocument{
			TokenType: patch.Tokens.TokenType,
			ExpiresIn: patch.Tokens.ExpiresIn,
			Scope:     patch.Tokens.RawScope,
			SavedAt:   patch.Tokens.SavedAt,
			Secret:    blob,
		}
	}
	return bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{fieldCreatedAt: now},
	}, nil
}

func (d *installDocument) toRecord(sealer Sealer) (*domain.InstallRecord, error) {
	rec := &domain.InstallRecord{
		TenantKey:      d.TenantKey,
		ScopeKind:      domain.ScopeKind(d.ScopeKind),
		AgencyID:       d.AgencyID,
		SubAccountID:   d.SubAccountID,
		SubAccountName: d.SubAccountName,
		Scopes:         d.Scopes,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Tokens != nil {
		var secret tokenSecret
		if len(d.Tokens.Secret) > 0 {
			if err := sealer.Decrypt(d.Tokens.Secret, &secret); err != nil {
				return nil, fmt.Errorf("decrypt tokens for %s: %w", d.TenantKey, err)
			}
		}
		rec.Tokens = &domain.TokenSet{
			AccessToken:  secret.AccessToken,
			RefreshToken: secret.RefreshToken,
			TokenType:    d.Tokens.TokenType,
			ExpiresIn:    d.Tokens.ExpiresIn,
			RawScope:     d.Tokens.Scope,
			SavedAt:      d.Tokens.SavedAt,
		}
	}
	return rec, nil
}

// Upsert merges the patch into the document at tenantKey.
func (s *InstallStore) Upsert(ctx context.Context, tenantKey string, patch domain.InstallPatch) error {
	if tenantKey == "" {
		return fmt.Errorf("%w: tenant key is required", domain.ErrInvalidInput)
	}
	update, err := updateDocument(patch, s.sealer, s.now().UTC())
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": tenantKey}, update, options.Update().SetUpsert(true))
	if err != nil {
		return unavailable("upsert install "+tenantKey, err)
	}
	return nil
}

// GetByTenantKey retrieves an install by tenant key.
func (s *InstallStore) GetByTenantKey(ctx context.Context, tenantKey string) (*domain.InstallRecord, error) {
	return s.findOne(ctx, "get install "+tenantKey, bson.M{"_id": tenantKey}, nil)
}

// FindAnyAgencyInstall returns the most recently updated agency install.
func (s *InstallStore) FindAnyAgencyInstall(ctx context.Context) (*domain.InstallRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: fieldUpdatedAt, Value: -1}})
	return s.findOne(ctx, "find agency install", bson.M{fieldScopeKind: string(domain.ScopeAgency)}, opts)
}

// FindSubAccountInstall returns the newest sub-account install of agencyID
// that has tokens on file.
func (s *InstallStore) FindSubAccountInstall(ctx context.Context, agencyID string) (*domain.InstallRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: fieldUpdatedAt, Value: -1}})
	return s.findOne(ctx, "find sub-account install", subAccountInstallFilter(agencyID), opts)
}

func subAccountInstallFilter(agencyID string) bson.M {
	return bson.M{
		fieldScopeKind: string(domain.ScopeSubAccount),
		fieldAgencyID:  agencyID,
		fieldTokens:    bson.M{"$exists": true, "$ne": nil},
	}
}

// Ping checks the primary is reachable.
func (s *InstallStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx, readpref.Primary()); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *InstallStore) findOne(ctx context.Context, op string, filter bson.M, opts *options.FindOneOptions) (*domain.InstallRecord, error) {
	var res *mongo.SingleResult
	if opts != nil {
		res = s.coll.FindOne(ctx, filter, opts)
	} else {
		res = s.coll.FindOne(ctx, filter)
	}
	var doc installDocument
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, unavailable(op, err)
	}
	return doc.toRecord(s.sealer)
}
