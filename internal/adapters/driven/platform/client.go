package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/custodia-labs/agencylink/internal/core/domain"
	"github.com/custodia-labs/agencylink/internal/core/ports/driven"
)

// Ensure Client implements the interface.
var _ driven.PlatformClient = (*Client)(nil)

// maxBody bounds how much of a response the client will read.
const maxBody = 4 << 20

// Client talks to the provider token endpoint and REST API.
type Client struct {
	oauth        *oauth2.Config
	httpClient   *http.Client
	baseURL      string
	version      string
	appID        string
	identityPath string
	logger       *slog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg *Config, logger *slog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client id and secret are required", domain.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultConfig().APIBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = baseURL + "/oauth/token"
	}
	identityPath := cfg.IdentityPath
	if identityPath == "" {
		identityPath = DefaultConfig().IdentityPath
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:   httpClient,
		baseURL:      baseURL,
		version:      cfg.APIVersion,
		appID:        cfg.AppID,
		identityPath: "/" + strings.TrimPrefix(identityPath, "/"),
		logger:       logger,
	}, nil
}

// ClientID returns the OAuth client id.
func (c *Client) ClientID() string {
	return c.oauth.ClientID
}

// ExchangeAuthorizationCode trades an authorization code for tokens.
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, req driven.ExchangeRequest) (*driven.TokenResult, error) {
	if req.Code == "" {
		return nil, fmt.Errorf("%w: authorization code is required", domain.ErrInvalidInput)
	}
	cfg := *c.oauth
	cfg.RedirectURL = req.RedirectURI

	var opts []oauth2.AuthCodeOption
	if req.UserType != "" {
		opts = append(opts, oauth2.SetAuthURLParam("user_type", string(req.UserType)))
	}

	tok, err := cfg.Exchange(c.oauthContext(ctx), req.Code, opts...)
	if err != nil {
		return nil, c.tokenError("exchange code", err)
	}
	return fromOAuthToken(tok), nil
}

// RefreshAccessToken trades a refresh token for new tokens.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*driven.TokenResult, error) {
	if refreshToken == "" {
		return nil, domain.ErrNoRefreshToken
	}
	// An empty access token is never valid, so the source always hits the
	// token endpoint.
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.tokenError("refresh token", err)
	}
	return fromOAuthToken(tok), nil
}

// IdentifyCaller probes the identity endpoint. Failures yield an empty Identity.
func (c *Client) IdentifyCaller(ctx context.Context, accessToken string) driven.Identity {
	if accessToken == "" {
		return driven.Identity{}
	}
	body, err := c.getJSON(ctx, "identify caller", accessToken, c.identityPath, nil)
	if err != nil {
		c.logger.Debug("identity probe failed", "error", err)
		return driven.Identity{}
	}
	doc, ok := body.(map[string]any)
	if !ok {
		return driven.Identity{}
	}
	return driven.Identity{
		AgencyID:     AgencyID(doc),
		SubAccountID: SubAccountID(doc),
	}
}

// ListInstalledSubAccounts returns sub-accounts that have the app installed.
func (c *Client) ListInstalledSubAccounts(ctx context.Context, accessToken, agencyID string) ([]domain.SubAccountSnapshot, error) {
	q := url.Values{
		"companyId":   {agencyID},
		"isInstalled": {"true"},
	}
	if c.appID != "" {
		q.Set("appId", c.appID)
	}
	body, err := c.getJSON(ctx, "list installed sub-accounts", accessToken, "/oauth/installedLocations", q)
	if err != nil {
		return nil, err
	}
	return snapshotsFrom(body, true), nil
}

// ListSubAccounts returns one page of the agency's sub-accounts.
func (c *Client) ListSubAccounts(ctx context.Context, accessToken, agencyID string, page, pageSize int) (driven.SubAccountPage, error) {
	q := url.Values{
		"page":  {strconv.Itoa(page)},
		"limit": {strconv.Itoa(pageSize)},
	}
	path := "/companies/" + url.PathEscape(agencyID) + "/locations"
	body, err := c.getJSON(ctx, "list sub-accounts", accessToken, path, q)
	if err != nil {
		return driven.SubAccountPage{}, err
	}
	return driven.SubAccountPage{
		SubAccounts: snapshotsFrom(body, false),
		Listed:      len(listEntries(body)),
	}, nil
}

// MintSubAccountToken derives a sub-account token from an agency token.
func (c *Client) MintSubAccountToken(ctx context.Context, agencyAccessToken, agencyID, subAccountID string) (*driven.TokenResult, error) {
	const op = "mint sub-account token"
	form := url.Values{
		"companyId":  {agencyID},
		"locationId": {subAccountID},
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/oauth/locationToken", agencyAccessToken, nil,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	doc, err := decodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}

	tok := tokenFromDocument(doc)
	if tok.LocationID == "" {
		tok.LocationID = subAccountID
	}
	if tok.CompanyID == "" {
		tok.CompanyID = agencyID
	}
	return tok, nil
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// tokenError maps token endpoint failures. A rejected request becomes
// *domain.UpstreamTokenError; transport failures wrap ErrServiceUnavailable.
func (c *Client) tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		c.logger.Warn("token endpoint rejected request",
			"op", op,
			"status", re.Response.StatusCode,
			"body", domain.TruncateBody(re.Body))
		return domain.NewUpstreamTokenError(re.Response.StatusCode, re.Body)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrServiceUnavailable, err)
}

func (c *Client) newRequest(ctx context.Context, method, path, accessToken string, q url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if c.version != "" {
		req.Header.Set("Version", c.version)
	}
	return req, nil
}

// do executes the request. Non-2xx responses become *domain.UpstreamError so
// a 401 matches domain.ErrUnauthorized.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.NewUpstreamError(op, resp.StatusCode, body)
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, op, accessToken, path string, q url.Values) (any, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, accessToken, q, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	var body any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return body, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// snapshotsFrom converts a listing response into snapshots. Entries without a
// resolvable id are dropped.
func snapshotsFrom(body any, installedDefault bool) []domain.SubAccountSnapshot {
	entries := listEntries(body)
	out := make([]domain.SubAccountSnapshot, 0, len(entries))
	for _, e := range entries {
		id := SnapshotID(e)
		if id == "" {
			continue
		}
		installed := installedDefault
		if v, ok := e["isInstalled"].(bool); ok {
			installed = v
		}
		out = append(out, domain.SubAccountSnapshot{
			ID:        id,
			Name:      stringField(e, "name"),
			Installed: installed,
		})
	}
	return out
}

// fromOAuthToken reads the provider extras off an oauth2 token.
func fromOAuthToken(tok *oauth2.Token) *driven.TokenResult {
	res := &driven.TokenResult{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    int(tok.ExpiresIn),
		Scope:        extraString(tok, "scope"),
		CompanyID:    extraString(tok, "companyId"),
		LocationID:   extraString(tok, "locationId"),
		UserType:     extraString(tok, "userType"),
	}
	if res.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		res.ExpiresIn = int(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	return res
}

func extraString(tok *oauth2.Token, key string) string {
	switch v := tok.Extra(key).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// tokenFromDocument reads a token response decoded with UseNumber.
func tokenFromDocument(doc map[string]any) *driven.TokenResult {
	res := &driven.TokenResult{
		AccessToken:  stringField(doc, "access_token"),
		RefreshToken: stringField(doc, "refresh_token"),
		TokenType:    stringField(doc, "token_type"),
		Scope:        stringField(doc, "scope"),
		CompanyID:    idString(doc["companyId"]),
		LocationID:   idString(doc["locationId"]),
		UserType:     stringField(doc, "userType"),
	}
	if n, ok := doc["expires_in"].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			res.ExpiresIn = int(v)
		}
	}
	return res
}
