// Package trustlogix provides a scanner.Source backed by the TrustLogix API.
package trustlogix

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/riskmap/internal/transport"
	"github.com/agentstation/riskmap/pkg/constants"
	"github.com/agentstation/riskmap/pkg/errors"
	"github.com/agentstation/riskmap/pkg/logging"
	"github.com/agentstation/riskmap/pkg/risk"
	"github.com/agentstation/riskmap/pkg/scanner"
)

// Authentication methods.
const (
	AuthCredentials = "credentials"
	AuthBearer      = "bearer"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config configures a Client.
type Config struct {
	BaseURL  string
	TenantID string

	// AuthMethod is AuthCredentials (default) or AuthBearer.
	AuthMethod   string
	APIKey       string
	ClientID     string
	ClientSecret string

	// TargetDatabases limits the hierarchy to these database names.
	// Empty means every database.
	TargetDatabases []string

	RateLimit  float64
	Sleeper    transport.Sleeper
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

// Client implements scanner.Source.
type Client struct {
	tc      *transport.Client
	targets map[string]bool
	logger  zerolog.Logger
}

var _ scanner.Source = (*Client)(nil)

// New validates cfg, authenticates and returns a ready client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, errors.NewConfigError("trustlogix", "TRUSTLOGIX_BASE_URL is missing", nil)
	}
	if cfg.TenantID == "" {
		return nil, errors.NewConfigError("trustlogix", "TRUSTLOGIX_TENANT_ID is missing", nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	logger := cfg.Logger.With().Str("component", "trustlogix").Logger()

	token, err := authenticate(ctx, base, cfg, &logger)
	if err != nil {
		return nil, err
	}

	tc := transport.New(transport.Config{
		Service: "scanner",
		BaseURL: base,
		APIKey:  token,
		Auth:    &transport.BearerAuth{},
		Headers: map[string]string{
			"tenantid":   cfg.TenantID,
			"User-Agent": userAgent,
		},
		ReadTimeout: constants.ScannerTimeout,
		RateLimit:   cfg.RateLimit,
		Sleeper:     cfg.Sleeper,
		HTTPClient:  cfg.HTTPClient,
		Logger:      &logger,
	})

	var targets map[string]bool
	if len(cfg.TargetDatabases) > 0 {
		targets = make(map[string]bool, len(cfg.TargetDatabases))
		for _, db := range cfg.TargetDatabases {
			if db = strings.TrimSpace(db); db != "" {
				targets[strings.ToUpper(db)] = true
			}
		}
	}

	return &Client{tc: tc, targets: targets, logger: logger}, nil
}

type loginResponse struct {
	Token string `json:"token"`
	Data  *struct {
		Token string `json:"token"`
	} `json:"data"`
}

func authenticate(ctx context.Context, base string, cfg Config, logger *zerolog.Logger) (string, error) {
	method := cfg.AuthMethod
	if method == "" {
		method = AuthCredentials
	}

	switch method {
	case AuthBearer:
		if cfg.APIKey == "" {
			return "", errors.NewConfigError("trustlogix", "auth method is 'bearer' but TRUSTLOGIX_API_KEY is missing", nil)
		}
		return cfg.APIKey, nil

	case AuthCredentials:
		login := transport.New(transport.Config{
			Service: "scanner",
			BaseURL: base,
			Auth:    &transport.NoAuth{},
			Headers: map[string]string{
				"User-Agent": "Mozilla/5.0",
				"Origin":     base,
				"Referer":    base + "/login",
			},
			ReadTimeout: constants.LoginTimeout,
			MaxRetries:  1,
			Sleeper:     cfg.Sleeper,
			HTTPClient:  cfg.HTTPClient,
			Logger:      logger,
		})

		logger.Info().Str("url", base+"/api/login").Msg("Logging in")
		body := map[string]string{"loginId": cfg.ClientID, "password": cfg.ClientSecret}
		data, err := login.Request(ctx, http.MethodPost, "/api/login", body, url.Values{"userType": {"TENANT_USER"}})
		if err != nil {
			return "", &errors.AuthenticationError{Service: "trustlogix", Method: method, Message: "login failed", Err: err}
		}
		var resp loginResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return "", &errors.AuthenticationError{Service: "trustlogix", Method: method, Message: "invalid login response", Err: err}
		}
		if resp.Data != nil && resp.Data.Token != "" {
			return resp.Data.Token, nil
		}
		if resp.Token == "" {
			return "", &errors.AuthenticationError{Service: "trustlogix", Method: method, Message: "login response has no token"}
		}
		return resp.Token, nil

	default:
		return "", errors.NewValidationError("auth_method", method, "must be 'credentials' or 'bearer'")
	}
}

// flexID accepts identifiers encoded as JSON strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexID(data)
	return nil
}

type accountItem struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type accountsResponse struct {
	Items []accountItem `json:"items"`
}

// ListAccounts returns active accounts on supported platforms.
func (c *Client) ListAccounts(ctx context.Context) ([]scanner.Account, error) {
	params := url.Values{
		"status":             {"Active"},
		"page_size":          {strconv.Itoa(constants.AccountPageSize)},
		"page_no":            {"1"},
		"includePolicyCount": {"true"},
	}
	c.logger.Info().Msg("Fetching accounts list")
	data, err := c.tc.Request(ctx, http.MethodGet, "/api/account", nil, params)
	if err != nil {
		return nil, err
	}
	var resp accountsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.WrapParse("json", "accounts response", err)
	}

	all := make([]scanner.Account, 0, len(resp.Items))
	for _, item := range resp.Items {
		all = append(all, scanner.Account{ID: string(item.ID), Name: item.Name, Type: item.Type})
	}
	accounts := scanner.FilterSupported(all)
	c.logger.Info().Int("found", len(all)).Int("supported", len(accounts)).Msg("Listed accounts")
	return accounts, nil
}

type metadataObject struct {
	Name               string `json:"name"`
	FullyQualifiedName string `json:"fullyQualifiedName"`
}

func (o metadataObject) qualified() string {
	if o.FullyQualifiedName != "" {
		return o.FullyQualifiedName
	}
	return o.Name
}

// BuildHierarchy fetches databases, schemas and tables with their
// entitlements and attaches the account's risk summary to the root.
// Failing sub-requests leave the affected branch empty.
func (c *Client) BuildHierarchy(ctx context.Context, account scanner.Account) (*scanner.Node, error) {
	log := c.logger.With().Str("account", account.Name).Logger()
	root := &scanner.Node{Name: account.Name, Type: scanner.NodeAccount, Subtype: account.Type}

	base := "/api/metadata/" + url.PathEscape(account.ID)
	dbs := c.list(ctx, base+"/databases", nil)
	for _, db := range dbs {
		if db.Name == "" || !c.wanted(db.Name) {
			continue
		}
		dbNode := &scanner.Node{
			Name:         db.Name,
			Type:         scanner.NodeDatabase,
			Entitlements: c.Entitlements(ctx, account.ID, scanner.NodeDatabase, db.Name),
		}
		for _, sch := range c.list(ctx, base+"/schemas", url.Values{"databaseNames": {db.Name}}) {
			schNode := &scanner.Node{
				Name:         sch.Name,
				Type:         scanner.NodeSchema,
				Entitlements: c.Entitlements(ctx, account.ID, scanner.NodeSchema, sch.qualified()),
			}
			for _, tbl := range c.list(ctx, base+"/tables", url.Values{"schemaNames": {sch.qualified()}}) {
				schNode.Children = append(schNode.Children, &scanner.Node{
					Name:         tbl.Name,
					Type:         scanner.NodeTable,
					Entitlements: c.Entitlements(ctx, account.ID, scanner.NodeTable, tbl.qualified()),
				})
			}
			dbNode.Children = append(dbNode.Children, schNode)
		}
		root.Children = append(root.Children, dbNode)
	}

	summary := risk.Summarize(c.Findings(ctx, account.ID))
	root.RisksSummary = &summary
	log.Info().Int("databases", len(root.Children)).Int("risks", summary.Total).Msg("Built hierarchy")
	return root, nil
}

func (c *Client) wanted(db string) bool {
	return c.targets == nil || c.targets[strings.ToUpper(db)]
}

func (c *Client) list(ctx context.Context, endpoint string, params url.Values) []metadataObject {
	var out []metadataObject
	if !c.tc.CallInto(ctx, http.MethodGet, endpoint, nil, params, &out) {
		return nil
	}
	return out
}

type entitlementItem struct {
	Name       string   `json:"name"`
	Privileges []string `json:"privileges"`
}

type entitlementsPage struct {
	Roles      []entitlementItem `json:"roles"`
	Users      []entitlementItem `json:"users"`
	Groups     []entitlementItem `json:"groups"`
	TotalPages int               `json:"totalPages"`
}

// Entitlements pages through the grants on one object. At most
// constants.MaxEntitlementPages pages are read.
func (c *Client) Entitlements(ctx context.Context, accountID string, objectType scanner.NodeType, objectName string) []scanner.Entitlement {
	endpoint := "/api/account/" + url.PathEscape(accountID) + "/entitlements"
	var all []scanner.Entitlement
	for page := 1; page <= constants.MaxEntitlementPages; page++ {
		params := url.Values{
			"objectType":           {string(objectType)},
			"objectName":           {objectName},
			"includeChildMetadata": {"false"},
			"page":                 {strconv.Itoa(page)},
			"pageSize":             {strconv.Itoa(constants.EntitlementPageSize)},
		}
		var resp entitlementsPage
		if !c.tc.CallInto(ctx, http.MethodGet, endpoint, nil, params, &resp) {
			break
		}
		all = appendEntitlements(all, scanner.EntityRole, resp.Roles)
		all = appendEntitlements(all, scanner.EntityUser, resp.Users)
		all = appendEntitlements(all, scanner.EntityGroup, resp.Groups)

		if len(all) == 0 && page == 1 {
			break
		}
		if page >= resp.TotalPages {
			break
		}
	}
	return all
}

func appendEntitlements(dst []scanner.Entitlement, kind scanner.EntityType, items []entitlementItem) []scanner.Entitlement {
	for _, item := range items {
		dst = append(dst, scanner.Entitlement{EntityType: kind, Name: item.Name, Privileges: item.Privileges})
	}
	return dst
}

type findingItem struct {
	Severity     string `json:"severity"`
	Category     string `json:"category"`
	RiskCategory string `json:"riskCategory"`
	Detail       string `json:"detail"`
	Description  string `json:"description"`
	Remediation  string `json:"remediation"`
}

type findingsResponse struct {
	Items []findingItem `json:"items"`
}

// Findings returns the account's current risk findings. An unavailable
// endpoint yields no findings.
func (c *Client) Findings(ctx context.Context, accountID string) []risk.Finding {
	endpoint := "/api/account/" + url.PathEscape(accountID) + "/risks"
	params := url.Values{"page_size": {strconv.Itoa(constants.AccountPageSize)}, "page_no": {"1"}}

	var resp findingsResponse
	if !c.tc.CallInto(ctx, http.MethodGet, endpoint, nil, params, &resp) {
		c.logger.Debug().Str("account_id", accountID).Msg("No findings available")
		return nil
	}
	findings := make([]risk.Finding, 0, len(resp.Items))
	for _, item := range resp.Items {
		f := risk.Finding{
			Severity:    risk.ParseSeverity(item.Severity),
			Category:    firstNonEmpty(item.Category, item.RiskCategory),
			Detail:      firstNonEmpty(item.Detail, item.Description),
			Remediation: item.Remediation,
		}
		findings = append(findings, f)
	}
	return findings
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

