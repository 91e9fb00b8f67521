package netsuite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"erpsync/internal/config"
	"erpsync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

// Client fetches entity pages from NetSuite RESTlets. One client serves one
// ERP environment and is injected wherever fetching is needed.
type Client struct {
	baseURL    string
	accountID  string
	scripts    map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
	logger     *zerolog.Logger
}

func NewClient(cfg config.NetSuiteConfig, logger *zerolog.Logger) *Client {
	oauth := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		accountID:  cfg.AccountID,
		scripts:    cfg.Scripts,
		httpClient: oauth.Client(context.Background()),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
		logger:     logger,
	}
}

// restletPage is the pinned RESTlet response contract. A response without an
// items array is malformed, not an alternate shape to be probed.
type restletPage struct {
	Items        []restletItem `json:"items"`
	HasMore      bool          `json:"hasMore"`
	TotalResults int           `json:"totalResults"`
}

type restletItem struct {
	ID           string `json:"id"`
	EntityID     string `json:"entityid"`
	CompanyName  string `json:"companyname"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	LastModified string `json:"lastmodifieddate"`
}

// FetchPage retrieves one page of entities modified since params.Since.
func (c *Client) FetchPage(ctx context.Context, module string, params models.SyncParams) (*models.FetchResult, error) {
	script, ok := c.scripts[module]
	if !ok {
		return nil, fmt.Errorf("no script mapping for module %s", module)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}

	query := url.Values{}
	query.Set("script", script)
	query.Set("deploy", "1")
	query.Set("module", module)
	query.Set("page", strconv.Itoa(params.Page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	if params.Since != nil {
		query.Set("modifiedSince", params.Since.UTC().Format(time.RFC3339))
	}
	if params.RemoteID != "" {
		query.Set("id", params.RemoteID)
	}

	endpoint := fmt.Sprintf("%s/app/site/hosting/restlet.nl?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("netsuite request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("netsuite returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	result, err := decodePage(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Str("module", module).
		Int("page", params.Page).
		Int("items", len(result.Items)).
		Bool("has_more", result.HasMore).
		Msg("fetched page")
	return result, nil
}

func decodePage(body []byte) (*models.FetchResult, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("malformed page response: %w", err)
	}
	if _, ok := probe["items"]; !ok {
		return nil, fmt.Errorf("malformed page response: missing items array")
	}

	var page restletPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("malformed page response: %w", err)
	}

	// Сохраняем исходный JSON каждой записи как raw_payload
	var rawItems struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &rawItems); err != nil {
		return nil, fmt.Errorf("malformed page response: %w", err)
	}

	items := make([]models.Entity, 0, len(page.Items))
	for i, item := range page.Items {
		entity, err := toEntity(item, rawItems.Items[i])
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, *entity)
	}

	return &models.FetchResult{
		Items:        items,
		HasMore:      page.HasMore,
		TotalResults: page.TotalResults,
	}, nil
}

func toEntity(item restletItem, raw json.RawMessage) (*models.Entity, error) {
	if item.ID == "" {
		return nil, fmt.Errorf("record has no id")
	}

	name := item.CompanyName
	if name == "" {
		name = item.EntityID
	}

	entity := models.Entity{
		RemoteID:    item.ID,
		DisplayName: name,
		Email:       item.Email,
		Phone:       item.Phone,
		RawPayload:  raw,
	}

	if item.LastModified != "" {
		modified, err := ParseRemoteTime(item.LastModified)
		if err != nil {
			return nil, fmt.Errorf("unparseable lastmodifieddate %q: %w", item.LastModified, err)
		}
		entity.RemoteModifiedAt = &modified
	}
	return &entity, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
