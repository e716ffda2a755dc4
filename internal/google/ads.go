package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultAdsBaseURL is the Google Ads REST endpoint
const DefaultAdsBaseURL = "https://googleads.googleapis.com/v21"

// LabelName is the label attached to every conversion action OneClickTag manages
const LabelName = "OneClickTag"

// AdsCustomer is an accessible Google Ads account
type AdsCustomer struct {
	ID                   string
	DescriptiveName      string
	CurrencyCode         string
	Manager              bool
	ConversionTrackingID string
}

// ConversionAction describes the conversion action to create or update
type ConversionAction struct {
	ResourceName string // set to update an existing action
	Name         string
	Category     string
	DefaultValue *float64
	CurrencyCode string
}

// Ads is the subset of the Google Ads API the sync code uses
type Ads interface {
	ListAccessibleCustomers(ctx context.Context) ([]string, error)
	GetCustomer(ctx context.Context, customerID string) (*AdsCustomer, error)
	FindOrCreateLabel(ctx context.Context, customerID, name string) (string, error)
	UpsertConversionAction(ctx context.Context, customerID string, action ConversionAction) (string, error)
	ConversionActionExists(ctx context.Context, customerID, actionID string) (bool, error)
	GetConversionSendTo(ctx context.Context, customerID, actionID string) (conversionID, label string, err error)
	RemoveConversionAction(ctx context.Context, customerID, actionID string) error
}

// AdsConfig configures the REST client
type AdsConfig struct {
	BaseURL         string
	DeveloperToken  string
	LoginCustomerID string
}

// AdsClient calls the Google Ads REST API through an OAuth-authorised HTTP client
type AdsClient struct {
	httpClient *http.Client
	cfg        AdsConfig
}

// AdsError is a non-2xx response from the Ads API
type AdsError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *AdsError) Error() string {
	return fmt.Sprintf("google ads API error (%d %s): %s", e.StatusCode, e.Status, e.Message)
}

// NewAdsClient creates an Ads REST client; httpClient must attach OAuth credentials
func NewAdsClient(httpClient *http.Client, cfg AdsConfig) *AdsClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAdsBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.LoginCustomerID = normaliseCustomerID(cfg.LoginCustomerID)
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &AdsClient{httpClient: httpClient, cfg: cfg}
}

func normaliseCustomerID(id string) string {
	return strings.ReplaceAll(strings.TrimPrefix(id, "customers/"), "-", "")
}

func (c *AdsClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode Ads request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", c.cfg.DeveloperToken)
	if c.cfg.LoginCustomerID != "" {
		req.Header.Set("login-customer-id", c.cfg.LoginCustomerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("google ads request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read Ads response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &AdsError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
			if envelope.Error.Status != "" {
				apiErr.Status = envelope.Error.Status
			}
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode Ads response: %w", err)
	}
	return nil
}

type searchRow map[string]json.RawMessage

func (c *AdsClient) search(ctx context.Context, customerID, query string) ([]searchRow, error) {
	var resp struct {
		Results []searchRow `json:"results"`
	}
	path := "/customers/" + normaliseCustomerID(customerID) + "/googleAds:search"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"query": query}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

type mutateResponse struct {
	Results []struct {
		ResourceName string `json:"resourceName"`
	} `json:"results"`
}

func (c *AdsClient) mutate(ctx context.Context, customerID, resource string, operation map[string]any) (string, error) {
	var resp mutateResponse
	path := "/customers/" + normaliseCustomerID(customerID) + "/" + resource + ":mutate"
	body := map[string]any{"operations": []map[string]any{operation}}
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return resp.Results[0].ResourceName, nil
}

// ListAccessibleCustomers returns the numeric ids of every Ads account the user can reach
func (c *AdsClient) ListAccessibleCustomers(ctx context.Context) ([]string, error) {
	var resp struct {
		ResourceNames []string `json:"resourceNames"`
	}
	if err := c.do(ctx, http.MethodGet, "/customers:listAccessibleCustomers", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list accessible Ads customers: %w", err)
	}
	ids := make([]string, 0, len(resp.ResourceNames))
	for _, name := range resp.ResourceNames {
		ids = append(ids, normaliseCustomerID(name))
	}
	return ids, nil
}

func (c *AdsClient) GetCustomer(ctx context.Context, customerID string) (*AdsCustomer, error) {
	rows, err := c.search(ctx, customerID, `SELECT customer.id, customer.descriptive_name, customer.currency_code, `+
		`customer.manager, customer.conversion_tracking_setting.conversion_tracking_id FROM customer LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to get Ads customer: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("ads customer %s returned no rows", customerID)
	}

	var customer struct {
		ID                        json.Number `json:"id"`
		DescriptiveName           string      `json:"descriptiveName"`
		CurrencyCode              string      `json:"currencyCode"`
		Manager                   bool        `json:"manager"`
		ConversionTrackingSetting struct {
			ConversionTrackingID json.Number `json:"conversionTrackingId"`
		} `json:"conversionTrackingSetting"`
	}
	if err := json.Unmarshal(rows[0]["customer"], &customer); err != nil {
		return nil, fmt.Errorf("failed to decode Ads customer: %w", err)
	}

	return &AdsCustomer{
		ID:                   normaliseCustomerID(customerID),
		DescriptiveName:      customer.DescriptiveName,
		CurrencyCode:         customer.CurrencyCode,
		Manager:              customer.Manager,
		ConversionTrackingID: customer.ConversionTrackingSetting.ConversionTrackingID.String(),
	}, nil
}

// FindOrCreateLabel returns the resource name of the named label, creating it if missing
func (c *AdsClient) FindOrCreateLabel(ctx context.Context, customerID, name string) (string, error) {
	rows, err := c.search(ctx, customerID,
		fmt.Sprintf(`SELECT label.resource_name, label.name FROM label WHERE label.name = '%s'`, escapeGAQL(name)))
	if err != nil {
		return "", fmt.Errorf("failed to search Ads labels: %w", err)
	}
	if len(rows) > 0 {
		var label struct {
			ResourceName string `json:"resourceName"`
		}
		if err := json.Unmarshal(rows[0]["label"], &label); err == nil && label.ResourceName != "" {
			return label.ResourceName, nil
		}
	}

	resourceName, err := c.mutate(ctx, customerID, "labels", map[string]any{
		"create": map[string]any{"name": name},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create Ads label: %w", err)
	}
	return resourceName, nil
}

// UpsertConversionAction creates a webpage conversion action, or updates it when ResourceName is set
func (c *AdsClient) UpsertConversionAction(ctx context.Context, customerID string, action ConversionAction) (string, error) {
	values := map[string]any{"alwaysUseDefaultValue": action.DefaultValue != nil}
	if action.DefaultValue != nil {
		values["defaultValue"] = *action.DefaultValue
	}
	if action.CurrencyCode != "" {
		values["defaultCurrencyCode"] = action.CurrencyCode
	}

	body := map[string]any{
		"name":          action.Name,
		"category":      action.Category,
		"valueSettings": values,
	}

	if action.ResourceName != "" {
		body["resourceName"] = action.ResourceName
		resourceName, err := c.mutate(ctx, customerID, "conversionActions", map[string]any{
			"update":     body,
			"updateMask": "name,category,valueSettings.defaultValue,valueSettings.defaultCurrencyCode,valueSettings.alwaysUseDefaultValue",
		})
		if err != nil {
			return "", fmt.Errorf("failed to update Ads conversion action: %w", err)
		}
		if resourceName == "" {
			resourceName = action.ResourceName
		}
		return resourceName, nil
	}

	body["type"] = "WEBPAGE"
	body["status"] = "ENABLED"
	resourceName, err := c.mutate(ctx, customerID, "conversionActions", map[string]any{"create": body})
	if err != nil {
		return "", fmt.Errorf("failed to create Ads conversion action: %w", err)
	}
	return resourceName, nil
}

func (c *AdsClient) ConversionActionExists(ctx context.Context, customerID, actionID string) (bool, error) {
	rows, err := c.search(ctx, customerID, fmt.Sprintf(
		`SELECT conversion_action.id, conversion_action.status FROM conversion_action WHERE conversion_action.id = %s`,
		numericID(actionID)))
	if err != nil {
		return false, fmt.Errorf("failed to look up Ads conversion action: %w", err)
	}
	for _, row := range rows {
		var action struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(row["conversionAction"], &action); err == nil && action.Status != "REMOVED" {
			return true, nil
		}
	}
	return false, nil
}

// GetConversionSendTo reads the event snippet of a conversion action and returns its AW- id and label
func (c *AdsClient) GetConversionSendTo(ctx context.Context, customerID, actionID string) (string, string, error) {
	rows, err := c.search(ctx, customerID, fmt.Sprintf(
		`SELECT conversion_action.id, conversion_action.tag_snippets FROM conversion_action WHERE conversion_action.id = %s`,
		numericID(actionID)))
	if err != nil {
		return "", "", fmt.Errorf("failed to read Ads tag snippets: %w", err)
	}

	for _, row := range rows {
		var action struct {
			TagSnippets []struct {
				Type         string `json:"type"`
				PageFormat   string `json:"pageFormat"`
				EventSnippet string `json:"eventSnippet"`
			} `json:"tagSnippets"`
		}
		if err := json.Unmarshal(row["conversionAction"], &action); err != nil {
			continue
		}
		for _, snippet := range action.TagSnippets {
			if id, label, ok := ParseSendTo(snippet.EventSnippet); ok {
				return id, label, nil
			}
		}
	}
	return "", "", fmt.Errorf("conversion action %s has no event snippet with a send_to label", actionID)
}

// RemoveConversionAction deletes a conversion action
func (c *AdsClient) RemoveConversionAction(ctx context.Context, customerID, actionID string) error {
	resourceName := actionID
	if !strings.HasPrefix(actionID, "customers/") {
		resourceName = "customers/" + normaliseCustomerID(customerID) + "/conversionActions/" + numericID(actionID)
	}
	if _, err := c.mutate(ctx, customerID, "conversionActions", map[string]any{"remove": resourceName}); err != nil {
		var apiErr *AdsError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			log.Debug().Str("conversion_action", resourceName).Msg("Ads conversion action already removed")
			return nil
		}
		return fmt.Errorf("failed to remove Ads conversion action: %w", err)
	}
	return nil
}

// ConversionActionID returns the numeric id at the end of a conversion action resource name
func ConversionActionID(resourceName string) string {
	return numericID(resourceName)
}

func numericID(id string) string {
	return id[strings.LastIndex(id, "/")+1:]
}

func escapeGAQL(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}
