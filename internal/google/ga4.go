package google

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	analyticsadmin "google.golang.org/api/analyticsadmin/v1beta"
	"google.golang.org/api/option"
)

// SharedPropertyName is the GA4 property shared by all of a tenant's customers
const SharedPropertyName = "OneClickTag"

// GA4Property identifies a GA4 property and the account that owns it
type GA4Property struct {
	AccountID  string // numeric, without the "accounts/" prefix
	PropertyID string // numeric, without the "properties/" prefix
}

// WebStream is a web data stream inside a property
type WebStream struct {
	StreamID      string
	MeasurementID string
	DefaultURI    string
}

// GA4 is the subset of the Analytics Admin API the sync code uses
type GA4 interface {
	FindOrCreateProperty(ctx context.Context, displayName, timeZone, currencyCode string) (*GA4Property, error)
	FindOrCreateWebStream(ctx context.Context, propertyID, websiteURL, displayName string) (*WebStream, error)
	EnsureKeyEvent(ctx context.Context, propertyID, eventName string) error
}

// GA4Client implements GA4 with the generated analyticsadmin/v1beta client
type GA4Client struct {
	svc *analyticsadmin.Service
}

// NewGA4Client creates an Analytics Admin client
func NewGA4Client(ctx context.Context, opts ...option.ClientOption) (*GA4Client, error) {
	svc, err := analyticsadmin.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Analytics Admin client: %w", err)
	}
	return &GA4Client{svc: svc}, nil
}

// FindOrCreateProperty looks for a property named displayName in any accessible account and creates it
// under the first account when none exists.
func (c *GA4Client) FindOrCreateProperty(ctx context.Context, displayName, timeZone, currencyCode string) (*GA4Property, error) {
	var summaries []*analyticsadmin.GoogleAnalyticsAdminV1betaAccountSummary
	err := c.svc.AccountSummaries.List().Pages(ctx, func(resp *analyticsadmin.GoogleAnalyticsAdminV1betaListAccountSummariesResponse) error {
		summaries = append(summaries, resp.AccountSummaries...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list GA4 account summaries: %w", err)
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("google account has no GA4 accounts")
	}

	for _, account := range summaries {
		for _, property := range account.PropertySummaries {
			if property.DisplayName == displayName {
				return &GA4Property{
					AccountID:  strings.TrimPrefix(account.Account, "accounts/"),
					PropertyID: strings.TrimPrefix(property.Property, "properties/"),
				}, nil
			}
		}
	}

	if timeZone == "" {
		timeZone = "Etc/UTC"
	}
	if currencyCode == "" {
		currencyCode = "USD"
	}
	account := summaries[0].Account
	created, err := c.svc.Properties.Create(&analyticsadmin.GoogleAnalyticsAdminV1betaProperty{
		Parent:       account,
		DisplayName:  displayName,
		TimeZone:     timeZone,
		CurrencyCode: currencyCode,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GA4 property: %w", err)
	}

	return &GA4Property{
		AccountID:  strings.TrimPrefix(account, "accounts/"),
		PropertyID: strings.TrimPrefix(created.Name, "properties/"),
	}, nil
}

// FindOrCreateWebStream returns the property's web stream for the website's host, creating it if missing
func (c *GA4Client) FindOrCreateWebStream(ctx context.Context, propertyID, websiteURL, displayName string) (*WebStream, error) {
	parent := "properties/" + propertyID
	host := hostOf(websiteURL)

	resp, err := c.svc.Properties.DataStreams.List(parent).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list GA4 data streams: %w", err)
	}
	for _, stream := range resp.DataStreams {
		if stream.Type != "WEB_DATA_STREAM" || stream.WebStreamData == nil {
			continue
		}
		if host != "" && hostOf(stream.WebStreamData.DefaultUri) == host {
			return toWebStream(stream), nil
		}
	}

	created, err := c.svc.Properties.DataStreams.Create(parent, &analyticsadmin.GoogleAnalyticsAdminV1betaDataStream{
		DisplayName: displayName,
		Type:        "WEB_DATA_STREAM",
		WebStreamData: &analyticsadmin.GoogleAnalyticsAdminV1betaDataStreamWebStreamData{
			DefaultUri: websiteURL,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create GA4 web stream: %w", err)
	}
	return toWebStream(created), nil
}

// EnsureKeyEvent marks eventName as a key event; an existing key event is left alone
func (c *GA4Client) EnsureKeyEvent(ctx context.Context, propertyID, eventName string) error {
	parent := "properties/" + propertyID

	resp, err := c.svc.Properties.KeyEvents.List(parent).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to list GA4 key events: %w", err)
	}
	for _, ke := range resp.KeyEvents {
		if ke.EventName == eventName {
			return nil
		}
	}

	_, err = c.svc.Properties.KeyEvents.Create(parent, &analyticsadmin.GoogleAnalyticsAdminV1betaKeyEvent{
		EventName:      eventName,
		CountingMethod: "ONCE_PER_EVENT",
	}).Context(ctx).Do()
	if err != nil && !isConflict(err) {
		return fmt.Errorf("failed to create GA4 key event: %w", err)
	}
	return nil
}

func toWebStream(stream *analyticsadmin.GoogleAnalyticsAdminV1betaDataStream) *WebStream {
	ws := &WebStream{StreamID: stream.Name[strings.LastIndex(stream.Name, "/")+1:]}
	if stream.WebStreamData != nil {
		ws.MeasurementID = stream.WebStreamData.MeasurementId
		ws.DefaultURI = stream.WebStreamData.DefaultUri
	}
	return ws
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
