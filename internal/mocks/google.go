package mocks

import (
	"context"

	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/stretchr/testify/mock"
	tagmanager "google.golang.org/api/tagmanager/v2"
)

// MockGTM is a mock implementation of google.GTM
type MockGTM struct {
	mock.Mock
}

func (m *MockGTM) ListAccounts(ctx context.Context) ([]*tagmanager.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*tagmanager.Account), args.Error(1)
}

func (m *MockGTM) FindOrCreateContainer(ctx context.Context, accountID, name, domainName string) (*tagmanager.Container, error) {
	args := m.Called(ctx, accountID, name, domainName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tagmanager.Container), args.Error(1)
}

func (m *MockGTM) FindOrCreateWorkspace(ctx context.Context, containerPath, name string) (*tagmanager.Workspace, error) {
	args := m.Called(ctx, containerPath, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tagmanager.Workspace), args.Error(1)
}

func (m *MockGTM) EnsureEssentials(ctx context.Context, workspacePath, measurementID string) error {
	args := m.Called(ctx, workspacePath, measurementID)
	return args.Error(0)
}

func (m *MockGTM) WorkspaceExists(ctx context.Context, workspacePath string) (bool, error) {
	args := m.Called(ctx, workspacePath)
	return args.Bool(0), args.Error(1)
}

func (m *MockGTM) UpsertTrigger(ctx context.Context, workspacePath string, trigger *tagmanager.Trigger) (*tagmanager.Trigger, error) {
	args := m.Called(ctx, workspacePath, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tagmanager.Trigger), args.Error(1)
}

func (m *MockGTM) UpsertTag(ctx context.Context, workspacePath string, tag *tagmanager.Tag) (*tagmanager.Tag, error) {
	args := m.Called(ctx, workspacePath, tag)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*tagmanager.Tag), args.Error(1)
}

func (m *MockGTM) DeleteTrigger(ctx context.Context, workspacePath, triggerID string) error {
	args := m.Called(ctx, workspacePath, triggerID)
	return args.Error(0)
}

func (m *MockGTM) DeleteTag(ctx context.Context, workspacePath, tagID string) error {
	args := m.Called(ctx, workspacePath, tagID)
	return args.Error(0)
}

func (m *MockGTM) TriggerExists(ctx context.Context, workspacePath, triggerID string) (bool, error) {
	args := m.Called(ctx, workspacePath, triggerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGTM) TagExists(ctx context.Context, workspacePath, tagID string) (bool, error) {
	args := m.Called(ctx, workspacePath, tagID)
	return args.Bool(0), args.Error(1)
}

func (m *MockGTM) Publish(ctx context.Context, workspacePath string) error {
	args := m.Called(ctx, workspacePath)
	return args.Error(0)
}

// MockGA4 is a mock implementation of google.GA4
type MockGA4 struct {
	mock.Mock
}

func (m *MockGA4) FindOrCreateProperty(ctx context.Context, displayName, timeZone, currencyCode string) (*google.GA4Property, error) {
	args := m.Called(ctx, displayName, timeZone, currencyCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*google.GA4Property), args.Error(1)
}

func (m *MockGA4) FindOrCreateWebStream(ctx context.Context, propertyID, websiteURL, displayName string) (*google.WebStream, error) {
	args := m.Called(ctx, propertyID, websiteURL, displayName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*google.WebStream), args.Error(1)
}

func (m *MockGA4) EnsureKeyEvent(ctx context.Context, propertyID, eventName string) error {
	args := m.Called(ctx, propertyID, eventName)
	return args.Error(0)
}

// MockAds is a mock implementation of google.Ads
type MockAds struct {
	mock.Mock
}

func (m *MockAds) ListAccessibleCustomers(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAds) GetCustomer(ctx context.Context, customerID string) (*google.AdsCustomer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*google.AdsCustomer), args.Error(1)
}

func (m *MockAds) FindOrCreateLabel(ctx context.Context, customerID, name string) (string, error) {
	args := m.Called(ctx, customerID, name)
	return args.String(0), args.Error(1)
}

func (m *MockAds) UpsertConversionAction(ctx context.Context, customerID string, action google.ConversionAction) (string, error) {
	args := m.Called(ctx, customerID, action)
	return args.String(0), args.Error(1)
}

func (m *MockAds) ConversionActionExists(ctx context.Context, customerID, actionID string) (bool, error) {
	args := m.Called(ctx, customerID, actionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAds) GetConversionSendTo(ctx context.Context, customerID, actionID string) (string, string, error) {
	args := m.Called(ctx, customerID, actionID)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockAds) RemoveConversionAction(ctx context.Context, customerID, actionID string) error {
	args := m.Called(ctx, customerID, actionID)
	return args.Error(0)
}

var (
	_ google.GTM = (*MockGTM)(nil)
	_ google.GA4 = (*MockGA4)(nil)
	_ google.Ads = (*MockAds)(nil)
)
