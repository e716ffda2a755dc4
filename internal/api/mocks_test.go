package api

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/mock"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"

	"github.com/oneclicktag/oneclicktag/internal/auth"
	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/google"
	"github.com/oneclicktag/oneclicktag/internal/jobs"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/scan"
	"github.com/oneclicktag/oneclicktag/internal/tracking"
)

const (
	testToken  = "good-token"
	testTenant = "tenant-1"
	testUser   = "user-1"
)

// stubValidator accepts testToken only
type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if token != testToken {
		return nil, errors.New("token is malformed")
	}
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: testUser},
		TenantID:         testTenant,
		Email:            "user@example.com",
	}, nil
}

// ret0 returns the first mock return value as T, tolerating an untyped nil
func ret0[T any](args mock.Arguments) T {
	var zero T
	if v := args.Get(0); v != nil {
		return v.(T)
	}
	return zero
}

type MockPinger struct{ mock.Mock }

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockCustomerStore struct{ mock.Mock }

func (m *MockCustomerStore) EnsureTenant(ctx context.Context, tenantID, name string) error {
	return m.Called(ctx, tenantID, name).Error(0)
}

func (m *MockCustomerStore) CreateCustomer(ctx context.Context, c *domain.Customer) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockCustomerStore) GetCustomer(ctx context.Context, tenantID, customerID string) (*domain.Customer, error) {
	args := m.Called(ctx, tenantID, customerID)
	return ret0[*domain.Customer](args), args.Error(1)
}

func (m *MockCustomerStore) ListCustomers(ctx context.Context, tenantID string) ([]*domain.Customer, error) {
	args := m.Called(ctx, tenantID)
	return ret0[[]*domain.Customer](args), args.Error(1)
}

func (m *MockCustomerStore) LinkCustomerGoogle(ctx context.Context, tenantID, customerID, googleAccountID, email, connectionID string) error {
	return m.Called(ctx, tenantID, customerID, googleAccountID, email, connectionID).Error(0)
}

type MockTrackingService struct{ mock.Mock }

func (m *MockTrackingService) Create(ctx context.Context, tenantID string, in tracking.CreateInput) (*tracking.Result, error) {
	args := m.Called(ctx, tenantID, in)
	return ret0[*tracking.Result](args), args.Error(1)
}

func (m *MockTrackingService) Update(ctx context.Context, tenantID, trackingID string, in tracking.UpdateInput) (*tracking.Result, error) {
	args := m.Called(ctx, tenantID, trackingID, in)
	return ret0[*tracking.Result](args), args.Error(1)
}

func (m *MockTrackingService) Resync(ctx context.Context, tenantID, trackingID string) (*tracking.Result, error) {
	args := m.Called(ctx, tenantID, trackingID)
	return ret0[*tracking.Result](args), args.Error(1)
}

func (m *MockTrackingService) Delete(ctx context.Context, tenantID, trackingID string) ([]*jobs.JobHandle, error) {
	args := m.Called(ctx, tenantID, trackingID)
	return ret0[[]*jobs.JobHandle](args), args.Error(1)
}

func (m *MockTrackingService) Get(ctx context.Context, tenantID, trackingID string) (*domain.Tracking, error) {
	args := m.Called(ctx, tenantID, trackingID)
	return ret0[*domain.Tracking](args), args.Error(1)
}

func (m *MockTrackingService) List(ctx context.Context, tenantID, customerID string) ([]*domain.Tracking, error) {
	args := m.Called(ctx, tenantID, customerID)
	return ret0[[]*domain.Tracking](args), args.Error(1)
}

func (m *MockTrackingService) Status(ctx context.Context, tenantID, trackingID string) (*tracking.StatusView, error) {
	args := m.Called(ctx, tenantID, trackingID)
	return ret0[*tracking.StatusView](args), args.Error(1)
}

func (m *MockTrackingService) SyncBatch(ctx context.Context, tenantID, customerID string, trackingIDs []string) (*tracking.BatchResult, error) {
	args := m.Called(ctx, tenantID, customerID, trackingIDs)
	return ret0[*tracking.BatchResult](args), args.Error(1)
}

func (m *MockTrackingService) GetBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	args := m.Called(ctx, tenantID, batchID)
	return ret0[*db.SyncBatch](args), args.Error(1)
}

func (m *MockTrackingService) PauseBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	args := m.Called(ctx, tenantID, batchID)
	return ret0[*db.SyncBatch](args), args.Error(1)
}

func (m *MockTrackingService) ResumeBatch(ctx context.Context, tenantID, batchID string) (*db.SyncBatch, error) {
	args := m.Called(ctx, tenantID, batchID)
	return ret0[*db.SyncBatch](args), args.Error(1)
}

type MockJobStatusReader struct{ mock.Mock }

func (m *MockJobStatusReader) GetJobStatus(ctx context.Context, tenantID, queue, jobID string) (*jobs.JobStatus, error) {
	args := m.Called(ctx, tenantID, queue, jobID)
	return ret0[*jobs.JobStatus](args), args.Error(1)
}

type MockScanService struct{ mock.Mock }

func (m *MockScanService) Start(ctx context.Context, tenantID, customerID string, in scan.StartInput) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, customerID, in)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) Get(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, scanID)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) Pages(ctx context.Context, tenantID, scanID string, offset, limit int) ([]*domain.ScanPage, error) {
	args := m.Called(ctx, tenantID, scanID, offset, limit)
	return ret0[[]*domain.ScanPage](args), args.Error(1)
}

func (m *MockScanService) ProcessChunk(ctx context.Context, tenantID, scanID string, in scan.ChunkInput) (*scan.ChunkResult, error) {
	args := m.Called(ctx, tenantID, scanID, in)
	return ret0[*scan.ChunkResult](args), args.Error(1)
}

func (m *MockScanService) DetectNiche(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, scanID)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) ConfirmNiche(ctx context.Context, tenantID, scanID string, override *domain.Niche) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, scanID, override)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) Finalize(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, scanID)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) Cancel(ctx context.Context, tenantID, scanID string) (*domain.SiteScan, error) {
	args := m.Called(ctx, tenantID, scanID)
	return ret0[*domain.SiteScan](args), args.Error(1)
}

func (m *MockScanService) SaveCredential(ctx context.Context, tenantID, customerID string, in scan.CredentialInput) (*domain.SiteCredential, error) {
	args := m.Called(ctx, tenantID, customerID, in)
	return ret0[*domain.SiteCredential](args), args.Error(1)
}

func (m *MockScanService) ListCredentials(ctx context.Context, tenantID, customerID string) ([]*domain.SiteCredential, error) {
	args := m.Called(ctx, tenantID, customerID)
	return ret0[[]*domain.SiteCredential](args), args.Error(1)
}

func (m *MockScanService) DeleteCredential(ctx context.Context, tenantID, id string) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

type MockRecommendationService struct{ mock.Mock }

func (m *MockRecommendationService) List(ctx context.Context, tenantID, scanID string, filter db.RecommendationFilter) ([]*domain.Recommendation, error) {
	args := m.Called(ctx, tenantID, scanID, filter)
	return ret0[[]*domain.Recommendation](args), args.Error(1)
}

func (m *MockRecommendationService) Accept(ctx context.Context, tenantID, id string) (*domain.Recommendation, error) {
	args := m.Called(ctx, tenantID, id)
	return ret0[*domain.Recommendation](args), args.Error(1)
}

func (m *MockRecommendationService) Reject(ctx context.Context, tenantID, id string) (*domain.Recommendation, error) {
	args := m.Called(ctx, tenantID, id)
	return ret0[*domain.Recommendation](args), args.Error(1)
}

func (m *MockRecommendationService) BulkAccept(ctx context.Context, tenantID string, ids []string) (*recommend.BulkAcceptResult, error) {
	args := m.Called(ctx, tenantID, ids)
	return ret0[*recommend.BulkAcceptResult](args), args.Error(1)
}

func (m *MockRecommendationService) BulkCreateTrackings(ctx context.Context, tenantID string, ids []string) (*recommend.BulkCreateResult, error) {
	args := m.Called(ctx, tenantID, ids)
	return ret0[*recommend.BulkCreateResult](args), args.Error(1)
}

type MockGoogleConnector struct{ mock.Mock }

func (m *MockGoogleConnector) Configured() bool {
	return m.Called().Bool(0)
}

func (m *MockGoogleConnector) AuthCodeURL(state string) string {
	return m.Called(state).String(0)
}

func (m *MockGoogleConnector) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	args := m.Called(ctx, code)
	return ret0[*oauth2.Token](args), args.Error(1)
}

func (m *MockGoogleConnector) UserInfo(ctx context.Context, tok *oauth2.Token) (*oauth2api.Userinfo, error) {
	args := m.Called(ctx, tok)
	return ret0[*oauth2api.Userinfo](args), args.Error(1)
}

func (m *MockGoogleConnector) SaveConnection(ctx context.Context, tenantID, customerID string, tok *oauth2.Token, info *oauth2api.Userinfo) (*db.GoogleConnection, error) {
	args := m.Called(ctx, tenantID, customerID, tok, info)
	return ret0[*db.GoogleConnection](args), args.Error(1)
}

func (m *MockGoogleConnector) ClientsFor(ctx context.Context, customer *domain.Customer) (*google.Clients, error) {
	args := m.Called(ctx, customer)
	return ret0[*google.Clients](args), args.Error(1)
}

type MockBootstrapper struct{ mock.Mock }

func (m *MockBootstrapper) Run(ctx context.Context, clients *google.Clients, customer *domain.Customer) *google.BootstrapReport {
	return ret0[*google.BootstrapReport](m.Called(ctx, clients, customer))
}
