package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/recommend"
	"github.com/oneclicktag/oneclicktag/internal/scan"
)

func TestStartScan(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scans.On("Start", mock.Anything, testTenant, "cust-1", scan.StartInput{}).
		Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanQueued, MaxPages: 50, MaxDepth: 3}, nil).Once()

	rec := env.do(http.MethodPost, "/v1/customers/cust-1/scans", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var data map[string]any
	decodeEnvelope(t, rec, &data)
	assert.Equal(t, "QUEUED", data["status"])

	pages := 20
	env.scans.On("Start", mock.Anything, testTenant, "cust-1", scan.StartInput{WebsiteURL: "https://shop.example.com", MaxPages: &pages}).
		Return(&domain.SiteScan{ID: "scan-2", Status: domain.ScanQueued, MaxPages: 20}, nil).Once()
	rec = env.do(http.MethodPost, "/v1/customers/cust-1/scans", `{"website_url":"https://shop.example.com","max_pages":20}`)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestProcessScanChunk(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scans.On("ProcessChunk", mock.Anything, testTenant, "scan-1", scan.ChunkInput{Phase: domain.Phase1, ChunkSize: 10}).
		Return(&scan.ChunkResult{Phase: domain.Phase1, Status: domain.ScanDiscovering, PagesProcessed: 10, HasMore: true}, nil)
	env.scans.On("ProcessChunk", mock.Anything, testTenant, "scan-2", mock.Anything).Return(nil, domain.ErrChunkInProgress)
	env.scans.On("ProcessChunk", mock.Anything, testTenant, "scan-3", mock.Anything).Return(nil, domain.ErrScanCancelled)

	rec := env.do(http.MethodPost, "/v1/scans/scan-1/chunk", `{"phase":"phase1","chunkSize":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result map[string]any
	decodeEnvelope(t, rec, &result)
	assert.Equal(t, true, result["hasMore"])
	assert.EqualValues(t, 10, result["pagesProcessed"])

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/scans/scan-2/chunk", `{"phase":"phase1"}`).Code)
	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/scans/scan-3/chunk", `{"phase":"phase2"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/scans/scan-1/chunk", "").Code)
}

func TestScanSteps(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scans.On("Get", mock.Anything, testTenant, "scan-1").Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanCrawling}, nil)
	env.scans.On("DetectNiche", mock.Anything, testTenant, "scan-1").Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanNicheDetected}, nil)
	env.scans.On("Finalize", mock.Anything, testTenant, "scan-1").Return(nil, domain.ErrPhaseNotReady)
	env.scans.On("Cancel", mock.Anything, testTenant, "scan-1").Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanCancelled}, nil)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/scans/scan-1", "").Code)

	rec := env.do(http.MethodPost, "/v1/scans/scan-1/detect-niche", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Niche detected", decodeEnvelope(t, rec, nil).Message)

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/scans/scan-1/finalize", "").Code)

	rec = env.do(http.MethodPost, "/v1/scans/scan-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	decodeEnvelope(t, rec, &data)
	assert.Equal(t, "CANCELLED", data["status"])
}

func TestConfirmNiche(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scans.On("ConfirmNiche", mock.Anything, testTenant, "scan-1", (*domain.Niche)(nil)).
		Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanDeepCrawling}, nil).Once()
	env.scans.On("ConfirmNiche", mock.Anything, testTenant, "scan-1", mock.MatchedBy(func(n *domain.Niche) bool {
		return n != nil && *n == domain.NicheSaaS
	})).Return(&domain.SiteScan{ID: "scan-1", Status: domain.ScanDeepCrawling}, nil).Once()

	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/scans/scan-1/confirm-niche", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodPost, "/v1/scans/scan-1/confirm-niche", `{"niche":"SAAS"}`).Code)
}

func TestListScanPages(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.scans.On("Pages", mock.Anything, testTenant, "scan-1", 10, 5).
		Return([]*domain.ScanPage{{URL: "https://example.com/pricing"}}, nil)
	env.scans.On("Pages", mock.Anything, testTenant, "scan-1", 0, 0).Return([]*domain.ScanPage{}, nil)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/scans/scan-1/pages?offset=10&limit=5", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/scans/scan-1/pages", "").Code)

	rec := env.do(http.MethodGet, "/v1/scans/scan-1/pages?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, rec, nil).Code)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/scans/scan-1/pages?limit=ten", "").Code)
}

func TestListRecommendations(t *testing.T) {
	env := newTestEnv(t, Config{})
	filter := db.RecommendationFilter{Status: domain.RecommendationPending, Severity: domain.SeverityCritical}
	env.recs.On("List", mock.Anything, testTenant, "scan-1", filter).Return(nil, nil)
	env.recs.On("List", mock.Anything, testTenant, "scan-1", db.RecommendationFilter{Status: "BOGUS"}).
		Return(nil, domain.Invalid("status", "unknown recommendation status"))

	rec := env.do(http.MethodGet, "/v1/scans/scan-1/recommendations?status=PENDING&severity=CRITICAL", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decodeEnvelope(t, rec, nil).Data))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/scans/scan-1/recommendations?status=BOGUS", "").Code)
}

func TestRecommendationDecisions(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.recs.On("Accept", mock.Anything, testTenant, "rec-1").
		Return(&domain.Recommendation{ID: "rec-1", Status: domain.RecommendationAccepted}, nil)
	env.recs.On("Reject", mock.Anything, testTenant, "rec-2").Return(nil, domain.ErrRecommendationCreated)

	rec := env.do(http.MethodPost, "/v1/recommendations/rec-1/accept", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var data map[string]any
	decodeEnvelope(t, rec, &data)
	assert.Equal(t, "ACCEPTED", data["status"])

	assert.Equal(t, http.StatusConflict, env.do(http.MethodPost, "/v1/recommendations/rec-2/reject", "").Code)
}

func TestBulkRecommendationRoutes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ids := []string{"rec-1", "rec-2"}
	env.recs.On("BulkAccept", mock.Anything, testTenant, ids).Return(&recommend.BulkAcceptResult{Accepted: 2, IDs: ids}, nil)
	env.recs.On("BulkCreateTrackings", mock.Anything, testTenant, ids).Return(&recommend.BulkCreateResult{
		Created:     1,
		Failed:      1,
		Total:       2,
		TrackingIDs: []string{"trk-1"},
		Errors:      []recommend.BulkCreateError{{RecommendationID: "rec-2", Error: "duplicate"}},
	}, nil)

	rec := env.do(http.MethodPost, "/v1/recommendations/bulk-accept", `{"ids":["rec-1","rec-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var accepted recommend.BulkAcceptResult
	decodeEnvelope(t, rec, &accepted)
	assert.Equal(t, 2, accepted.Accepted)

	// Partial failure still answers 200 with the per-item outcome
	rec = env.do(http.MethodPost, "/v1/recommendations/bulk-create", `{"ids":["rec-1","rec-2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var created map[string]any
	decodeEnvelope(t, rec, &created)
	assert.EqualValues(t, 1, created["created"])
	assert.EqualValues(t, 1, created["failed"])
	assert.Equal(t, []any{"trk-1"}, created["trackingIds"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/recommendations/bulk-create", "").Code)
}

func TestCredentialRoutes(t *testing.T) {
	env := newTestEnv(t, Config{})
	in := scan.CredentialInput{Domain: "example.com", Username: "qa@example.com", Password: "hunter2"}
	cred := &domain.SiteCredential{ID: "cred-1", CustomerID: "cust-1", Domain: "example.com", Username: "qa@example.com", Password: "hunter2"}
	env.scans.On("SaveCredential", mock.Anything, testTenant, "cust-1", in).Return(cred, nil)
	env.scans.On("ListCredentials", mock.Anything, testTenant, "cust-1").Return([]*domain.SiteCredential{cred}, nil)
	env.scans.On("DeleteCredential", mock.Anything, testTenant, "cred-1").Return(nil)
	env.scans.On("DeleteCredential", mock.Anything, testTenant, "cred-2").Return(domain.ErrNotFound)

	rec := env.do(http.MethodPost, "/v1/customers/cust-1/credentials",
		`{"domain":"example.com","username":"qa@example.com","password":"hunter2"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "hunter2")

	rec = env.do(http.MethodGet, "/v1/customers/cust-1/credentials", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/v1/credentials/cred-1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodDelete, "/v1/credentials/cred-2", "").Code)
}
