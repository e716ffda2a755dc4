package tracking

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func syncedTracking(destinations domain.Destinations) *domain.Tracking {
	t := &domain.Tracking{
		TenantID: testTenant, CustomerID: testCustomer, Name: "Buy", Type: domain.TypeButtonClick,
		Destinations: destinations, Selector: ".buy",
		Status: domain.TrackingActive, GTMSyncState: domain.SyncSucceeded, AdsSyncState: domain.InitialAdsState(destinations),
		HealthStatus: domain.HealthUnchecked, GTMTriggerID: sp("11"),
	}
	if destinations.NeedsGA4() {
		t.GTMTagIDGA4 = sp("21")
	}
	if destinations.NeedsAds() {
		t.AdsSyncState = domain.SyncSucceeded
		t.GTMTagIDAds = sp("22")
		t.AdsConversionActionID = sp("555")
	}
	return t
}

func TestCheckHealth(t *testing.T) {
	tests := []struct {
		name         string
		destinations domain.Destinations
		setup        func(h *harness)
		want         domain.HealthStatus
	}{
		{
			name:         "healthy ga4",
			destinations: domain.Destinations{domain.DestinationGA4},
			setup: func(h *harness) {
				h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(true, nil)
				h.gtm.On("TriggerExists", mock.Anything, testWorkspace, "11").Return(true, nil)
				h.gtm.On("TagExists", mock.Anything, testWorkspace, "21").Return(true, nil)
			},
			want: domain.HealthHealthy,
		},
		{
			name:         "workspace gone",
			destinations: domain.Destinations{domain.DestinationGA4},
			setup: func(h *harness) {
				h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(false, nil)
			},
			want: domain.HealthWorkspaceGone,
		},
		{
			name:         "trigger deleted by hand",
			destinations: domain.Destinations{domain.DestinationGA4},
			setup: func(h *harness) {
				h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(true, nil)
				h.gtm.On("TriggerExists", mock.Anything, testWorkspace, "11").Return(false, nil)
				h.gtm.On("TagExists", mock.Anything, testWorkspace, "21").Return(false, nil)
			},
			want: domain.HealthMissingTrigger,
		},
		{
			name:         "ga4 tag missing",
			destinations: domain.Destinations{domain.DestinationGA4},
			setup: func(h *harness) {
				h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(true, nil)
				h.gtm.On("TriggerExists", mock.Anything, testWorkspace, "11").Return(true, nil)
				h.gtm.On("TagExists", mock.Anything, testWorkspace, "21").Return(false, nil)
			},
			want: domain.HealthMissingTag,
		},
		{
			name:         "conversion action removed",
			destinations: domain.Destinations{domain.DestinationBoth},
			setup: func(h *harness) {
				h.gtm.On("WorkspaceExists", mock.Anything, testWorkspace).Return(true, nil)
				h.gtm.On("TriggerExists", mock.Anything, testWorkspace, "11").Return(true, nil)
				h.gtm.On("TagExists", mock.Anything, testWorkspace, mock.Anything).Return(true, nil)
				h.ads.On("ConversionActionExists", mock.Anything, "1234567890", "555").Return(false, nil)
			},
			want: domain.HealthMissingConversion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.setup(h)
			existing := syncedTracking(tt.destinations)
			h.store.put(existing)

			got, err := h.syncer.CheckHealth(context.Background(), testTenant, existing.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.HealthStatus)
			assert.NotNil(t, got.HealthCheckedAt)

			stored := h.store.tracking(existing.ID)
			assert.Equal(t, tt.want, stored.HealthStatus)
			assert.Equal(t, domain.TrackingActive, stored.Status, "health checks never change the sync status")

			var details HealthDetails
			require.NoError(t, json.Unmarshal(stored.HealthDetails, &details))
			require.NotNil(t, details.Workspace)

			assert.Contains(t, h.publisher.types(), realtime.EventHealthChecked)
		})
	}
}

func TestCheckHealthUnknownTracking(t *testing.T) {
	h := newHarness()
	_, err := h.syncer.CheckHealth(context.Background(), testTenant, "trk-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
