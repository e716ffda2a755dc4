package db

import (
	"database/sql"
	"fmt"
)

// schemaStatements are applied in order on startup; every statement is idempotent.
var schemaStatements = []struct {
	name  string
	query string
}{
	{"tenants table", `
		CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			gtm_account_id TEXT,
			ga4_account_id TEXT,
			ga4_property_id TEXT,
			bootstrapped_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"customers table", `
		CREATE TABLE IF NOT EXISTS customers (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			website_url TEXT NOT NULL,
			google_account_id TEXT,
			google_email TEXT,
			google_connection_id UUID,
			gtm_account_id TEXT,
			gtm_container_id TEXT,
			gtm_container_public_id TEXT,
			gtm_workspace_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"google_connections table", `
		CREATE TABLE IF NOT EXISTS google_connections (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			google_user_id TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			refresh_token_enc BYTEA,
			access_token TEXT,
			token_type TEXT,
			expiry TIMESTAMPTZ,
			scopes TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, customer_id)
		)`},
	{"ga4_properties table", `
		CREATE TABLE IF NOT EXISTS ga4_properties (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL UNIQUE REFERENCES customers(id) ON DELETE CASCADE,
			property_id TEXT NOT NULL,
			measurement_id TEXT NOT NULL,
			data_stream_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"google_ads_accounts table", `
		CREATE TABLE IF NOT EXISTS google_ads_accounts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			ads_customer_id TEXT NOT NULL,
			descriptive_name TEXT NOT NULL DEFAULT '',
			currency_code TEXT NOT NULL DEFAULT '',
			conversion_tracking_id TEXT,
			label_resource_name TEXT,
			is_primary BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (customer_id, ads_customer_id)
		)`},
	{"site_scans table", `
		CREATE TABLE IF NOT EXISTS site_scans (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			website_url TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'QUEUED',
			max_pages INTEGER NOT NULL,
			max_depth INTEGER NOT NULL,
			pages_processed INTEGER NOT NULL DEFAULT 0,
			total_urls_found INTEGER NOT NULL DEFAULT 0,
			crawl_state JSONB NOT NULL DEFAULT '{}',
			phase2_offset INTEGER NOT NULL DEFAULT 0,
			technologies JSONB NOT NULL DEFAULT '{}',
			live_discovery JSONB NOT NULL DEFAULT '{}',
			niche TEXT,
			niche_confidence DOUBLE PRECISION,
			niche_signals JSONB,
			confirmed_niche TEXT,
			login_detected BOOLEAN NOT NULL DEFAULT FALSE,
			login_url TEXT,
			authenticated_pages_count INTEGER NOT NULL DEFAULT 0,
			readiness_score INTEGER,
			readiness_narrative TEXT,
			summary JSONB,
			chunk_lease_until TIMESTAMPTZ,
			error TEXT,
			phase1_completed_at TIMESTAMPTZ,
			niche_detected_at TIMESTAMPTZ,
			phase2_completed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"scan_pages table", `
		CREATE TABLE IF NOT EXISTS scan_pages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			scan_id UUID NOT NULL REFERENCES site_scans(id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			depth INTEGER NOT NULL DEFAULT 0,
			status_code INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			page_type TEXT NOT NULL DEFAULT 'other',
			has_form BOOLEAN NOT NULL DEFAULT FALSE,
			has_cta BOOLEAN NOT NULL DEFAULT FALSE,
			has_video BOOLEAN NOT NULL DEFAULT FALSE,
			importance_score INTEGER NOT NULL DEFAULT 0,
			requires_auth BOOLEAN NOT NULL DEFAULT FALSE,
			elements JSONB NOT NULL DEFAULT '[]',
			text_sample TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (scan_id, url)
		)`},
	{"trackings table", `
		CREATE TABLE IF NOT EXISTS trackings (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE RESTRICT,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			destinations TEXT[] NOT NULL,
			selector TEXT NOT NULL DEFAULT '',
			url_pattern TEXT NOT NULL DEFAULT '',
			config JSONB,
			ga4_event_name TEXT NOT NULL DEFAULT '',
			ga4_parameters JSONB,
			conversion_value NUMERIC,
			currency_code TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			gtm_trigger_id TEXT,
			gtm_tag_id_ga4 TEXT,
			gtm_tag_id_ads TEXT,
			ads_conversion_action_id TEXT,
			ads_conversion_label TEXT,
			gtm_sync_state TEXT NOT NULL DEFAULT 'PENDING',
			ads_sync_state TEXT NOT NULL DEFAULT 'NOT_REQUIRED',
			last_error TEXT,
			sync_attempts INTEGER NOT NULL DEFAULT 0,
			last_sync_at TIMESTAMPTZ,
			health_status TEXT NOT NULL DEFAULT 'UNCHECKED',
			health_checked_at TIMESTAMPTZ,
			health_details JSONB,
			recommendation_id UUID,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (customer_id, type, selector, url_pattern)
		)`},
	{"tracking_recommendations table", `
		CREATE TABLE IF NOT EXISTS tracking_recommendations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			scan_id UUID NOT NULL REFERENCES site_scans(id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			page_url TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			name TEXT NOT NULL,
			selector TEXT NOT NULL DEFAULT '',
			url_pattern TEXT NOT NULL DEFAULT '',
			config JSONB,
			ga4_event_name TEXT NOT NULL DEFAULT '',
			destinations TEXT[] NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			tracking_id UUID REFERENCES trackings(id) ON DELETE SET NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (scan_id, page_url, type, selector)
		)`},
	{"site_credentials table", `
		CREATE TABLE IF NOT EXISTS site_credentials (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			domain TEXT NOT NULL,
			login_url TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL,
			password_enc BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, domain)
		)`},
	{"sync_batches table", `
		CREATE TABLE IF NOT EXISTS sync_batches (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL REFERENCES customers(id) ON DELETE CASCADE,
			status TEXT NOT NULL DEFAULT 'RUNNING',
			total_jobs INTEGER NOT NULL DEFAULT 0,
			completed_jobs INTEGER NOT NULL DEFAULT 0,
			failed_jobs INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`},
	{"sync_jobs table", `
		CREATE TABLE IF NOT EXISTS sync_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			queue TEXT NOT NULL,
			action TEXT NOT NULL,
			tenant_id TEXT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			customer_id UUID NOT NULL,
			tracking_id UUID,
			batch_id UUID REFERENCES sync_batches(id) ON DELETE SET NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 5,
			run_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`},
	{"indexes", `
		CREATE INDEX IF NOT EXISTS idx_customers_tenant ON customers(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_trackings_tenant_customer ON trackings(tenant_id, customer_id);
		CREATE INDEX IF NOT EXISTS idx_sync_jobs_claim ON sync_jobs(queue, run_at) WHERE status = 'pending';
		CREATE INDEX IF NOT EXISTS idx_sync_jobs_running ON sync_jobs(started_at) WHERE status = 'running';
		CREATE INDEX IF NOT EXISTS idx_site_scans_tenant ON site_scans(tenant_id, customer_id);
		CREATE INDEX IF NOT EXISTS idx_scan_pages_importance ON scan_pages(scan_id, importance_score DESC, url);
		CREATE INDEX IF NOT EXISTS idx_recommendations_scan ON tracking_recommendations(scan_id, status)`},
	{"updated_at trigger function", `
		CREATE OR REPLACE FUNCTION set_updated_at() RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = NOW();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`},
	{"sync job notify function", `
		CREATE OR REPLACE FUNCTION notify_sync_job() RETURNS TRIGGER AS $$
		BEGIN
			IF NEW.status = 'pending' THEN
				PERFORM pg_notify('sync_jobs', NEW.queue);
			END IF;
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`},
	{"sync job notify trigger", `
		DROP TRIGGER IF EXISTS sync_jobs_notify ON sync_jobs;
		CREATE TRIGGER sync_jobs_notify
			AFTER INSERT OR UPDATE OF status ON sync_jobs
			FOR EACH ROW EXECUTE FUNCTION notify_sync_job()`},
}

// updatedAtTables get the set_updated_at trigger.
var updatedAtTables = []string{
	"tenants", "customers", "google_connections", "site_scans", "trackings",
	"tracking_recommendations", "site_credentials", "sync_batches", "sync_jobs",
}

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt.query); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	for _, table := range updatedAtTables {
		_, err := db.Exec(fmt.Sprintf(`
			DROP TRIGGER IF EXISTS %[1]s_updated_at ON %[1]s;
			CREATE TRIGGER %[1]s_updated_at BEFORE UPDATE ON %[1]s
				FOR EACH ROW EXECUTE FUNCTION set_updated_at()`, table))
		if err != nil {
			return fmt.Errorf("failed to create updated_at trigger on %s: %w", table, err)
		}
	}

	return nil
}
