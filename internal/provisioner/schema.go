package provisioner

import (
	"context"
	"fmt"
)

// baselineSchema is the set of tenant-local tables every new tenant database
// starts with. The table shapes are a contract with the business layer; the
// provisioner only guarantees they exist before the tenant is handed out.
var baselineSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenant_data (
		id serial PRIMARY KEY,
		key text,
		value text,
		created_at timestamptz DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS financial_statements (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		statement_type VARCHAR(50) NOT NULL CHECK (statement_type IN ('PL', 'BS', 'CF')),
		period_type VARCHAR(20) NOT NULL CHECK (period_type IN ('monthly', 'quarterly', 'yearly')),
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		scenario VARCHAR(50) DEFAULT 'actual',
		status VARCHAR(20) DEFAULT 'draft' CHECK (status IN ('draft', 'approved', 'locked')),
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_by VARCHAR(255),
		UNIQUE (tenant_id, statement_type, period_start, period_end, scenario)
	)`,

	`CREATE TABLE IF NOT EXISTS financial_line_items (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		statement_id UUID NOT NULL REFERENCES financial_statements(id) ON DELETE CASCADE,
		line_code VARCHAR(50) NOT NULL,
		line_name VARCHAR(255) NOT NULL,
		parent_code VARCHAR(50),
		line_order INTEGER DEFAULT 0,
		amount NUMERIC(20, 2) NOT NULL DEFAULT 0,
		currency VARCHAR(3) DEFAULT 'THB',
		notes TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_line_items_statement ON financial_line_items(statement_id)`,
	`CREATE INDEX IF NOT EXISTS idx_line_items_code ON financial_line_items(line_code)`,

	`CREATE TABLE IF NOT EXISTS scenarios (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		scenario_name VARCHAR(100) NOT NULL,
		scenario_type VARCHAR(50) NOT NULL CHECK (scenario_type IN ('best', 'base', 'worst', 'custom', 'ai_generated')),
		description TEXT,
		is_active BOOLEAN DEFAULT true,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_by VARCHAR(255),
		UNIQUE (tenant_id, scenario_name)
	)`,

	`CREATE TABLE IF NOT EXISTS scenario_assumptions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		scenario_id UUID NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
		assumption_category VARCHAR(50) NOT NULL CHECK (assumption_category IN ('revenue', 'expense', 'asset', 'liability', 'depreciation', 'tax', 'other')),
		assumption_key VARCHAR(100) NOT NULL,
		assumption_value NUMERIC(20, 4),
		assumption_unit VARCHAR(20),
		notes TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_assumptions_scenario ON scenario_assumptions(scenario_id)`,

	`CREATE TABLE IF NOT EXISTS import_history (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		import_type VARCHAR(50) NOT NULL CHECK (import_type IN ('excel', 'csv', 'api', 'manual')),
		file_name VARCHAR(255),
		file_size INTEGER,
		status VARCHAR(20) NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
		rows_imported INTEGER DEFAULT 0,
		rows_failed INTEGER DEFAULT 0,
		error_log TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		created_by VARCHAR(255)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_history_tenant ON import_history(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_import_history_status ON import_history(status)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		entity_type VARCHAR(50) NOT NULL,
		entity_id UUID NOT NULL,
		action VARCHAR(20) NOT NULL CHECK (action IN ('create', 'update', 'delete', 'approve', 'lock')),
		changes JSONB,
		performed_by VARCHAR(255) NOT NULL,
		performed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		ip_address INET
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_tenant ON audit_log(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_performed ON audit_log(performed_at DESC)`,

	`CREATE TABLE IF NOT EXISTS dimension_config (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		dimension_type VARCHAR(50) NOT NULL CHECK (dimension_type IN ('row', 'column')),
		dimension_name VARCHAR(100) NOT NULL,
		hierarchy_level INTEGER DEFAULT 0,
		parent_id UUID REFERENCES dimension_config(id) ON DELETE CASCADE,
		is_custom BOOLEAN DEFAULT false,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (tenant_id, dimension_type, dimension_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dimension_tenant ON dimension_config(tenant_id)`,

	`CREATE TABLE IF NOT EXISTS dimensions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		dimension_code VARCHAR(50) UNIQUE NOT NULL,
		dimension_name VARCHAR(255) NOT NULL,
		dimension_type VARCHAR(50) NOT NULL,
		description TEXT,
		is_active BOOLEAN DEFAULT true,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dimensions_tenant ON dimensions(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_dimensions_code ON dimensions(dimension_code)`,

	`CREATE TABLE IF NOT EXISTS dimension_hierarchies (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		dimension_id UUID NOT NULL REFERENCES dimensions(id) ON DELETE CASCADE,
		parent_code VARCHAR(50),
		node_code VARCHAR(50) NOT NULL,
		node_name VARCHAR(255) NOT NULL,
		level INTEGER NOT NULL,
		sort_order INTEGER DEFAULT 0,
		is_leaf BOOLEAN DEFAULT false,
		metadata JSONB,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(dimension_id, node_code)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_hierarchies_dimension ON dimension_hierarchies(dimension_id)`,
	`CREATE INDEX IF NOT EXISTS idx_hierarchies_parent ON dimension_hierarchies(parent_code)`,
	`CREATE INDEX IF NOT EXISTS idx_hierarchies_node ON dimension_hierarchies(node_code)`,

	`CREATE TABLE IF NOT EXISTS statement_templates (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		tenant_id VARCHAR(255) NOT NULL,
		template_name VARCHAR(255) NOT NULL,
		statement_type VARCHAR(10) NOT NULL CHECK (statement_type IN ('PL', 'BS', 'CF')),
		description TEXT,
		line_items JSONB NOT NULL,
		validation_rules JSONB,
		is_default BOOLEAN DEFAULT false,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_templates_tenant ON statement_templates(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_templates_type ON statement_templates(statement_type)`,

	`CREATE TABLE IF NOT EXISTS projections (
		id VARCHAR(100) PRIMARY KEY,
		tenant_id VARCHAR(255),
		base_statement_id VARCHAR(100),
		scenario_id VARCHAR(100),
		projection_periods INTEGER,
		period_type VARCHAR(20),
		statement_count INTEGER,
		ratios JSONB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projections_tenant ON projections(tenant_id)`,
	`CREATE INDEX IF NOT EXISTS idx_projections_scenario ON projections(scenario_id)`,

	`CREATE TABLE IF NOT EXISTS projected_statements (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		projection_id VARCHAR(100) NOT NULL,
		statement_type VARCHAR(50) NOT NULL,
		period_number INTEGER NOT NULL,
		period_start DATE NOT NULL,
		period_end DATE NOT NULL,
		line_items JSONB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_projected_statements_projection ON projected_statements(projection_id)`,
}

// bootstrapSchema creates the baseline tables on a fresh tenant database,
// connected as the tenant role so object ownership lands on the tenant.
func bootstrapSchema(ctx context.Context, conn Conn) error {
	for _, stmt := range baselineSchema {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}
