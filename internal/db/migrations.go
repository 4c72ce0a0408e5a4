package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	`DO $$
	BEGIN
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'project_status') THEN
			CREATE TYPE project_status AS ENUM ('DRAFT', 'OPEN', 'IN_PROGRESS', 'COMPLETED', 'CANCELLED', 'CLOSED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'proposal_status') THEN
			CREATE TYPE proposal_status AS ENUM ('DRAFT', 'PENDING', 'ACCEPTED', 'REJECTED', 'WITHDRAWN');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'contract_status') THEN
			CREATE TYPE contract_status AS ENUM ('DRAFT', 'ACTIVE', 'PAUSED', 'COMPLETED', 'CANCELLED', 'DISPUTED');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'milestone_status') THEN
			CREATE TYPE milestone_status AS ENUM ('pending', 'funded', 'in_progress', 'submitted', 'approved', 'released', 'disputed');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'transaction_type') THEN
			CREATE TYPE transaction_type AS ENUM ('fund', 'release', 'payout', 'refund', 'fee', 'escrow', 'withdrawal');
		END IF;
		IF NOT EXISTS (SELECT 1 FROM pg_type WHERE typname = 'transaction_status') THEN
			CREATE TYPE transaction_status AS ENUM ('pending', 'processing', 'success', 'failed', 'cancelled', 'refunded');
		END IF;
	END
	$$;`,
	`CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		owner_id UUID NOT NULL,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		currency VARCHAR(8) NOT NULL,
		status project_status NOT NULL DEFAULT 'DRAFT',
		allows_proposals BOOLEAN NOT NULL DEFAULT FALSE,
		max_proposals INT NOT NULL DEFAULT 50,
		proposal_count INT NOT NULL DEFAULT 0,
		view_count BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_projects_owner_id ON projects (owner_id);`,
	`CREATE INDEX IF NOT EXISTS idx_projects_status ON projects (status);`,
	`CREATE TABLE IF NOT EXISTS proposals (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		project_id UUID NOT NULL REFERENCES projects(id),
		bidder_id UUID NOT NULL,
		bid_amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		cover_letter TEXT NOT NULL DEFAULT '',
		estimated_delivery_days INT NOT NULL DEFAULT 0,
		status proposal_status NOT NULL DEFAULT 'PENDING',
		submitted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_proposals_project_id ON proposals (project_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_proposals_accepted_per_project
		ON proposals (project_id) WHERE status = 'ACCEPTED';`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_proposals_live_per_bidder
		ON proposals (project_id, bidder_id) WHERE status <> 'WITHDRAWN';`,
	`CREATE TABLE IF NOT EXISTS contracts (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		project_id UUID NOT NULL REFERENCES projects(id),
		buyer_id UUID NOT NULL,
		seller_id UUID NOT NULL,
		originating_proposal_id UUID REFERENCES proposals(id),
		title VARCHAR(255) NOT NULL,
		total_amount NUMERIC(18,2) NOT NULL,
		billed_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
		paid_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL,
		status contract_status NOT NULL DEFAULT 'DRAFT',
		allow_out_of_order_funding BOOLEAN NOT NULL DEFAULT FALSE,
		signed_by_buyer_at TIMESTAMPTZ,
		signed_by_seller_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_project_id ON contracts (project_id);`,
	`CREATE INDEX IF NOT EXISTS idx_contracts_status ON contracts (status);`,
	`CREATE TABLE IF NOT EXISTS milestones (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		contract_id UUID NOT NULL REFERENCES contracts(id),
		title VARCHAR(255) NOT NULL,
		order_index INT NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		status milestone_status NOT NULL DEFAULT 'pending',
		deliverable_url TEXT NOT NULL DEFAULT '',
		submission_notes TEXT NOT NULL DEFAULT '',
		funded_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		submitted_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ,
		released_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_milestones_order
		ON milestones (contract_id, order_index);`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		contract_id UUID REFERENCES contracts(id),
		milestone_id UUID REFERENCES milestones(id),
		type transaction_type NOT NULL,
		amount NUMERIC(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		status transaction_status NOT NULL DEFAULT 'pending',
		idempotency_key VARCHAR(128) NOT NULL DEFAULT '',
		provider VARCHAR(64) NOT NULL DEFAULT '',
		provider_reference VARCHAR(128) NOT NULL DEFAULT '',
		platform_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
		processor_fee NUMERIC(18,2) NOT NULL DEFAULT 0,
		net_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		error_code VARCHAR(64) NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INT NOT NULL DEFAULT 0,
		initiated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_contract_id ON transactions (contract_id) WHERE contract_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_milestone_id ON transactions (milestone_id) WHERE milestone_id IS NOT NULL;`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions (status);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_idempotency_key
		ON transactions (idempotency_key) WHERE idempotency_key <> '';`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
