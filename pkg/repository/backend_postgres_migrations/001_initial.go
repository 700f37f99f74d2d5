package backend_postgres_migrations

import (
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigration(upInitial, downInitial)
}

func upInitial(tx *sql.Tx) error {
	// Ensure UUID extension is available
	if _, err := tx.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`); err != nil {
		return err
	}

	createStatements := []string{
		// Sandbox status enum (lowercase to match Go constants)
		`CREATE TYPE sandbox_status AS ENUM ('active', 'pausing', 'paused');`,

		// Sandbox records, one row per (user, template)
		`CREATE TABLE IF NOT EXISTS sandbox (
			id SERIAL PRIMARY KEY,
			external_id UUID DEFAULT uuid_generate_v4() UNIQUE NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			template VARCHAR(255) NOT NULL,
			sandbox_id VARCHAR(255) NOT NULL,
			status sandbox_status NOT NULL DEFAULT 'active',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, template)
		);`,

		// Subscription plans, used by the entitlement check
		`CREATE TABLE IF NOT EXISTS plan (
			id SERIAL PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(64) NOT NULL DEFAULT 'free',
			premium BOOLEAN NOT NULL DEFAULT FALSE,
			expires_at TIMESTAMP WITH TIME ZONE
		);`,

		// Indexes
		`CREATE INDEX idx_sandbox_user_template ON sandbox(user_id, template);`,
		`CREATE INDEX idx_sandbox_updated_at ON sandbox(updated_at DESC);`,
	}

	for _, stmt := range createStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

func downInitial(tx *sql.Tx) error {
	dropStatements := []string{
		`DROP TABLE IF EXISTS plan;`,
		`DROP TABLE IF EXISTS sandbox;`,
		`DROP TYPE IF EXISTS sandbox_status;`,
	}

	for _, stmt := range dropStatements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}
