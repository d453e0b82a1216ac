package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"referral-bot/internal/models"
)

var ErrSchemaMissing = errors.New("users table missing after schema setup")

const usersDDL = `CREATE TABLE IF NOT EXISTS users (
	id BIGINT PRIMARY KEY,
	display_name VARCHAR(255),
	handle VARCHAR(255),
	referrer_id BIGINT,
	referral_count BIGINT NOT NULL DEFAULT 0 CHECK (referral_count >= 0),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

const referrerIndexDDL = `CREATE INDEX IF NOT EXISTS idx_users_referrer_id ON users (referrer_id)`

// EnsureSchema creates the users table if it does not exist. Existing data is left untouched.
func EnsureSchema(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)

	if err := db.Exec(usersDDL).Error; err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	if err := db.Exec(referrerIndexDDL).Error; err != nil {
		return fmt.Errorf("failed to create referrer index: %w", err)
	}
	if !db.Migrator().HasTable(&models.User{}) {
		return ErrSchemaMissing
	}
	return nil
}

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	// Default is the column default expression as reported by the database, empty when none.
	Default  string `json:"default,omitempty"`
}

// DescribeUsers lists the columns of the users table as the database reports them.
func DescribeUsers(ctx context.Context, db *gorm.DB) ([]Column, error) {
	types, err := db.WithContext(ctx).Migrator().ColumnTypes(&models.User{})
	if err != nil {
		return nil, fmt.Errorf("failed to read users columns: %w", err)
	}

	columns := make([]Column, 0, len(types))
	for _, ct := range types {
		nullable, _ := ct.Nullable()
		def, _ := ct.DefaultValue()
		columns = append(columns, Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
			Default:  def,
		})
	}
	return columns, nil
}
