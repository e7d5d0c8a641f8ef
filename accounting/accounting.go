// Package accounting declares the general ledger tables: chart of accounts,
// journal entries and lines, expenses and daily closings.
package accounting

import (
	"fmt"
	"slices"

	"github.com/platforma-dev/clinicdb/database"
)

// AccountType classifies an account for double-entry posting.
type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Revenue   AccountType = "revenue"
	Expense   AccountType = "expense"
)

var accountTypes = []AccountType{Asset, Liability, Equity, Revenue, Expense}

// ErrUnknownAccountType is returned for account types outside the chart of accounts.
var ErrUnknownAccountType = fmt.Errorf("unknown account type, expected one of %v", accountTypes)

// ParseAccountType validates an account type.
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(s)
	if !slices.Contains(accountTypes, t) {
		return "", fmt.Errorf("%q: %w", s, ErrUnknownAccountType)
	}
	return t, nil
}

// Account is a chart of accounts entry.
type Account struct {
	ID       int64       `db:"id"`
	Code     string      `db:"code"`
	Name     string      `db:"name"`
	Type     AccountType `db:"type"`
	IsActive bool        `db:"is_active"`
}

// Repository owns the accounting schema.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Steps returns the accounting schema history. Entries are never reordered or removed.
func (r *Repository) Steps() []database.Step {
	return []database.Step{
		database.CreateTable("001_accounts", "accounts",
			"id {{pk}}",
			"code VARCHAR(20) NOT NULL UNIQUE",
			"name VARCHAR(200) NOT NULL",
			"type VARCHAR(20) NOT NULL",
			"parent_id INTEGER REFERENCES accounts (id)",
			"is_active BOOLEAN NOT NULL DEFAULT TRUE",
		),
		database.CreateTable("002_journal_entries", "journal_entries",
			"id {{pk}}",
			"entry_date DATE NOT NULL",
			"description TEXT NOT NULL DEFAULT ''",
			"reference VARCHAR(100)",
			"created_by INTEGER REFERENCES users (id)",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.CreateTable("003_journal_lines", "journal_lines",
			"id {{pk}}",
			"entry_id INTEGER NOT NULL REFERENCES journal_entries (id) ON DELETE CASCADE",
			"account_id INTEGER NOT NULL REFERENCES accounts (id)",
			"debit NUMERIC(14,2) NOT NULL DEFAULT 0",
			"credit NUMERIC(14,2) NOT NULL DEFAULT 0",
		),
		database.CreateTable("004_expenses", "expenses",
			"id {{pk}}",
			"expense_date DATE NOT NULL",
			"amount NUMERIC(12,2) NOT NULL",
			"description TEXT NOT NULL DEFAULT ''",
			"account_id INTEGER REFERENCES accounts (id)",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.CreateTable("005_daily_closings", "daily_closings",
			"id {{pk}}",
			"closing_date DATE NOT NULL UNIQUE",
			"total_revenue NUMERIC(14,2) NOT NULL DEFAULT 0",
			"total_expenses NUMERIC(14,2) NOT NULL DEFAULT 0",
			"closed_by INTEGER REFERENCES users (id)",
			"closed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.AddColumn("006_journal_lines_memo", "journal_lines", "memo", "TEXT"),
		database.AddUniqueIndex("007_journal_entries_reference", "journal_entries_reference_key", "journal_entries", "reference"),
	}
}
