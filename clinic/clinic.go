// Package clinic declares the clinic schema history: departments, patients,
// lab and radiology requests, payroll, and the fixes applied to the ledger tables.
package clinic

import "github.com/platforma-dev/clinicdb/database"

// DefaultDepartments are seeded once; existing rows are never touched.
var DefaultDepartments = []string{"General", "Marketing", "HR", "Laboratory", "Radiology", "Admin"}

// Repository owns the clinic schema. It must be registered after auth and accounting.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Steps returns the schema history. New steps are appended; shipped ones never change.
func (r *Repository) Steps() []database.Step {
	departments := make([]map[string]any, 0, len(DefaultDepartments))
	for _, name := range DefaultDepartments {
		departments = append(departments, map[string]any{"name": name})
	}

	return []database.Step{
		database.CreateTable("001_departments", "departments",
			"id {{pk}}",
			"name VARCHAR(100) NOT NULL UNIQUE",
			"is_active BOOLEAN NOT NULL DEFAULT TRUE",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.SeedRows("002_departments_seed", "departments", "name", departments...),
		database.AddColumn("003_expenses_department", "expenses", "department", "VARCHAR(100)"),
		database.RenameColumn("004_daily_closings_date", "daily_closings", "closing_date", "date"),
		database.AddColumn("005_users_department", "users", "department_id", "INTEGER REFERENCES departments (id)"),
		database.CreateTable("006_patients", "patients",
			"id {{pk}}",
			"file_number VARCHAR(50) NOT NULL UNIQUE",
			"full_name VARCHAR(200) NOT NULL",
			"birth_date DATE",
			"phone VARCHAR(50)",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.CreateTable("007_lab_requests", "lab_requests",
			"id {{pk}}",
			"patient_id INTEGER NOT NULL REFERENCES patients (id)",
			"department_id INTEGER REFERENCES departments (id)",
			"test_name VARCHAR(200) NOT NULL",
			"status VARCHAR(20) NOT NULL DEFAULT 'pending'",
			"requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.CreateTable("008_radiology_requests", "radiology_requests",
			"id {{pk}}",
			"patient_id INTEGER NOT NULL REFERENCES patients (id)",
			"department_id INTEGER REFERENCES departments (id)",
			"modality VARCHAR(50) NOT NULL",
			"status VARCHAR(20) NOT NULL DEFAULT 'pending'",
			"requested_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.CreateTable("009_payroll_periods", "payroll_periods",
			"id {{pk}}",
			"start_date DATE NOT NULL",
			"end_date DATE NOT NULL",
			"status VARCHAR(20) NOT NULL DEFAULT 'open'",
			"closed_at TIMESTAMP",
		),
		database.AddUniqueIndex("010_payroll_periods_range", "payroll_periods_range_key", "payroll_periods", "start_date", "end_date"),
		database.CreateTable("011_salary_slips", "salary_slips",
			"id {{pk}}",
			"period_id INTEGER NOT NULL REFERENCES payroll_periods (id)",
			"user_id INTEGER NOT NULL REFERENCES users (id)",
			"gross NUMERIC(12,2) NOT NULL DEFAULT 0",
			"deductions NUMERIC(12,2) NOT NULL DEFAULT 0",
			"net NUMERIC(12,2) NOT NULL DEFAULT 0",
			"created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP",
		),
		database.AddUniqueIndex("012_salary_slips_period_user", "salary_slips_period_user_key", "salary_slips", "period_id", "user_id"),
	}
}
