package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPaymentsMigrationContainsConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_payments.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no payments migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE TABLE IF NOT EXISTS payment_logs",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_transaction_id",
		"CREATE INDEX IF NOT EXISTS idx_payments_processor_transaction_id",
		"CREATE INDEX IF NOT EXISTS idx_payments_idempotency_key",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_active_idempotency",
		"WHERE status IN ('pending', 'completed')",
		"CHECK (status IN ('pending', 'completed', 'failed', 'refunded'))",
		"DROP TABLE IF EXISTS payments",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCatalogMigrationContainsUniqueness(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_courses_enrollments_certificates.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no catalog migration file found")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)
	for _, sub := range []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_enrollments_user_course ON enrollments (user_id, course_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_certificates_user_course ON certificates (user_id, course_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_certificates_number",
	} {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
