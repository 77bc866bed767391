package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestLogFieldsCapturesPgxDetails(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ux_payments_active_idempotency",
		TableName:      "payments",
		Message:        "duplicate key value violates unique constraint",
	}
	fields := LogFields(Wrap(CodeConflict, fmt.Errorf("insert payment: %w", pgErr), "payment exists"))

	if fields["error_code"] != CodeConflict {
		t.Fatalf("expected conflict code, got %v", fields["error_code"])
	}
	if fields["pg_code"] != "23505" || fields["pg_constraint"] != "ux_payments_active_idempotency" || fields["pg_table"] != "payments" {
		t.Fatalf("unexpected pg details %v", fields)
	}
	if chain, _ := fields["error_chain"].([]string); len(chain) != 3 {
		t.Fatalf("expected three links in chain, got %v", fields["error_chain"])
	}
}

func TestLogFieldsCapturesLibPQDetails(t *testing.T) {
	fields := LogFields(fmt.Errorf("query: %w", &pq.Error{Code: "40001", Table: "outbox_events"}))
	if fields["pg_code"] != "40001" || fields["pg_table"] != "outbox_events" {
		t.Fatalf("unexpected pq details %v", fields)
	}
	if _, ok := fields["error_code"]; ok {
		t.Fatalf("untyped errors carry no code")
	}
}

func TestLogFieldsPlainError(t *testing.T) {
	fields := LogFields(fmt.Errorf("plain"))
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields should be omitted for non-postgres errors")
	}
	if chain, _ := fields["error_chain"].([]string); len(chain) != 1 {
		t.Fatalf("unexpected chain %v", fields["error_chain"])
	}
	if len(LogFields(nil)) != 0 {
		t.Fatalf("nil error should produce no fields")
	}
}
