package dialect

import "testing"

func TestIsPostgres(t *testing.T) {
	if !IsPostgres(PGX) {
		t.Error("expected pgx to be postgres")
	}
	if IsPostgres(SQLite3) {
		t.Error("expected sqlite3 to not be postgres")
	}
}

func TestJSONExtract(t *testing.T) {
	got := JSONExtract(SQLite3, "payload", "status_code")
	if got != "json_extract(payload, '$.status_code')" {
		t.Errorf("sqlite: got %q", got)
	}
	got = JSONExtract(PGX, "payload", "status_code")
	if got != "payload::jsonb->>'status_code'" {
		t.Errorf("pgx: got %q", got)
	}
}

func TestJSONType(t *testing.T) {
	if JSONType(SQLite3) != "TEXT" {
		t.Errorf("sqlite: got %q", JSONType(SQLite3))
	}
	if JSONType(PGX) != "JSONB" {
		t.Errorf("pgx: got %q", JSONType(PGX))
	}
}

func TestTimestampType(t *testing.T) {
	if TimestampType(SQLite3) != "TIMESTAMP" {
		t.Errorf("sqlite: got %q", TimestampType(SQLite3))
	}
	if TimestampType(PGX) != "TIMESTAMPTZ" {
		t.Errorf("pgx: got %q", TimestampType(PGX))
	}
}
