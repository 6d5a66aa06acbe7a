package storage

import (
	"strings"
	"testing"
)

func TestPostgresSchema_EnforcesSpatialUniqueness(t *testing.T) {
	ddl := postgresSchema[0]
	if !strings.Contains(ddl, "CONSTRAINT uq_pixels_position UNIQUE (x, y)") {
		t.Errorf("pixels table must carry a UNIQUE (x, y) constraint:\n%s", ddl)
	}
}

func TestPostgresSchema_IdempotentStatements(t *testing.T) {
	for i, ddl := range postgresSchema {
		if !strings.Contains(ddl, "IF NOT EXISTS") {
			t.Errorf("statement %d is not idempotent:\n%s", i, ddl)
		}
	}
}

func TestSQLiteSchema_EnforcesSpatialUniqueness(t *testing.T) {
	found := false
	for _, ddl := range sqliteSchema {
		if strings.Contains(ddl, "UNIQUE (x, y)") {
			found = true
		}
	}
	if !found {
		t.Error("sqlite schema must carry a UNIQUE (x, y) constraint")
	}
}
