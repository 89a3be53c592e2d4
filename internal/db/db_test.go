package db

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/talkclock/internal/settings"
)

func TestConnectSQLiteAndMigrate(t *testing.T) {
	database, err := Connect(Config{Backend: BackendSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(database)

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	store := settings.NewStore(database, nil, zerolog.Nop())
	if err := store.SaveVolume(context.Background(), 60); err != nil {
		t.Fatalf("SaveVolume: %v", err)
	}
	row, err := store.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if row.Volume == nil || *row.Volume != 60 {
		t.Fatalf("volume = %v", row.Volume)
	}

	UpdateConnectionMetrics(database)
}

func TestConnectUnknownBackend(t *testing.T) {
	if _, err := Connect(Config{Backend: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
