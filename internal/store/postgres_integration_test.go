package store

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestPostgresStoreContract(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CANVAS_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CANVAS_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	runContract(t, func(t *testing.T) Store {
		if err := Reset(ctx, db); err != nil {
			t.Fatalf("reset schema: %v", err)
		}
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
		return NewPostgresStore(db)
	})
}
