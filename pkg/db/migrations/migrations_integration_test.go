//go:build integration

package migrations_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/loci-destinations/pkg/db/migrations"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if err := godotenv.Load("../../../.env.test"); err != nil {
		log.Println("Warning: .env.test file not found for migration integration tests.")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(context.Background()))
	return db
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, migrations.Run(db))

	for _, table := range []string{"places", "reviews", "user_favorite_places"} {
		var name string
		err := db.QueryRow("SELECT table_name FROM information_schema.tables WHERE table_name = $1", table).Scan(&name)
		require.NoError(t, err, "table %q not found", table)
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, migrations.Run(db))
	require.NoError(t, migrations.Run(db), "second run should be a no-op")
}
