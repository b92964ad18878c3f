// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// The version of postgres against which the tests are run if the
// POSTGRES_VERSION environment variable is not set.
const defaultPostgresVersion = "15.3"

// sourceConnStr and targetConnStr hold the connection strings to the two
// test containers created by SharedTestMain, generalizing the teacher's
// single-container tConnStr to a source/target pair.
var (
	sourceConnStr string
	targetConnStr string
)

// SharedTestMain starts a source and a target postgres container to be
// used by every test in a package, mirroring the teacher's SharedTestMain
// but running two containers instead of one so sync tests can exercise a
// real source->target hop.
func SharedTestMain(m *testing.M) {
	ctx := context.Background()

	pgVersion := os.Getenv("POSTGRES_VERSION")
	if pgVersion == "" {
		pgVersion = defaultPostgresVersion
	}

	sourceCtr, err := startContainer(ctx, pgVersion)
	if err != nil {
		log.Printf("failed to start source container: %v", err)
		os.Exit(1)
	}
	targetCtr, err := startContainer(ctx, pgVersion)
	if err != nil {
		log.Printf("failed to start target container: %v", err)
		os.Exit(1)
	}

	sourceConnStr, err = sourceCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}
	targetConnStr, err = targetCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		os.Exit(1)
	}

	exitCode := m.Run()

	if err := sourceCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate source container: %v", err)
	}
	if err := targetCtr.Terminate(ctx); err != nil {
		log.Printf("failed to terminate target container: %v", err)
	}

	os.Exit(exitCode)
}

func startContainer(ctx context.Context, pgVersion string) (*postgres.PostgresContainer, error) {
	waitForLogs := wait.
		ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(5 * time.Second)

	return postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:"+pgVersion),
		testcontainers.WithWaitStrategy(waitForLogs),
	)
}

// WithSourceAndTargetDatabases provisions a fresh, uniquely named database
// in each container and hands the caller both connection strings, mirroring
// the teacher's per-test setupTestDatabase isolation but doubled for a
// source/target pair.
func WithSourceAndTargetDatabases(t *testing.T, fn func(sourceURL, targetURL string)) {
	t.Helper()

	_, sourceURL, _ := createDatabase(t, sourceConnStr)
	_, targetURL, _ := createDatabase(t, targetConnStr)

	fn(sourceURL, targetURL)
}

func createDatabase(t *testing.T, adminConnStr string) (*sql.DB, string, string) {
	t.Helper()
	ctx := context.Background()

	admin, err := sql.Open("postgres", adminConnStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { admin.Close() })

	dbName := randomDBName()
	if _, err := admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))); err != nil {
		t.Fatal(err)
	}

	u, err := url.Parse(adminConnStr)
	if err != nil {
		t.Fatal(err)
	}
	u.Path = "/" + dbName
	connStr := u.String()

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	return db, connStr, dbName
}

func randomDBName() string {
	const length = 15
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))] // #nosec G404
	}

	return "testdb_" + string(b)
}
