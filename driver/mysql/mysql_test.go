//nolint:gochecknoglobals
package mysql_test

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/verran-io/alterant/change"
	"github.com/verran-io/alterant/driver"
	"github.com/verran-io/alterant/driver/mysql"
)

// RDBMS versions to test against
var versions = []string{
	"mysql:8.0",
	"mysql:5.7",

	"mariadb:10.7",
	"mariadb:10.4",
}

// Templates for test structures
var (
	dropDatabase      = "DROP DATABASE testDatabase;"
	initEmptyDatabase = "CREATE DATABASE testDatabase;"
	initSurveyTables  = initEmptyDatabase +
		"CREATE TABLE testDatabase.users (" +
		"user_id varchar(64) not null, " +
		"name varchar(255) null, " +
		"primary key (user_id)" +
		") default charset utf8;" +
		"CREATE INDEX idx_users_name ON testDatabase.users (name);"

	defaultDriverConfig = mysql.DriverConfig{
		DatabaseName: "testDatabase",
	}
)

//
// -- Tests for Exists() ------------
//

var existsTests = []struct {
	name             string
	initialStructure string
	pred             change.Predicate

	expected    bool
	expectedErr error
}{
	/* s0 */ {
		name:             "test s0 - should find an existing table",
		initialStructure: initSurveyTables,
		pred:             change.Predicate{Kind: change.Table, Table: "users"},
		expected:         true,
	},
	/* s1 */ {
		name:             "test s1 - should not find a missing table",
		initialStructure: initEmptyDatabase,
		pred:             change.Predicate{Kind: change.Table, Table: "users"},
		expected:         false,
	},
	/* s2 */ {
		name:             "test s2 - should find an existing column",
		initialStructure: initSurveyTables,
		pred:             change.Predicate{Kind: change.Column, Table: "users", Name: "name"},
		expected:         true,
	},
	/* s3 */ {
		name:             "test s3 - should not find a missing column",
		initialStructure: initSurveyTables,
		pred:             change.Predicate{Kind: change.Column, Table: "users", Name: "password"},
		expected:         false,
	},
	/* s4 */ {
		name:             "test s4 - should find an existing index",
		initialStructure: initSurveyTables,
		pred:             change.Predicate{Kind: change.Index, Table: "users", Name: "idx_users_name"},
		expected:         true,
	},
	/* s5 */ {
		name:             "test s5 - should not find a missing index",
		initialStructure: initSurveyTables,
		pred:             change.Predicate{Kind: change.Index, Table: "users", Name: "idx_users_email"},
		expected:         false,
	},

	/* e0 */ {
		name:             "test e0 - should fail on an unknown object kind",
		initialStructure: initEmptyDatabase,
		pred:             change.Predicate{Kind: change.ObjectKind('x'), Table: "users"},
		expectedErr:      driver.ErrUnknownObjectKind,
	},
}

func TestExists(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/mysql")
	}

	runForAllMysqlVersions(t, "Exists", func(t *testing.T, version string, conn *sql.DB) {
		t.Helper()

		for _, test := range existsTests {
			test := test
			t.Run(test.name, func(t *testing.T) {
				initDatabase(t, conn, test.initialStructure)
				defer cleanDatabase(t, conn)

				drv := mysql.NewDriver(conn, defaultDriverConfig)

				exists, err := drv.Exists(context.Background(), test.pred)

				if test.expectedErr != nil {
					assert.ErrorIs(t, err, test.expectedErr)
				} else {
					assert.NoError(t, err)
					assert.Equal(t, test.expected, exists)
				}
			})
		}
	})
}

//
// -- Tests for Apply() ------------
//

func TestApply(t *testing.T) {
	t.Parallel()

	if testing.Short() {
		t.Skip("skipping integration test for driver/mysql")
	}

	runForAllMysqlVersions(t, "Apply", func(t *testing.T, version string, conn *sql.DB) {
		t.Helper()

		t.Run("should apply define and backfill together", func(t *testing.T) {
			initDatabase(t, conn, initSurveyTables+
				"INSERT INTO testDatabase.users (user_id, name) VALUES ('admin', 'Admin'), ('u1', 'One');")
			defer cleanDatabase(t, conn)

			drv := mysql.NewDriver(conn, defaultDriverConfig)

			chg := change.Change{
				Name:    "add_users_password",
				Creates: change.Predicate{Kind: change.Column, Table: "users", Name: "password"},
				Define:  change.Statement{SQL: "ALTER TABLE testDatabase.users ADD COLUMN password VARCHAR(255) NULL"},
				Backfill: []change.Statement{
					{SQL: "UPDATE testDatabase.users SET password = ? WHERE user_id = ?", Args: []any{"admin123", "admin"}},
					{SQL: "UPDATE testDatabase.users SET password = ? WHERE user_id != ? AND password IS NULL", Args: []any{"Welcome123!", "admin"}},
				},
			}

			assert.NoError(t, drv.Apply(context.Background(), chg))

			exists, err := drv.Exists(context.Background(), chg.Creates)
			assert.NoError(t, err)
			assert.True(t, exists)

			var adminPassword, userPassword string
			assert.NoError(t, conn.QueryRow("SELECT password FROM testDatabase.users WHERE user_id = 'admin'").Scan(&adminPassword))
			assert.NoError(t, conn.QueryRow("SELECT password FROM testDatabase.users WHERE user_id = 'u1'").Scan(&userPassword))
			assert.Equal(t, "admin123", adminPassword)
			assert.Equal(t, "Welcome123!", userPassword)
		})

		// MySQL commits DDL implicitly; only the DML part of a failed
		// change can be rolled back.
		t.Run("should roll back backfill DML on failure", func(t *testing.T) {
			initDatabase(t, conn, initEmptyDatabase)
			defer cleanDatabase(t, conn)

			drv := mysql.NewDriver(conn, defaultDriverConfig)

			chg := change.Change{
				Name:    "add_results_table",
				Creates: change.Predicate{Kind: change.Table, Table: "assessment_results"},
				Define:  change.Statement{SQL: "CREATE TABLE testDatabase.assessment_results (id INT PRIMARY KEY)"},
				Backfill: []change.Statement{
					{SQL: "INSERT INTO testDatabase.assessment_results (id) VALUES (1)"},
					{SQL: "INSERT INTO testDatabase.no_such_table (id) VALUES (1)"},
				},
			}

			assert.Error(t, drv.Apply(context.Background(), chg))

			var count int
			assert.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM testDatabase.assessment_results").Scan(&count))
			assert.Equal(t, 0, count, "backfill rows must be rolled back")
		})

		t.Run("should reject an empty define statement", func(t *testing.T) {
			initDatabase(t, conn, initEmptyDatabase)
			defer cleanDatabase(t, conn)

			drv := mysql.NewDriver(conn, defaultDriverConfig)

			err := drv.Apply(context.Background(), change.Change{Name: "empty"})
			assert.ErrorIs(t, err, driver.ErrEmptyStatement)
		})
	})
}

//
// --- utility stuff ---------------------
//

func initDatabase(t *testing.T, conn *sql.DB, structure string) {
	t.Helper()

	if _, err := conn.Exec(structure); err != nil {
		t.Fatalf("error when initializing database: %s", err)
	}
}

func cleanDatabase(t *testing.T, conn *sql.DB) {
	t.Helper()

	if _, err := conn.Exec(dropDatabase); err != nil {
		t.Fatalf("failed to drop database after test: %s", err)
	}
}

func runForAllMysqlVersions(t *testing.T, baseName string, test func(t *testing.T, version string, conn *sql.DB)) {
	t.Helper()

	for _, version := range versions {
		version := version
		testName := fmt.Sprintf("%s@%s", baseName, version)
		t.Run(testName, func(t *testing.T) {
			t.Parallel()

			rootPassword := randomPassword()

			ctx, mysqlC := makeTestContainer(t, version, rootPassword)
			defer func() {
				if err := mysqlC.Terminate(ctx); err != nil {
					t.Fatalf("failed to terminate test container: %s", err)
				}
			}()

			conn := connect(ctx, t, mysqlC, rootPassword)
			defer func() {
				if err := conn.Close(); err != nil {
					t.Fatalf("failed to close connection to test database: %s", err)
				}
			}()

			test(t, version, conn)
		})
	}
}

func makeTestContainer(t *testing.T, version string, rootPassword string) (context.Context, testcontainers.Container) {
	t.Helper()

	var env map[string]string

	if strings.HasPrefix(version, "mariadb") {
		env = map[string]string{
			"MARIADB_ROOT_PASSWORD": rootPassword,
		}
	} else {
		env = map[string]string{
			"MYSQL_ROOT_PASSWORD": rootPassword,
		}
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        version,
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForListeningPort("3306"),
		Env:          env,
		Cmd: []string{
			"--table_definition_cache=10",
			"--performance_schema=0",
		},
	}

	mysqlC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatal(err)
	}

	return ctx, mysqlC
}

func connect(ctx context.Context, t *testing.T, mysqlC testcontainers.Container, rootPassword string) *sql.DB {
	t.Helper()

	endpoint, err := mysqlC.Endpoint(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	conn, err := sql.Open("mysql",
		fmt.Sprintf("root:%s@tcp(%s)/mysql?multiStatements=true", rootPassword, endpoint))

	if err != nil {
		t.Fatal(err)
	}

	return conn
}

func randomPassword() string {
	const length = 8
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to generate a random password: %w", err))
	}
	return fmt.Sprintf("%x", b)[:length]
}
