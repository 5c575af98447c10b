package config_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/verran-io/alterant/config"
	"github.com/verran-io/alterant/passwd"
	"github.com/verran-io/alterant/purge"
	"github.com/verran-io/alterant/report"
)

var loadTests = []struct { // nolint:gochecknoglobals
	name     string
	document string

	expectedConfig *config.Config
	expectedErr    error
	expectError    bool
}{
	/* s0 */ {
		name: "test s0: should load a full config",
		document: `
database:
  driver: mysql
  dsn: "user:pass@tcp(127.0.0.1:3306)/survey"
  schema: survey
plan: plans/survey.yaml
purge:
  - table: survey_responses
    key_column: response_id
  - table: users
    key_column: user_id
    preserve: [admin]
report:
  users_table: users
  responses_table: survey_responses
passwd:
  table: users
`,
		expectedConfig: &config.Config{
			Database: config.Database{
				Driver: "mysql",
				DSN:    "user:pass@tcp(127.0.0.1:3306)/survey",
				Schema: "survey",
			},
			Plan: "plans/survey.yaml",
			Purge: []purge.Target{
				{Table: "survey_responses", KeyColumn: "response_id"},
				{Table: "users", KeyColumn: "user_id", Preserve: []string{"admin"}},
			},
			Report: report.Config{
				UsersTable:     "users",
				ResponsesTable: "survey_responses",
			},
			Passwd: passwd.Config{
				Table: "users",
			},
		},
	},
	/* s1 */ {
		name: "test s1: should default the driver to mysql",
		document: `
database:
  dsn: "user:pass@tcp(127.0.0.1:3306)/survey"
`,
		expectedConfig: &config.Config{
			Database: config.Database{
				Driver: "mysql",
				DSN:    "user:pass@tcp(127.0.0.1:3306)/survey",
			},
		},
	},
	/* s2 */ {
		name: "test s2: should accept the sqlite driver",
		document: `
database:
  driver: sqlite
  dsn: survey.db
`,
		expectedConfig: &config.Config{
			Database: config.Database{
				Driver: "sqlite",
				DSN:    "survey.db",
			},
		},
	},

	/* e0 */ {
		name: "test e0: should reject an unknown driver",
		document: `
database:
  driver: postgres
  dsn: whatever
`,
		expectedErr: config.ErrUnknownDriver,
	},
	/* e1 */ {
		name: "test e1: should reject a missing dsn",
		document: `
database:
  driver: mysql
`,
		expectedErr: config.ErrMissingDSN,
	},
	/* e2 */ {
		name:        "test e2: should reject unknown fields",
		document:    "databse:\n  dsn: whatever\n",
		expectError: true,
	},
}

func TestLoad(t *testing.T) {
	t.Parallel()

	for _, test := range loadTests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := config.Load(strings.NewReader(test.document))

			switch {
			case test.expectedErr != nil:
				assert.ErrorIs(t, err, test.expectedErr)
			case test.expectError:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
				assert.Equal(t, test.expectedConfig, cfg)
			}
		})
	}
}
