package postgresql

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/database/multistmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobqueue/migrations"
)

func TestDriverConfig_SendsFilesWhole(t *testing.T) {
	assert.False(t, driverConfig().MultiStatementEnabled)
}

func TestMigrations_DollarQuotesBalanced(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, name := range files {
		t.Run(name, func(t *testing.T) {
			body, err := fs.ReadFile(migrations.FS, name)
			require.NoError(t, err)
			assert.Zero(t, strings.Count(string(body), "$$")%2, "unbalanced $$ in %s", name)
		})
	}
}

// Splitting on ';' would cut the trigger function apart, which is why the
// driver keeps each file as one statement.
func TestMigrations_SemicolonSplitBreaksFunctionBody(t *testing.T) {
	body, err := fs.ReadFile(migrations.FS, "000001_create_jobs.up.sql")
	require.NoError(t, err)
	require.Contains(t, string(body), "$$")

	var unbalanced int
	err = multistmt.Parse(bytes.NewReader(body), []byte(";"), len(body)+1, func(stmt []byte) bool {
		if strings.Count(string(stmt), "$$")%2 != 0 {
			unbalanced++
		}
		return true
	})
	require.NoError(t, err)
	assert.Positive(t, unbalanced)
}
