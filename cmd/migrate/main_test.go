package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunPrintsRenderedMigrations(t *testing.T) {
	t.Setenv("TAXLEDGER_ARCHIVE_PROJECT_ID", "my-proj")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--dry-run"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "-- 0001_create_ingestion_runs.sql")
	assert.Contains(t, out.String(), "`my-proj.taxledger.ingestion_runs`")
}
