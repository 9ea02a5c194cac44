package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiracleAig/IoT-WebUI/internal/database"
	"github.com/MiracleAig/IoT-WebUI/internal/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "nutrition dev\n", out)
}

func TestMigrateCommands(t *testing.T) {
	t.Setenv("NUTRITION_LOG_LEVEL", "error")
	dbPath := filepath.Join(t.TempDir(), "nutrition.db")

	out, err := execute(t, "migrate", "up", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "schema version 4 (dirty: false)\n", out)

	out, err = execute(t, "migrate", "version", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "schema version 4 (dirty: false)\n", out)

	out, err = execute(t, "migrate", "down", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "schema version 0 (dirty: false)\n", out)
}

func TestLookupCommand(t *testing.T) {
	t.Setenv("NUTRITION_SOURCE_TYPE", "none")
	t.Setenv("NUTRITION_LOG_LEVEL", "error")
	dbPath := filepath.Join(t.TempDir(), "nutrition.db")

	_, err := execute(t, "lookup", "012345", "--db", dbPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotFound)

	db, err := database.NewSQLiteDB(dbPath, nil)
	require.NoError(t, err)
	name := "Test Bar"
	require.NoError(t, db.UpsertProduct(context.Background(), &models.Product{
		Barcode: "012345", Name: &name, Source: "openfoodfacts",
	}))
	require.NoError(t, db.Close())

	out, err := execute(t, "lookup", "012345", "--db", dbPath)
	require.NoError(t, err)

	var p models.Product
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, "012345", p.Barcode)
	assert.Equal(t, "Test Bar", *p.Name)
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("NUTRITION_SOURCE_TYPE", "usda")

	_, err := execute(t, "migrate", "version", "--db", filepath.Join(t.TempDir(), "x.db"))
	assert.ErrorContains(t, err, "unsupported source type")
}
