package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdminIDList_ParsesAndSkipsMalformed(t *testing.T) {
	cfg := Config{AdminIDs: "6803856798, 42,,bogus, 7"}
	require.Equal(t, []int64{6803856798, 42, 7}, cfg.AdminIDList())
}

func TestAdminIDList_Empty(t *testing.T) {
	var cfg Config
	require.Empty(t, cfg.AdminIDList())
}

func TestResolvedExportSecret_FallsBackToWebhookSecret(t *testing.T) {
	cfg := Config{WebhookSecret: "hook"}
	require.Equal(t, "hook", cfg.ResolvedExportSecret())

	cfg.ExportSecret = "csv"
	require.Equal(t, "csv", cfg.ResolvedExportSecret())
}
