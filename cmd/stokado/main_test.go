package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["flush-worker"])
	assert.Contains(t, root.Long, "BUCKET_NAME")
}

func TestServe_RequiresConfiguration(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("FORNO_URL", "")

	root := NewRootCommand()
	root.SetArgs([]string{"serve"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FORNO_URL")
}

func TestFlushWorker_RequiresConfiguration(t *testing.T) {
	t.Setenv("CDN_DISTRIBUTION_ID", "")

	root := NewRootCommand()
	root.SetArgs([]string{"flush-worker"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CDN_DISTRIBUTION_ID")
}
