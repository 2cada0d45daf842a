package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "execute", "migrate", "contracts", "executions", "bench"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "contractml", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestContractsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range contractsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "versions", "latest", "validate"} {
		assert.True(t, names[name], "expected contracts subcommand %q not found", name)
	}
}

func TestExecutionsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range executionsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected executions subcommand %q not found", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	warm := serveCmd.Flags().Lookup("warm")
	require.NotNil(t, warm)
	assert.Equal(t, "false", warm.DefValue)
}

func TestBenchCommand_Flags(t *testing.T) {
	flag := benchCmd.Flags().Lookup("iterations")
	require.NotNil(t, flag)
	assert.Equal(t, "1000", flag.DefValue)

	flag = benchCmd.Flags().Lookup("concurrency")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)
}

func TestExecuteCommand_Flags(t *testing.T) {
	for _, name := range []string{"data", "file", "target", "latest", "require-migration"} {
		assert.NotNil(t, executeCmd.Flags().Lookup(name), "execute should have --%s", name)
	}
}
