package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"plan", "run", "transform", "catalog", "runs", "monitor"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "climate-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("pipeline")
	require.NotNil(t, flag)
	assert.Equal(t, "full", flag.DefValue)

	require.NotNil(t, runCmd.Flags().Lookup("years"))
	require.NotNil(t, runCmd.Flags().Lookup("metrics-file"))
}

func TestTransformCommand_Flags(t *testing.T) {
	for _, name := range []string{"job-type", "year", "input-path", "output-path", "world-bank-path", "climate-trace-path"} {
		require.NotNil(t, transformCmd.Flags().Lookup(name), "missing --%s", name)
	}
}

func TestSubcommands(t *testing.T) {
	names := func(cmds []string) map[string]bool {
		m := map[string]bool{}
		for _, c := range cmds {
			m[c] = true
		}
		return m
	}
	var got []string
	for _, c := range runsCmd.Commands() {
		got = append(got, c.Name())
	}
	assert.Equal(t, names([]string{"list", "show"}), names(got))

	got = nil
	for _, c := range catalogCmd.Commands() {
		got = append(got, c.Name())
	}
	assert.Equal(t, names([]string{"list", "show"}), names(got))
}
