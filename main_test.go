package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrental.app/rentalctl/internal/cli"
)

func TestVersionCommand(t *testing.T) {
	cmd := cli.NewRootCmd(version)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "rentalctl version dev")
	assert.Contains(t, out.String(), "user agent: rentalctl/dev")
}
