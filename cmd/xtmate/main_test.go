package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtmate/xtmate/internal/rbac"
)

func TestRolesCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"roles"})

	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(rbac.Roles())+1)
	assert.Contains(t, lines[0], "LEVEL")
	assert.Contains(t, lines[1], "viewer")
	assert.Contains(t, lines[len(lines)-1], "super-admin")
}

func TestRolesCommand_Permissions(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"roles", "--permissions"})

	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "platform.bypass")
	assert.Contains(t, out.String(), "pm_scope.update")
}

func TestConfigFlagDefault(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"roles"})
	require.NoError(t, root.Execute())

	cmd, _, err := root.Find([]string{"roles"})
	require.NoError(t, err)
	assert.Equal(t, defaultConfigPath, configPath(cmd))
}
