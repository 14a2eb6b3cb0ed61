// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := FileExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = FileExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplaceTildeInDir(t *testing.T) {
	usr, err := user.Current()
	if err != nil {
		t.Skipf("no current user: %v", err)
	}
	type testCase struct {
		dir, expected string
	}
	for _, tc := range []testCase{
		{"", ""},
		{"relative/passes.yaml", "relative/passes.yaml"},
		{"/etc/passes.yaml", "/etc/passes.yaml"},
		{"~", usr.HomeDir},
		{"~/passes.yaml", filepath.Join(usr.HomeDir, "passes.yaml")},
	} {
		got, err := ReplaceTildeInDir(tc.dir)
		require.NoErrorf(t, err, "dir %q", tc.dir)
		assert.Equalf(t, tc.expected, got, "dir %q", tc.dir)
	}
	_, err = ReplaceTildeInDir("~no-such-user-for-opgraph/x")
	require.Error(t, err)
}
