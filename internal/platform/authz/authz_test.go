package authz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("", false)
	require.NoError(t, err)
	assert.Equal(t, ModeEnforce, m)

	m, err = ParseMode(" Shadow ", false)
	require.NoError(t, err)
	assert.Equal(t, ModeShadow, m)

	_, err = ParseMode("disabled", false)
	assert.Error(t, err)
	m, err = ParseMode("disabled", true)
	require.NoError(t, err)
	assert.Equal(t, ModeDisabled, m)

	_, err = ParseMode("nope", true)
	assert.Error(t, err)
}

func TestBundledPolicy(t *testing.T) {
	a, err := New("", "", ModeEnforce, nil)
	require.NoError(t, err)

	cases := []struct {
		role    string
		perm    Permission
		allowed bool
	}{
		{"employee", PayrollRead, true},
		{"employee", PayrollWrite, false},
		{"manager", PayrollApprove, true},
		{"manager", PayrollWrite, false},
		{"hr", PayrollWrite, true},
		{"hr", PayrollApprove, true},
		{"hr", PayrollOverride, false},
		{"admin", PayrollOverride, true},
		{"admin", PayrollWrite, true},
		{"", PayrollRead, false},
		{"hr", AuditRead, true},
		{"admin", AuditRead, true},
		{"manager", AuditRead, false},
	}
	for _, tc := range cases {
		ok, err := a.Allow(tc.role, tc.perm)
		require.NoError(t, err)
		assert.Equal(t, tc.allowed, ok, "%s %s", tc.role, tc.perm)
	}
}

func TestShadowModeAllowsButDoesNotEnforce(t *testing.T) {
	a, err := New("", "", ModeShadow, nil)
	require.NoError(t, err)

	allowed, enforced, err := a.Authorize(SubjectFromRole("employee"), ObjectPayroll, ActionWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.False(t, enforced)

	ok, err := a.Allow("employee", PayrollWrite)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyFromFiles(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.conf")
	policyPath := filepath.Join(dir, "policy.csv")
	require.NoError(t, os.WriteFile(modelPath, []byte(defaultModel), 0o644))
	require.NoError(t, os.WriteFile(policyPath, []byte("p, role:auditor, payroll, read\n"), 0o644))

	a, err := New(modelPath, policyPath, ModeEnforce, nil)
	require.NoError(t, err)
	ok, err := a.Allow("auditor", PayrollRead)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.Allow("hr", PayrollRead)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = New(modelPath, "", ModeEnforce, nil)
	assert.Error(t, err)
}
