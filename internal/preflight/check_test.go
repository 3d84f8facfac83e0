package preflight

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckStatus_String(t *testing.T) {
	tests := []struct {
		status CheckStatus
		want   string
	}{
		{StatusPass, "PASS"},
		{StatusWarn, "WARN"},
		{StatusFail, "FAIL"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.String())
		})
	}
}

func TestCheckResult_IsCritical(t *testing.T) {
	tests := []struct {
		name     string
		result   CheckResult
		expected bool
	}{
		{
			name:     "required pass is not critical",
			result:   CheckResult{Status: StatusPass, Required: true},
			expected: false,
		},
		{
			name:     "required fail is critical",
			result:   CheckResult{Status: StatusFail, Required: true},
			expected: true,
		},
		{
			name:     "optional fail is not critical",
			result:   CheckResult{Status: StatusFail, Required: false},
			expected: false,
		},
		{
			name:     "required warn is not critical",
			result:   CheckResult{Status: StatusWarn, Required: true},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsCritical())
		})
	}
}

func TestChecker_New(t *testing.T) {
	checker := New(nil)

	assert.NotNil(t, checker)
	assert.NotNil(t, checker.cfg, "nil config gets defaults")
	assert.False(t, checker.verbose)
}

func TestChecker_NewWithOptions(t *testing.T) {
	buf := &bytes.Buffer{}
	checker := New(nil, WithVerbose(true), WithOutput(buf))

	assert.True(t, checker.verbose)
	assert.Equal(t, buf, checker.output)
}

func TestChecker_HasCriticalFailures(t *testing.T) {
	checker := New(nil)

	tests := []struct {
		name     string
		results  []CheckResult
		expected bool
	}{
		{
			name:     "no results",
			results:  []CheckResult{},
			expected: false,
		},
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusPass, Required: true},
			},
			expected: false,
		},
		{
			name: "optional failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: false},
			},
			expected: false,
		},
		{
			name: "required failure",
			results: []CheckResult{
				{Status: StatusPass, Required: true},
				{Status: StatusFail, Required: true},
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.HasCriticalFailures(tt.results))
		})
	}
}

func TestChecker_CheckWritePermissions_Writable(t *testing.T) {
	checker := New(nil)
	result := checker.CheckWritePermissions(t.TempDir())

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "write_permissions", result.Name)
	assert.True(t, result.Required)
}

func TestChecker_CheckWritePermissions_ReadOnly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root writes anywhere")
	}

	readOnlyDir := filepath.Join(t.TempDir(), "readonly")
	require.NoError(t, os.Mkdir(readOnlyDir, 0o555))
	defer func() { _ = os.Chmod(readOnlyDir, 0o755) }()

	checker := New(nil)
	result := checker.CheckWritePermissions(readOnlyDir)

	assert.Equal(t, StatusFail, result.Status)
	assert.Contains(t, result.Message, "cannot write")
}

func TestChecker_LocalChecksPresent(t *testing.T) {
	checker := New(nil)
	dir := t.TempDir()

	results := []CheckResult{
		checker.CheckDiskSpace(dir),
		checker.CheckMemory(),
		checker.CheckWritePermissions(dir),
		checker.CheckFileDescriptors(),
	}

	names := make(map[string]bool)
	for _, r := range results {
		names[r.Name] = true
	}
	assert.True(t, names["disk_space"])
	assert.True(t, names["memory"])
	assert.True(t, names["write_permissions"])
	assert.True(t, names["file_descriptors"])
}

func TestChecker_PrintResults(t *testing.T) {
	results := []CheckResult{
		{Name: "disk_space", Status: StatusPass, Message: "50 GB free"},
		{Name: "summary_model", Status: StatusWarn, Message: "not installed"},
		{Name: "store_connection", Status: StatusFail, Message: "cannot connect", Required: true},
	}

	buf := &bytes.Buffer{}
	checker := New(nil, WithOutput(buf))
	checker.PrintResults(results)

	output := buf.String()
	assert.Contains(t, output, "cindex system check")
	assert.Contains(t, output, "[PASS] disk_space")
	assert.Contains(t, output, "[WARN] summary_model")
	assert.Contains(t, output, "[FAIL] store_connection")
	assert.Contains(t, output, "Status: FAILED")
	assert.Contains(t, output, "1 error(s):")
	assert.Contains(t, output, "1 warning(s):")
}

func TestChecker_PrintResults_VerboseDetails(t *testing.T) {
	results := []CheckResult{
		{Name: "pgvector_extension", Status: StatusFail, Message: "missing",
			Details: "Run: CREATE EXTENSION vector;", Required: true},
	}

	buf := &bytes.Buffer{}
	New(nil, WithOutput(buf), WithVerbose(true)).PrintResults(results)
	assert.Contains(t, buf.String(), "CREATE EXTENSION vector")

	buf.Reset()
	New(nil, WithOutput(buf)).PrintResults(results)
	assert.NotContains(t, buf.String(), "CREATE EXTENSION vector")
}

func TestChecker_SummaryStatus(t *testing.T) {
	checker := New(nil)

	tests := []struct {
		name     string
		results  []CheckResult
		expected string
	}{
		{
			name: "all pass",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusPass},
			},
			expected: "ready",
		},
		{
			name: "with warnings",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusWarn},
			},
			expected: "ready_with_warnings",
		},
		{
			name: "with critical failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: true},
			},
			expected: "failed",
		},
		{
			name: "with optional failure",
			results: []CheckResult{
				{Status: StatusPass},
				{Status: StatusFail, Required: false},
			},
			expected: "ready_with_warnings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, checker.SummaryStatus(tt.results))
		})
	}
}

func TestReadAvailableMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	content := "MemTotal:       16384000 kB\nMemFree:         1024000 kB\nMemAvailable:    8192000 kB\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, ok := readAvailableMemory(path)
	require.True(t, ok)
	assert.Equal(t, uint64(8192000*1024), got)

	_, ok = readAvailableMemory(filepath.Join(t.TempDir(), "missing"))
	assert.False(t, ok)
}
