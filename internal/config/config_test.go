package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
discovery:
  base_url: https://jobs.example.com
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 2, cfg.Pipeline.Concurrency)
	require.Equal(t, 100, cfg.Pipeline.MaxPostingsDefault)
	require.Equal(t, 50, cfg.Pipeline.MaxPerCompanyDefault)
	require.True(t, cfg.Pipeline.FetchATS)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 15*time.Second, cfg.HTTPTimeout())
	require.Equal(t, time.Second, cfg.MinInterval())
	require.Equal(t, 15*time.Minute, cfg.RunBudget())
	require.True(t, cfg.Progress.Enabled)
	require.Equal(t, 4096, cfg.Progress.BufferSize)
	require.Equal(t, 1000, cfg.Progress.Batch.MaxEvents)
}

func TestLoadOverridesAndStandardRuns(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
discovery:
  base_url: https://jobs.example.com
  headless:
    enabled: true
    max_parallel: 2
storage:
  backend: local
  local:
    base_dir: /tmp/jobsift
standard_runs:
  golang-daily:
    keywords: golang engineer
    location: Remote
    max_postings: 250
    fetch_ats: true
    fetch_ats_provided: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Discovery.Headless.Enabled)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "/tmp/jobsift", cfg.Storage.Local.BaseDir)

	std, ok := cfg.StandardRuns["golang-daily"]
	require.True(t, ok)
	require.Equal(t, "golang engineer", std.Keywords)
	require.Equal(t, "Remote", std.Location)
	require.Equal(t, 250, std.MaxPostings)
	require.True(t, std.FetchATS)
	require.True(t, std.FetchATSProvided)
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing base url",
			body: `server: {port: 8080}`,
			want: "discovery.base_url",
		},
		{
			name: "bad storage backend",
			body: `
discovery: {base_url: https://jobs.example.com}
storage: {backend: s3}
`,
			want: "storage.backend",
		},
		{
			name: "gcs without bucket",
			body: `
discovery: {base_url: https://jobs.example.com}
storage: {backend: gcs}
`,
			want: "storage.bucket",
		},
		{
			name: "auth without key",
			body: `
discovery: {base_url: https://jobs.example.com}
auth: {enabled: true}
`,
			want: "auth.api_key",
		},
		{
			name: "pubsub topic without project",
			body: `
discovery: {base_url: https://jobs.example.com}
pubsub: {topic: run-complete}
`,
			want: "pubsub.project_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := Load(path)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}
