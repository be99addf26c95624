package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPlain(t *testing.T) {
	assert.Equal(t, "Tom & *Jerry*", plain("Tom &amp; <mark>Jerry</mark>"))
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "hash-password", "s3cret")
	require.NoError(t, err)

	hash := strings.TrimSpace(out)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestSyncSearchStats(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv("LOG_LEVEL", "error")
	data := t.TempDir()
	content := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(content, "runbook.yaml"),
		[]byte("title: Incident runbook\ncontent: page the on-call engineer\n"), 0o644))

	out, err := run(t, "--data-dir", data, "sync", content)
	require.NoError(t, err)
	assert.Contains(t, out, "New:           1")

	out, err = run(t, "--data-dir", data, "search", "runbook")
	require.NoError(t, err)
	assert.Contains(t, out, "Incident *runbook*")
	assert.Contains(t, out, "/pages/runbook/")

	_, err = run(t, "--data-dir", data, "search", "ab")
	require.Error(t, err)

	out, err = run(t, "--data-dir", data, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Pages in database:   1")

	out, err = run(t, "--data-dir", data, "reindex")
	require.NoError(t, err)
	assert.Contains(t, out, "Documents indexed: 1")

	out, err = run(t, "--data-dir", data, "get-page", "runbook")
	require.NoError(t, err)
	assert.Equal(t, "page the on-call engineer\n", out)

	_, err = run(t, "--data-dir", data, "get-page", "missing")
	assert.Error(t, err)
}
