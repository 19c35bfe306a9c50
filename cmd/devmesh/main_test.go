package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/devmesh/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "devmesh.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\nllm:\n  api_key: sk-hidden\nlog:\n  level: error\n")

	out, err := run(t, "", "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "port: 9191")
	assert.NotContains(t, out, "sk-hidden")
}

func TestConfigValidate(t *testing.T) {
	out, err := run(t, "", "config", "validate", "--config", writeConfig(t, "log:\n  level: error\n"))
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	_, err = run(t, "", "config", "validate", "--config", writeConfig(t, "session:\n  backend: etcd\n"))
	require.Error(t, err)
}

func TestOrchestrate(t *testing.T) {
	path := writeConfig(t, "log:\n  level: error\n")

	out, err := run(t, "", "orchestrate", "--config", path, "hello", "mesh")
	require.NoError(t, err)

	var res core.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, core.StatusReceived, res.Status())
	assert.NotEmpty(t, res[core.KeyResponse])
}

func TestReadCode(t *testing.T) {
	src, err := readCode(strings.NewReader("from stdin"), nil, "")
	require.NoError(t, err)
	assert.Equal(t, "from stdin", src)

	src, err = readCode(strings.NewReader("ignored"), []string{"print(1)"}, "")
	require.NoError(t, err)
	assert.Equal(t, "print(1)", src)

	file := filepath.Join(t.TempDir(), "snippet.py")
	require.NoError(t, os.WriteFile(file, []byte("print(2)"), 0o600))
	src, err = readCode(strings.NewReader("ignored"), []string{"-"}, file)
	require.NoError(t, err)
	assert.Equal(t, "print(2)", src)

	_, err = readCode(nil, nil, filepath.Join(t.TempDir(), "missing.py"))
	require.Error(t, err)
}
