package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tumblehead/pipedb/internal/jsonv"
	"github.com/tumblehead/pipedb/internal/store"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "pipedb", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, name := range []string{"insert", "update", "rename", "delete", "lookup", "query", "watch", "history", "config", "version"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)
	for name, def := range map[string]string{
		"config":    "pipedb.yaml",
		"backend":   "file",
		"log-level": "info",
		"file-root": "./data",
	} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

type harness struct {
	t    *testing.T
	args []string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{t: t, args: []string{
		"--config", filepath.Join(dir, "missing.yaml"),
		"--backend", "file",
		"--file-root", filepath.Join(dir, "data"),
	}}
}

func (h *harness) run(stdin string, args ...string) (string, error) {
	h.t.Helper()
	cmd := NewRootCommand(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(append([]string{}, args...), h.args...))
	err := cmd.ExecuteContext(h.t.Context())
	return out.String(), err
}

func (h *harness) ok(args ...string) string {
	h.t.Helper()
	out, err := h.run("", args...)
	require.NoError(h.t, err, strings.Join(args, " "))
	return out
}

func TestDocumentCommands(t *testing.T) {
	h := newHarness(t)
	h.ok("insert", "entity:/shots/010/010", `{"fps": 24, "seq": "010"}`)
	_, err := h.run(`{"fps": 25, "seq": "010"}`, "insert", "entity:/shots/010/020", "-")
	require.NoError(t, err)

	_, err = h.run("", "insert", "entity:/shots/010/010", `{}`)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	_, err = h.run("", "insert", "entity:/shots/*/010", `{}`)
	assert.ErrorIs(t, err, store.ErrInvalidURI)
	_, err = h.run("", "insert", "entity:/shots/010/030", `{`)
	assert.ErrorIs(t, err, jsonv.ErrMalformed)

	out := h.ok("lookup", "entity:/shots/010/010")
	assert.True(t, jsonv.MustParse(out).Equal(jsonv.MustParse(`{"fps": 24, "seq": "010"}`)), out)
	out = h.ok("lookup", "--fields", "fps", "entity:/shots/010/010")
	assert.Equal(t, "{\n  \"fps\": 24\n}\n", out)

	var entries []struct {
		URI   string          `json:"uri"`
		Datum json.RawMessage `json:"datum"`
	}
	out = h.ok("query", "entity:/shots/*/*", "fps=25", "seq=010")
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "entity:/shots/010/020", entries[0].URI)

	h.ok("update", "entity:/shots/010/020", `{"fps": 30}`)
	h.ok("rename", "entity:/shots/010/020", "entity:/shots/020/020")
	out = h.ok("lookup", "entity:/shots/020/020")
	assert.Equal(t, "{\n  \"fps\": 30\n}\n", out)

	out = h.ok("delete", "entity:/shots/020/020")
	assert.Equal(t, "[\n  \"entity:/shots/020/020\"\n]\n", out)
	_, err = h.run("", "lookup", "entity:/shots/020/020")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"fps=24", "seq=010", "name=\"sh010\"", "tags=[1]"})
	require.NoError(t, err)
	assert.True(t, params["fps"].Equal(jsonv.Int(24)))
	assert.True(t, params["seq"].Equal(jsonv.String("010")))
	assert.True(t, params["name"].Equal(jsonv.String("sh010")))
	assert.True(t, params["tags"].Equal(jsonv.MustParse(`[1]`)))

	for _, bad := range []string{"fps", "=1"} {
		_, err := parseParams([]string{bad})
		assert.Error(t, err, bad)
	}
	params, err = parseParams(nil)
	require.NoError(t, err)
	assert.Nil(t, params)
}

func TestConfigCommands(t *testing.T) {
	h := newHarness(t)
	out := h.ok("config", "schema")
	assert.Contains(t, out, `"backend"`)
	out = h.ok("config", "show")
	assert.Contains(t, out, "backend: file")

	_, err := h.run("", "--backend", "redis", "lookup", "entity:/a")
	assert.Error(t, err)
}

func TestFlagsOverrideBrokenConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: mongo\nmongo:\n  uri: localhost\n"), 0o600))
	run := func(args ...string) error {
		cmd := NewRootCommand(nil)
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(append(args, "--config", path))
		return cmd.ExecuteContext(t.Context())
	}
	require.Error(t, run("config", "show"))
	require.NoError(t, run("--backend", "memory", "config", "show"))
	require.NoError(t, run("--backend", "file", "--file-root", filepath.Join(dir, "data"), "query", "entity:/*"))
}

func TestHistoryCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("", "history", "entity:/a")
	assert.Error(t, err, "history is disabled by default")

	_, err = h.run("", "--backend", "memory", "history", "entity:/a")
	assert.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	level := &slog.LevelVar{}
	cmd := NewRootCommand(level)
	dir := t.TempDir()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", filepath.Join(dir, "none.yaml"), "--log-level", "debug", "config", "show"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestVersionCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.ExecuteContext(t.Context()))
	assert.True(t, strings.HasPrefix(out.String(), "pipedb "), out.String())
}
