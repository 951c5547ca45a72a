package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kasuganosora/eventvm/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const greeter = `
id: 1
name: Greeter
pages:
  - trigger: action_button
    list:
      - kind: show_text
        parameters: {text: "Hello"}
      - kind: control_switches
        parameters: {switch_id: 5, value: true}
      - kind: control_variables
        parameters: {variable_id: 3, operation: set, operand_type: constant, operand_value: 7}
      - kind: play_se
        parameters: {name: Bell, volume: 90, pitch: 100, pan: 0}
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestRunCommand(t *testing.T) {
	path := writeFile(t, t.TempDir(), "greeter.yaml", greeter)

	out := execute(t, "run", path, "--event", "1", "--seed", "3", "--frames", "100")
	assert.Contains(t, out, `"type":"text_displayed"`)
	assert.Contains(t, out, `"type":"play_se"`)
	assert.Contains(t, out, "event 1 (Greeter)")
	assert.Contains(t, out, "switch 5 = true")
	assert.Contains(t, out, "variable 3 = 7")
	assert.Contains(t, out, "seed: 3")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", greeter)
	writeFile(t, dir, "b.yml", "id: 2\nname: Empty\n")
	writeFile(t, dir, "notes.txt", "ignored")

	out := execute(t, "validate", dir)
	assert.Contains(t, out, "ok   "+filepath.Join(dir, "a.yaml")+" (1 events)")
	assert.Contains(t, out, "b.yml")
	assert.NotContains(t, out, "notes.txt")
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.json", "{}")
	b := writeFile(t, dir, "b.yaml", "")
	single := writeFile(t, t.TempDir(), "x.yml", "")

	got, err := expandPaths([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, single}, got)

	_, err = expandPaths([]string{filepath.Join(dir, "missing")})
	assert.Error(t, err)
}

func TestCheckEventsDuplicate(t *testing.T) {
	dir := t.TempDir()
	set, err := loadPath(writeFile(t, dir, "a.yaml", greeter))
	require.NoError(t, err)

	seen := map[int]string{}
	require.NoError(t, checkEvents(set.All(), "a.yaml", seen))
	err = checkEvents(set.All(), "b.yaml", seen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined in a.yaml")
}

func TestServeRouter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", greeter)

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Mode = "memory"
	cfg.Interpreter.EventsDir = dir
	cfg.Script.Dir = ""
	cfg.Server.AdminKey = "k"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.close()
	r := newRouter(ctx, a)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/admin/events", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/events", nil)
	req.Header.Set("X-Admin-Key", "k")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "Greeter"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sse", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
