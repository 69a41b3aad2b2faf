package helper

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCfgPath(t *testing.T) {
	assert.Panics(t, func() { GetCfgPath("") })
	assert.Equal(t, "/tmp/test.yaml", GetCfgPath("/tmp/test.yaml"))

	old, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(old) })
	tmp := t.TempDir()
	_ = os.Chdir(tmp)
	t.Setenv("PUSHGATE_CONFIG_DIR", "")

	f := "pushgate.yaml"
	assert.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	exp, _ := filepath.EvalSymlinks(filepath.Join(tmp, f))
	got, _ := filepath.EvalSymlinks(GetCfgPath(f))
	assert.Equal(t, exp, got)

	_ = os.Remove(filepath.Join(tmp, f))
	_ = os.MkdirAll("configs", 0o755)
	assert.NoError(t, os.WriteFile(filepath.Join("configs", f), []byte("x"), 0o644))
	exp, _ = filepath.EvalSymlinks(filepath.Join(tmp, "configs", f))
	got, _ = filepath.EvalSymlinks(GetCfgPath(f))
	assert.Equal(t, exp, got)

	assert.Equal(t, filepath.Join(DefaultConfigDir, "missing.yaml"), GetCfgPath("missing.yaml"))
}

func TestGetCfgPath_EnvDirWins(t *testing.T) {
	dir := t.TempDir()
	f := "pushgate.yaml"
	assert.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("x"), 0o644))
	t.Setenv("PUSHGATE_CONFIG_DIR", dir)

	exp, _ := filepath.EvalSymlinks(filepath.Join(dir, f))
	got, _ := filepath.EvalSymlinks(GetCfgPath(f))
	assert.Equal(t, exp, got)
}
