package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/workload/models"
)

func newTestBuilder(t *testing.T) (*Builder, Config) {
	t.Helper()

	root := t.TempDir()
	cfg := Config{
		TemplateDir:   filepath.Join(root, "template"),
		WorkloadsDir:  filepath.Join(root, "workloads"),
		RuntimeJar:    filepath.Join(root, "paper.jar"),
		ExtensionsDir: filepath.Join(root, "extensions"),
		Host:          "127.0.0.1",
	}

	require.NoError(t, os.MkdirAll(filepath.Join(cfg.TemplateDir, "world", "region"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TemplateDir, "eula.txt"), []byte("eula=true\n"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TemplateDir, "world", "region", "r.0.0.mca"), []byte("region"), 0o640))
	require.NoError(t, os.WriteFile(cfg.RuntimeJar, []byte("jar-bytes"), 0o640))
	require.NoError(t, os.MkdirAll(cfg.ExtensionsDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.ExtensionsDir, "essentials.jar"), []byte("ext"), 0o640))

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	return NewBuilder(cfg, log), cfg
}

func testWorkload() *models.Workload {
	return models.New("tenant-1", "Steve", "p_steve", 25570)
}

func TestBuilder_Build(t *testing.T) {
	b, cfg := newTestBuilder(t)
	w := testWorkload()

	require.NoError(t, b.Build(w))

	dir := filepath.Join(cfg.WorkloadsDir, "p_steve")
	assert.FileExists(t, filepath.Join(dir, "eula.txt"))
	assert.FileExists(t, filepath.Join(dir, "world", "region", "r.0.0.mca"))
	assert.FileExists(t, filepath.Join(dir, "paper.jar"))
	assert.FileExists(t, filepath.Join(dir, "server.properties"))
}

func TestBuilder_BuildKeepsTemplateJar(t *testing.T) {
	b, cfg := newTestBuilder(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TemplateDir, "paper.jar"), []byte("template-jar"), 0o640))

	w := testWorkload()
	require.NoError(t, b.Build(w))

	data, err := os.ReadFile(filepath.Join(cfg.WorkloadsDir, "p_steve", "paper.jar"))
	require.NoError(t, err)
	assert.Equal(t, "template-jar", string(data))
}

func TestBuilder_WriteServerConfig(t *testing.T) {
	b, cfg := newTestBuilder(t)
	w := testWorkload()
	w.SetSetting(models.SettingMOTD, "Welcome to Steve's place")
	w.SetSetting(models.SettingMaxPlayers, "40")

	require.NoError(t, b.Build(w))

	data, err := os.ReadFile(filepath.Join(cfg.WorkloadsDir, "p_steve", "server.properties"))
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "server-ip=127.0.0.1\n")
	assert.Contains(t, content, "server-port=25570\n")
	assert.Contains(t, content, "motd=Welcome to Steve's place\n")
	assert.Contains(t, content, "max-players=40\n")
	assert.Contains(t, content, "online-mode=false\n")
	assert.Contains(t, content, "bungeecord=true\n")

	// Line-oriented key=value throughout
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		assert.Contains(t, line, "=")
	}
}

func TestBuilder_WriteServerConfigRegenerates(t *testing.T) {
	b, cfg := newTestBuilder(t)
	w := testWorkload()
	require.NoError(t, b.Build(w))

	w.SetSetting(models.SettingDifficulty, "hard")
	require.NoError(t, b.WriteServerConfig(w))

	data, err := os.ReadFile(filepath.Join(cfg.WorkloadsDir, "p_steve", "server.properties"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "difficulty=hard\n")
}

func TestBuilder_Extensions(t *testing.T) {
	b, cfg := newTestBuilder(t)
	w := testWorkload()
	require.NoError(t, b.Build(w))

	require.NoError(t, b.InstallExtension(w, "essentials"))
	assert.FileExists(t, filepath.Join(cfg.WorkloadsDir, "p_steve", "extensions", "essentials.jar"))

	err := b.InstallExtension(w, "unknown")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, b.RemoveExtension(w, "essentials"))
	assert.NoFileExists(t, filepath.Join(cfg.WorkloadsDir, "p_steve", "extensions", "essentials.jar"))

	// Removing twice is fine
	require.NoError(t, b.RemoveExtension(w, "essentials"))
}

func TestBuilder_Remove(t *testing.T) {
	b, cfg := newTestBuilder(t)
	w := testWorkload()
	require.NoError(t, b.Build(w))

	require.NoError(t, b.Remove(w))
	assert.NoDirExists(t, filepath.Join(cfg.WorkloadsDir, "p_steve"))

	// Removing an absent workspace is a no-op
	require.NoError(t, b.Remove(w))
}

func TestBuilder_RemoveWithBackup(t *testing.T) {
	b, cfg := newTestBuilder(t)
	b.cfg.BackupOnDelete = true
	b.cfg.BackupDir = filepath.Join(cfg.WorkloadsDir, "..", "backups")

	w := testWorkload()
	require.NoError(t, b.Build(w))
	require.NoError(t, b.Remove(w))

	assert.NoDirExists(t, filepath.Join(cfg.WorkloadsDir, "p_steve"))

	entries, err := os.ReadDir(b.cfg.BackupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "p_steve-"))
}
