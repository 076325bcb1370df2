// Package workspace materializes and maintains per-workload directories.
package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/common/logger"
	"github.com/hostclub/serverpool/internal/workload/models"
)

const serverConfigFile = "server.properties"

// Config holds the filesystem layout the builder works with.
type Config struct {
	// TemplateDir is copied verbatim into every new workspace.
	TemplateDir string

	// WorkloadsDir holds one subdirectory per workload, keyed by name.
	WorkloadsDir string

	// RuntimeJar is copied into the workspace when the template does not
	// already provide one.
	RuntimeJar string

	// ExtensionsDir holds installable extension jars, one per extension
	// name.
	ExtensionsDir string

	// Host is written as server-ip in the generated config.
	Host string

	// BackupOnDelete moves removed workspaces under BackupDir instead of
	// deleting them.
	BackupOnDelete bool
	BackupDir      string
}

// Builder creates, updates and removes workload workspaces.
type Builder struct {
	cfg    Config
	logger *logger.Logger
}

// NewBuilder creates a workspace builder.
func NewBuilder(cfg Config, log *logger.Logger) *Builder {
	return &Builder{cfg: cfg, logger: log}
}

// Path returns the workspace directory for a workload.
func (b *Builder) Path(w *models.Workload) string {
	return filepath.Join(b.cfg.WorkloadsDir, w.Name)
}

// Build materializes the workspace: private directory, template copy,
// runtime jar, generated server config. Partial results are left on disk
// for the caller to remove on failure.
func (b *Builder) Build(w *models.Workload) error {
	dir := b.Path(w)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.IOFailure(fmt.Sprintf("failed to create workspace for %s", w.Name), err)
	}

	if err := b.copyTemplate(dir); err != nil {
		return err
	}

	// The template may already ship a runtime jar; only fill the gap
	jarDst := filepath.Join(dir, filepath.Base(b.cfg.RuntimeJar))
	if _, err := os.Stat(jarDst); os.IsNotExist(err) {
		if err := copyFile(b.cfg.RuntimeJar, jarDst); err != nil {
			return errors.IOFailure(fmt.Sprintf("failed to copy runtime jar for %s", w.Name), err)
		}
	}

	if err := b.WriteServerConfig(w); err != nil {
		return err
	}

	b.logger.Info("Built workspace",
		zap.String("workload", w.Name),
		zap.String("dir", dir))
	return nil
}

// copyTemplate recursively copies the template tree into the workspace,
// preserving relative paths and overwriting existing files.
func (b *Builder) copyTemplate(dir string) error {
	err := filepath.WalkDir(b.cfg.TemplateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.cfg.TemplateDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o750)
		}
		return copyFile(path, dst)
	})
	if err != nil {
		return errors.IOFailure("failed to copy workspace template", err)
	}
	return nil
}

// WriteServerConfig regenerates server.properties from the workload's
// settings. online-mode stays off and trusted-proxy mode stays on
// regardless of settings; the shared gateway authenticates players.
func (b *Builder) WriteServerConfig(w *models.Workload) error {
	props := map[string]string{
		"server-ip":            b.cfg.Host,
		"server-port":          fmt.Sprintf("%d", w.Port),
		"max-players":          settingOr(w, models.SettingMaxPlayers, models.DefaultMaxPlayers),
		"motd":                 settingOr(w, models.SettingMOTD, w.TenantLabel+"'s Server"),
		"gamemode":             settingOr(w, models.SettingGamemode, models.DefaultGamemode),
		"difficulty":           settingOr(w, models.SettingDifficulty, models.DefaultDifficulty),
		"white-list":           settingOr(w, models.SettingWhitelist, models.DefaultWhitelist),
		"online-mode":          "false",
		"bungeecord":           "true",
		"spawn-protection":     "0",
		"enable-command-block": "false",
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
		sb.WriteByte('\n')
	}

	path := filepath.Join(b.Path(w), serverConfigFile)
	if err := os.WriteFile(path, []byte(sb.String()), 0o640); err != nil {
		return errors.IOFailure(fmt.Sprintf("failed to write server config for %s", w.Name), err)
	}
	return nil
}

// InstallExtension copies the named extension jar into the workspace.
func (b *Builder) InstallExtension(w *models.Workload, name string) error {
	src := filepath.Join(b.cfg.ExtensionsDir, name+".jar")
	if _, err := os.Stat(src); err != nil {
		return errors.NotFound("extension", name)
	}

	extDir := filepath.Join(b.Path(w), "extensions")
	if err := os.MkdirAll(extDir, 0o750); err != nil {
		return errors.IOFailure(fmt.Sprintf("failed to create extensions dir for %s", w.Name), err)
	}
	if err := copyFile(src, filepath.Join(extDir, name+".jar")); err != nil {
		return errors.IOFailure(fmt.Sprintf("failed to install extension %s", name), err)
	}
	return nil
}

// RemoveExtension deletes the named extension jar from the workspace.
// A jar that is already gone is not an error.
func (b *Builder) RemoveExtension(w *models.Workload, name string) error {
	path := filepath.Join(b.Path(w), "extensions", name+".jar")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.IOFailure(fmt.Sprintf("failed to remove extension %s", name), err)
	}
	return nil
}

// Remove deletes the workspace, optionally moving it to the backup
// directory first.
func (b *Builder) Remove(w *models.Workload) error {
	dir := b.Path(w)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if b.cfg.BackupOnDelete {
		if err := os.MkdirAll(b.cfg.BackupDir, 0o750); err != nil {
			return errors.IOFailure("failed to create backup dir", err)
		}
		dst := filepath.Join(b.cfg.BackupDir,
			fmt.Sprintf("%s-%d", w.Name, time.Now().UTC().Unix()))
		if err := os.Rename(dir, dst); err != nil {
			return errors.IOFailure(fmt.Sprintf("failed to back up workspace for %s", w.Name), err)
		}
		b.logger.Info("Backed up workspace",
			zap.String("workload", w.Name),
			zap.String("backup", dst))
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return errors.IOFailure(fmt.Sprintf("failed to remove workspace for %s", w.Name), err)
	}
	return nil
}

func settingOr(w *models.Workload, key, fallback string) string {
	if v, ok := w.Setting(key); ok && v != "" {
		return v
	}
	return fallback
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
