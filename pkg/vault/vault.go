// Package vault is the host the bridge drives: a directory of notes with
// YAML front matter, addressed by slash-separated vault-relative paths.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

const logPrefix = "vault:vault"

var (
	// ErrNotFound is returned when a vault path does not name a file.
	ErrNotFound = errors.New("file not found")
	// ErrExists is returned when a write target already exists.
	ErrExists = errors.New("file already exists")
	// ErrOutsideVault is returned for paths that escape the vault root.
	ErrOutsideVault = errors.New("path is outside the vault")
)

// Vault provides file access rooted at a directory.
type Vault struct {
	root string

	// mu serializes read-modify-write operations.
	mu sync.Mutex
}

// Open returns a Vault rooted at dir, which must exist.
func Open(dir string) (*Vault, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - resolve %s: %w", logPrefix, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%s - open vault: %w", logPrefix, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s - open vault: %s is not a directory", logPrefix, abs)
	}
	slog.Info(fmt.Sprintf("%s - Opened vault at %s", logPrefix, abs))
	return &Vault{root: abs}, nil
}

// Root returns the absolute vault directory.
func (v *Vault) Root() string {
	return v.root
}

// Files lists every file in the vault in walk order. Dot-directories such
// as the editor's config folder are skipped.
func (v *Vault) Files() ([]string, error) {
	var files []string
	err := filepath.WalkDir(v.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == v.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(v.root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s - list files: %w", logPrefix, err)
	}
	return files, nil
}

// Exists reports whether p names a regular file.
func (v *Vault) Exists(p string) bool {
	full, err := v.resolve(p)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && info.Mode().IsRegular()
}

// Stat returns file information for p.
func (v *Vault) Stat(p string) (fs.FileInfo, error) {
	full, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return info, nil
}

// ReadBinary returns the raw bytes of p.
func (v *Vault) ReadBinary(p string) ([]byte, error) {
	if _, err := v.Stat(p); err != nil {
		return nil, err
	}
	full, _ := v.resolve(p)
	return os.ReadFile(full)
}

// ReadText returns the contents of p as a string.
func (v *Vault) ReadText(p string) (string, error) {
	data, err := v.ReadBinary(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Create writes a new file, creating parent folders. It fails with
// ErrExists if p is already present.
func (v *Vault) Create(p, content string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	full, err := v.resolve(p)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return fmt.Errorf("%s: %w", p, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("%s - create %s: %w", logPrefix, p, err)
	}
	return writeAtomic(full, []byte(content), 0o644)
}

// Rename moves from to to, creating parent folders of the destination. The
// destination must not exist.
func (v *Vault) Rename(from, to string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	src, err := v.resolve(from)
	if err != nil {
		return err
	}
	dst, err := v.resolve(to)
	if err != nil {
		return err
	}
	if info, err := os.Stat(src); err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%s: %w", from, ErrNotFound)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%s: %w", to, ErrExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%s - rename %s: %w", logPrefix, from, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("%s - rename %s to %s: %w", logPrefix, from, to, err)
	}
	slog.Debug(fmt.Sprintf("%s - Renamed %s to %s", logPrefix, from, to))
	return nil
}

// resolve maps a vault path onto the filesystem.
func (v *Vault) resolve(p string) (string, error) {
	clean := path.Clean(strings.TrimPrefix(p, "/"))
	if p == "" || clean == "." || !filepath.IsLocal(filepath.FromSlash(clean)) {
		return "", fmt.Errorf("%q: %w", p, ErrOutsideVault)
	}
	return filepath.Join(v.root, filepath.FromSlash(clean)), nil
}

// writeAtomic replaces full via a temp file in the same directory.
func writeAtomic(full string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(full), ".vault-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}
