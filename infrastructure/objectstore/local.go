package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// LocalStore keeps objects on the local filesystem and exposes them through
// a static route. URLs have the form {baseURL}{publicPath}/{key}.
type LocalStore struct {
	dir        string
	baseURL    string
	publicPath string
}

func NewLocalStore(dir, baseURL, publicPath string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("object store dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store dir: %w", err)
	}
	publicPath = "/" + strings.Trim(publicPath, "/")
	return &LocalStore{
		dir:        dir,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		publicPath: publicPath,
	}, nil
}

// Dir is the root directory, used to mount the static route.
func (s *LocalStore) Dir() string {
	return s.dir
}

// PublicPath is the route prefix objects are served under.
func (s *LocalStore) PublicPath() string {
	return s.publicPath
}

// cleanKey turns a path hint into a relative slash path that cannot escape
// the store root.
func cleanKey(hint string) (string, error) {
	key := path.Clean("/" + strings.ReplaceAll(hint, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", fmt.Errorf("invalid object key %q", hint)
	}
	return key, nil
}

// Put writes data under pathHint. The write goes to a temp file first and is
// renamed into place, so readers never see a partial object.
func (s *LocalStore) Put(ctx context.Context, pathHint string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := cleanKey(pathHint)
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to commit object: %w", err)
	}

	logrus.Debugf("[STORAGE] Stored %s (%s, %s)", key, humanize.Bytes(uint64(len(data))), contentType)
	return s.URL(key), nil
}

// URL returns the public URL of key.
func (s *LocalStore) URL(key string) string {
	return s.baseURL + s.publicPath + "/" + key
}

// Open resolves a URL produced by this store back to its bytes. ok is false
// when the URL does not belong to the store.
func (s *LocalStore) Open(rawURL string) (data []byte, ok bool, err error) {
	prefix := s.baseURL + s.publicPath + "/"
	if !strings.HasPrefix(rawURL, prefix) {
		return nil, false, nil
	}
	key, err := cleanKey(strings.TrimPrefix(rawURL, prefix))
	if err != nil {
		return nil, true, err
	}
	data, err = os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, true, nil
}

// Sweep deletes objects under prefix whose modification time is older than
// olderThan. It returns the number of removed files.
func (s *LocalStore) Sweep(ctx context.Context, prefix string, olderThan time.Duration) (int, error) {
	key, err := cleanKey(prefix)
	if err != nil {
		return 0, err
	}
	root := filepath.Join(s.dir, filepath.FromSlash(key))
	cutoff := time.Now().Add(-olderThan)

	removed := 0
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err == nil {
				removed++
			} else {
				logrus.WithError(err).Warnf("[STORAGE] Failed to remove %s", p)
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	pruneEmptyDirs(root)
	return removed, nil
}

// pruneEmptyDirs removes empty date directories left behind by Sweep. The
// root itself is kept.
func pruneEmptyDirs(root string) {
	var dirs []string
	_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && p != root {
			dirs = append(dirs, p)
		}
		return nil
	})
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i]) // fails on non-empty dirs
	}
}
