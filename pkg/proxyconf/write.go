package proxyconf

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultFileMode os.FileMode = 0o644

// writeAtomic replaces path with data through a temp file in the same
// directory. The existing file mode is kept; with backup the previous content
// is copied to path.bak.<timestamp> first. A symlinked path is written
// through, leaving the link in place.
func writeAtomic(path string, data []byte, backup bool) error {
	p := strings.TrimSpace(path)
	if p == "" {
		return errors.New("missing path")
	}
	switch resolved, err := filepath.EvalSymlinks(p); {
	case err == nil:
		p = resolved
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	mode := defaultFileMode
	if fi, err := os.Stat(p); err == nil {
		mode = fi.Mode().Perm()
		if backup {
			bpath := p + ".bak." + time.Now().Format("20060102-150405.000000000")
			if err := copyFile(p, bpath, mode); err != nil {
				return err
			}
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, p); err != nil {
		cleanup()
		return err
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src) // #nosec G304 -- operator-configured path.
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
