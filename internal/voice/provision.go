package voice

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/MrWong99/ttshub/pkg/artifact"
)

// Provisioner materialises the shared segmentation dictionary directory
// exactly once per process.
//
// If the directory already exists nothing is fetched. Otherwise the
// dictionary bundle is fetched, extracted into a temporary sibling directory
// and renamed into place, so a half-extracted dictionary is never visible.
// Provisioner is safe for concurrent use.
type Provisioner struct {
	fetcher artifact.Fetcher
	bundle  artifact.Ref
	dir     string

	// sem serialises provisioning while still honouring caller contexts.
	sem chan struct{}
}

// NewProvisioner returns a Provisioner that extracts bundle into dir.
func NewProvisioner(f artifact.Fetcher, bundle artifact.Ref, dir string) *Provisioner {
	return &Provisioner{
		fetcher: f,
		bundle:  bundle,
		dir:     dir,
		sem:     make(chan struct{}, 1),
	}
}

// Dir returns the dictionary directory.
func (p *Provisioner) Dir() string { return p.dir }

// Ready reports whether the dictionary directory exists.
func (p *Provisioner) Ready() bool { return isDir(p.dir) }

// Ensure returns the dictionary directory, provisioning it on first use.
func (p *Provisioner) Ensure(ctx context.Context) (string, error) {
	if isDir(p.dir) {
		return p.dir, nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()

	if isDir(p.dir) {
		return p.dir, nil
	}

	archive, err := p.fetcher.Fetch(ctx, p.bundle)
	if err != nil {
		return "", fmt.Errorf("voice: fetch dictionary bundle: %w", err)
	}
	slog.Info("extracting dictionary bundle", "bundle", p.bundle.String(), "dir", p.dir)
	if err := extractInto(ctx, archive, p.dir); err != nil {
		return "", fmt.Errorf("voice: extract dictionary bundle: %w", err)
	}
	return p.dir, nil
}

// extractInto unpacks the tar archive at src into dst atomically. A bundle
// that wraps everything in one top-level directory is flattened.
func extractInto(ctx context.Context, src, dst string) error {
	parent := filepath.Dir(dst)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dst)+"-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	if err := untar(ctx, src, tmp); err != nil {
		return err
	}

	root := tmp
	entries, err := os.ReadDir(tmp)
	if err != nil {
		return err
	}
	if len(entries) == 1 && entries[0].IsDir() {
		root = filepath.Join(tmp, entries[0].Name())
	}

	if err := os.Rename(root, dst); err != nil {
		// Another process may have published the directory first.
		if isDir(dst) {
			return nil
		}
		return err
	}
	return nil
}

func untar(ctx context.Context, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	r, closeFn, err := decompressor(src, f)
	if err != nil {
		return err
	}
	defer closeFn()

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src, err)
		}

		name := path.Clean(hdr.Name)
		if name == "." {
			continue
		}
		local := filepath.FromSlash(name)
		if !filepath.IsLocal(local) {
			return fmt.Errorf("archive entry %q escapes the target directory", hdr.Name)
		}
		target := filepath.Join(dst, local)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()|0o600); err != nil {
				return err
			}
		default:
			slog.Debug("skipping archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

// BundleFormats lists the archive suffixes a [Provisioner] can extract.
var BundleFormats = []string{".tar.bz2", ".tbz2", ".tar.gz", ".tgz", ".tar.zst", ".tar"}

// SupportedBundle reports whether name has one of [BundleFormats].
func SupportedBundle(name string) bool {
	for _, suffix := range BundleFormats {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// decompressor picks the stream decoder from the archive's file extension.
func decompressor(name string, r io.Reader) (io.Reader, func(), error) {
	noop := func() {}
	switch {
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return bzip2.NewReader(r), noop, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() { _ = zr.Close() }, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case strings.HasSuffix(name, ".tar"):
		return r, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported bundle format %q", filepath.Base(name))
	}
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
