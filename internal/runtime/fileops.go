package runtime

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/swe-agent/swe-rex/internal/logging"
	"github.com/swe-agent/swe-rex/pkg/types"
)

const dirMode = 0o755

// ReadFile reads an entire file as UTF-8.
func (r *LocalRuntime) ReadFile(ctx context.Context, req *types.ReadFileRequest) (*types.ReadFileResponse, error) {
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, types.NewFileOpError("read", req.Path, err)
	}
	return &types.ReadFileResponse{Content: string(data)}, nil
}

// WriteFile writes content, creating parent directories as needed.
// Existing files are overwritten.
func (r *LocalRuntime) WriteFile(ctx context.Context, req *types.WriteFileRequest) (*types.WriteFileResponse, error) {
	if dir := filepath.Dir(req.Path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, types.NewFileOpError("write", req.Path, err)
		}
	}
	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		return nil, types.NewFileOpError("write", req.Path, err)
	}
	return &types.WriteFileResponse{}, nil
}

// Upload places an uploaded file at targetPath, overwriting. With
// unpack set, sourcePath is treated as a tar archive (optionally
// gzip-compressed) and extracted into targetPath.
func (r *LocalRuntime) Upload(ctx context.Context, sourcePath, targetPath string, unpack bool) (*types.UploadResponse, error) {
	if unpack {
		if err := extractTar(sourcePath, targetPath); err != nil {
			return nil, types.NewFileOpError("upload", targetPath, err)
		}
		logging.Info("archive extracted", logging.String("target", targetPath))
		return &types.UploadResponse{}, nil
	}

	if dir := filepath.Dir(targetPath); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return nil, types.NewFileOpError("upload", targetPath, err)
		}
	}
	if err := copyFile(sourcePath, targetPath); err != nil {
		return nil, types.NewFileOpError("upload", targetPath, err)
	}
	logging.Info("file uploaded", logging.String("target", targetPath))
	return &types.UploadResponse{}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// extractTar unpacks archivePath into dir. Gzip compression is detected
// from the magic bytes. Entries escaping the target directory are
// rejected.
func extractTar(archivePath, dir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var reader io.Reader = f
	magic := make([]byte, 2)
	if _, err := io.ReadFull(f, magic); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	} else {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dir, dirMode); err != nil {
		return err
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|dirMode); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), dirMode); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			// Devices, fifos etc. have no business in an upload.
		}
	}
}

// securePath joins name under dir and rejects traversal outside it.
func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if target != dir && !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes target directory", name)
	}
	return target, nil
}
