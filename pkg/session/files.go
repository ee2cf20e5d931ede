package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/errdefs"
	"github.com/cuemby/burrow/pkg/shim"
	"github.com/cuemby/burrow/pkg/types"
)

// File operations are thin compositions of shell commands inside the
// session, so they inherit its cwd and env. Content crosses the wire as
// base64 through a pipe, which survives binary data and embedded quotes.

const fileStreamChunkSize = 32 * 1024

// ListOptions tune ListFiles.
type ListOptions struct {
	Recursive     bool
	IncludeHidden bool
}

// WriteFile writes content to a path, creating parent directories. The
// encoding declares how the caller packed content: utf-8 (default) or
// base64 for binary payloads.
func (s *Session) WriteFile(ctx context.Context, path, content string, encoding types.FileEncoding) (*types.FileOpResult, error) {
	if path == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "path must not be empty")
	}

	var data []byte
	switch encoding {
	case types.EncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, errdefs.Wrap(err, errdefs.CodeValidationFailed, "content is not valid base64")
		}
		data = decoded
	default:
		data = []byte(content)
	}

	b64 := base64.StdEncoding.EncodeToString(data)
	cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
		shim.Quote(filepath.Dir(path)), shim.Quote(b64), shim.Quote(path))

	res, err := s.Exec(ctx, cmd, "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fsError(path, res)
	}
	return &types.FileOpResult{Success: true, ExitCode: res.ExitCode, Path: path}, nil
}

// ReadFile reads a file and decides its transport encoding by sniffing
// the mime type: text mime types travel as utf-8, everything else as
// base64. Passing EncodingBase64 forces base64 regardless.
func (s *Session) ReadFile(ctx context.Context, path string, encoding types.FileEncoding) (*types.ReadFileResult, error) {
	if path == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "path must not be empty")
	}

	res, err := s.Exec(ctx, "base64 < "+shim.Quote(path), "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fsError(path, res)
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(res.Stdout, "\n", ""))
	if err != nil {
		return nil, errdefs.Wrap(err, errdefs.CodeFilesystemError, "decode file content")
	}

	mimeType, isText := sniffMime(path, data)
	binary := !isText || encoding == types.EncodingBase64

	out := &types.ReadFileResult{
		Success:  true,
		ExitCode: res.ExitCode,
		Path:     path,
		IsBinary: !isText,
		MimeType: mimeType,
		Size:     len(data),
	}
	if binary {
		out.Content = base64.StdEncoding.EncodeToString(data)
		out.Encoding = types.EncodingBase64
	} else {
		out.Content = string(data)
		out.Encoding = types.EncodingUTF8
	}
	return out, nil
}

// ReadFileStream reads a file and emits it as chunked events followed by
// one terminal complete carrying size and mime metadata.
func (s *Session) ReadFileStream(ctx context.Context, path string) (<-chan types.FileChunkEvent, error) {
	res, err := s.ReadFile(ctx, path, "")
	if err != nil {
		return nil, err
	}

	ch := make(chan types.FileChunkEvent, 8)
	go func() {
		defer close(ch)
		content := res.Content
		for off := 0; off < len(content); off += fileStreamChunkSize {
			end := off + fileStreamChunkSize
			if end > len(content) {
				end = len(content)
			}
			select {
			case ch <- types.FileChunkEvent{Type: types.FileEventChunk, Data: content[off:end], Encoding: res.Encoding}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- types.FileChunkEvent{
			Type:     types.FileEventComplete,
			Encoding: res.Encoding,
			MimeType: res.MimeType,
			Size:     res.Size,
		}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Mkdir creates a directory, optionally with parents.
func (s *Session) Mkdir(ctx context.Context, path string, recursive bool) (*types.FileOpResult, error) {
	if path == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "path must not be empty")
	}
	cmd := "mkdir "
	if recursive {
		cmd = "mkdir -p "
	}
	return s.fileOp(ctx, path, cmd+shim.Quote(path))
}

// DeleteFile removes a file or directory tree.
func (s *Session) DeleteFile(ctx context.Context, path string) (*types.FileOpResult, error) {
	if path == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "path must not be empty")
	}
	return s.fileOp(ctx, path, "rm -rf "+shim.Quote(path))
}

// RenameFile renames a file within its filesystem.
func (s *Session) RenameFile(ctx context.Context, oldPath, newPath string) (*types.FileOpResult, error) {
	if oldPath == "" || newPath == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "both paths must be provided")
	}
	return s.fileOp(ctx, newPath, fmt.Sprintf("mv %s %s", shim.Quote(oldPath), shim.Quote(newPath)))
}

// MoveFile moves a file, creating the destination directory if needed.
func (s *Session) MoveFile(ctx context.Context, src, dst string) (*types.FileOpResult, error) {
	if src == "" || dst == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "both paths must be provided")
	}
	cmd := fmt.Sprintf("mkdir -p %s && mv %s %s",
		shim.Quote(filepath.Dir(dst)), shim.Quote(src), shim.Quote(dst))
	return s.fileOp(ctx, dst, cmd)
}

// ListFiles enumerates directory entries via find, one parseable record
// per line: type|size|mtime|path.
func (s *Session) ListFiles(ctx context.Context, path string, opts ListOptions) ([]types.FileInfo, error) {
	if path == "" {
		return nil, errdefs.New(errdefs.CodeValidationFailed, "path must not be empty")
	}

	depth := " -maxdepth 1"
	if opts.Recursive {
		depth = ""
	}
	cmd := fmt.Sprintf("find %s -mindepth 1%s -printf '%%y|%%s|%%T@|%%p\\n'", shim.Quote(path), depth)

	res, err := s.Exec(ctx, cmd, "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fsError(path, res)
	}

	files := make([]types.FileInfo, 0)
	for _, line := range strings.Split(res.Stdout, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 4)
		if len(parts) != 4 {
			continue
		}
		entryPath := parts[3]
		if !opts.IncludeHidden && hiddenWithin(path, entryPath) {
			continue
		}
		size, _ := strconv.ParseInt(parts[1], 10, 64)
		mtime, _ := strconv.ParseFloat(parts[2], 64)
		files = append(files, types.FileInfo{
			Name:    filepath.Base(entryPath),
			Path:    entryPath,
			Size:    size,
			IsDir:   parts[0] == "d",
			ModTime: time.Unix(int64(mtime), 0),
		})
	}
	return files, nil
}

func (s *Session) fileOp(ctx context.Context, path, cmd string) (*types.FileOpResult, error) {
	res, err := s.Exec(ctx, cmd, "")
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fsError(path, res)
	}
	return &types.FileOpResult{Success: true, ExitCode: res.ExitCode, Path: path}, nil
}

// fsError classifies a failed shell file op: a "no such file" stderr is a
// not-found, anything else a generic filesystem error.
func fsError(path string, res *types.ExecResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if strings.Contains(msg, "No such file or directory") {
		return errdefs.Newf(errdefs.CodeFileNotFound, "%s: no such file or directory", path).
			WithContext("exitCode", res.ExitCode)
	}
	return errdefs.Newf(errdefs.CodeFilesystemError, "file operation failed: %s", msg).
		WithContext("exitCode", res.ExitCode)
}

// hiddenWithin reports whether any path component of entry below root
// starts with a dot.
func hiddenWithin(root, entry string) bool {
	rel, err := filepath.Rel(root, entry)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// textMimeTypes is the allowlist, beyond text/*, that decides whether
// content travels as utf-8 or base64.
var textMimeTypes = map[string]bool{
	"application/json":        true,
	"application/javascript":  true,
	"application/typescript":  true,
	"application/xml":         true,
	"application/x-sh":        true,
	"application/x-python":    true,
	"application/x-yaml":      true,
	"application/toml":        true,
	"application/sql":         true,
	"application/x-httpd-php": true,
	"application/xhtml+xml":   true,
	"image/svg+xml":           true,
}

func sniffMime(path string, data []byte) (mimeType string, isText bool) {
	mimeType = mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		sniffLen := len(data)
		if sniffLen > 512 {
			sniffLen = 512
		}
		mimeType = http.DetectContentType(data[:sniffLen])
	}

	base := mimeType
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if strings.HasPrefix(base, "text/") || textMimeTypes[base] {
		return mimeType, true
	}
	return mimeType, false
}
