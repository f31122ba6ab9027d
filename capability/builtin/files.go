package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spinje/pflow-sub005/capability"
	"golang.org/x/text/encoding/htmlindex"
)

type readFile struct{ opts Options }

func (c readFile) Invoke(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
	path := inv.String("file_path")
	if path == "" {
		return nil, fmt.Errorf("read-file: file_path is required")
	}
	data, err := os.ReadFile(c.opts.path(path))
	if err != nil {
		return nil, fmt.Errorf("read-file: %w", err)
	}
	content, err := decodeText(data, inv.String("encoding"))
	if err != nil {
		return nil, fmt.Errorf("read-file %s: %w", path, err)
	}
	return map[string]any{"content": content}, nil
}

// decodeText converts data from the named encoding to UTF-8.
func decodeText(data []byte, encoding string) (string, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return string(data), nil
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return "", fmt.Errorf("unsupported encoding %q", encoding)
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", encoding, err)
	}
	return string(out), nil
}

type writeFile struct{ opts Options }

func (c writeFile) Invoke(_ context.Context, inv *capability.Invocation) (map[string]any, error) {
	path := inv.String("file_path")
	if path == "" {
		return nil, fmt.Errorf("write-file: file_path is required")
	}
	path = c.opts.path(path)
	content := inv.String("content")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("write-file: create parent directories: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode, _ := inv.Params["append"].(bool); appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("write-file: %w", err)
	}
	n, err := f.WriteString(content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("write-file: %w", err)
	}
	return map[string]any{"written": true, "bytes": n}, nil
}
