package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/corymhall/proofsync/backend"
	"github.com/corymhall/proofsync/lsp"
)

var (
	errMissingPath = errors.New("missing uri/path")
	errForbidden   = errors.New("forbidden or not a file")
)

// A diskFile is a project file read on behalf of a client.
type diskFile struct {
	uri     lsp.DocumentURI
	path    string
	content []byte
}

// ioLimit limits the number of parallel file reads per process.
var ioLimit = make(chan struct{}, 128)

// readProjectFile reads the file named by req. Only regular files under root
// can be read; symlinks are resolved before the check.
func readProjectFile(ctx context.Context, root string, req backend.ReadFileRequest) (*diskFile, error) {
	path := req.Path
	if strings.HasPrefix(string(req.URI), "file://") {
		path = req.URI.Path()
	}
	if path == "" {
		return nil, errMissingPath
	}

	resolved, err := resolve(path)
	if err != nil {
		return nil, errForbidden
	}
	rootResolved, err := resolve(root)
	if err != nil {
		return nil, err
	}
	if !within(rootResolved, resolved) {
		return nil, errForbidden
	}
	if st, err := os.Stat(resolved); err != nil || !st.Mode().IsRegular() {
		return nil, errForbidden
	}

	select {
	case ioLimit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-ioLimit }()

	content, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	return &diskFile{uri: lsp.URIFromPath(resolved), path: resolved, content: content}, nil
}

func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
