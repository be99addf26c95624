package web

import (
	"io/fs"
	"net/http"
	"strings"
)

// mediaFS serves uploaded files only. Dot-prefixed names, including in-flight
// upload temp files, and directories are reported as missing.
type mediaFS struct {
	root http.Dir
}

func (m mediaFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, fs.ErrNotExist
		}
	}

	f, err := m.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
