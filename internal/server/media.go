package server

import (
	"io/fs"
	"net/http"
)

// mediaHandler serves stored photos by exact key. Directories are reported
// as missing so owner folders cannot be listed.
func mediaHandler(dir string) http.Handler {
	return http.StripPrefix("/media/", http.FileServer(filesOnly{http.Dir(dir)}))
}

type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}
