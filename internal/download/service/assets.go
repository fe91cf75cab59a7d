package service

import (
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/spf13/afero"
)

var assetContentTypes = map[string]string{
	".epub": "application/epub+zip",
	".pdf":  "application/pdf",
	".mobi": "application/x-mobipocket-ebook",
	".azw3": "application/vnd.amazon.ebook",
}

// NewAssetFs roots the asset store at dir.
func NewAssetFs(dir string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), dir)
}

// cleanAssetPath rejects absolute paths and parent traversal.
func cleanAssetPath(p string) (string, bool) {
	p = strings.TrimSpace(filepath.ToSlash(p))
	if p == "" {
		return "", false
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return "", false
	}
	if strings.Contains(p, "..") {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), true
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := assetContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func filenameFor(title string, assetPath string) string {
	base := slug.Make(title)
	if base == "" {
		base = "download"
	}
	return base + strings.ToLower(path.Ext(assetPath))
}
