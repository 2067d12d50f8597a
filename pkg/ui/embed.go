// Package ui provides the embedded pages served by the file delivery server.
package ui

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed download.html
var downloadHTML string

// ConsumedHTML is shown when a file has already been downloaded.
//
//go:embed consumed.html
var ConsumedHTML []byte

// ExpiredHTML is shown for unknown or expired links.
//
//go:embed expired.html
var ExpiredHTML []byte

//go:embed static
var staticFiles embed.FS

// DownloadTemplate renders the landing page.
var DownloadTemplate = template.Must(template.New("download").Parse(downloadHTML))

// DownloadPage is the data rendered by DownloadTemplate.
type DownloadPage struct {
	Token        string
	Filename     string
	Size         string
	ContentLabel string
	MIMEType     string
	IsVideo      bool
	Expires      string
	// Audio is the sibling audio download, nil when unavailable.
	Audio *AudioLink
}

// AudioLink is a secondary download offered on a video page.
type AudioLink struct {
	Token    string
	Filename string
	Size     string
}

// Static returns the static asset tree rooted at its top directory.
func Static() fs.FS {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
