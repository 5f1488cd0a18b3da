// Package presentation turns session snapshots into what a screen should show.
package presentation

import "bgremover/internal/session"

// View is the set of visibility flags a renderer needs.
type View struct {
	UploadVisible   bool
	OriginalVisible bool
	ResultVisible   bool
	Loading         bool
	DownloadEnabled bool
	ResetVisible    bool
	// Message is a blocking notification to show, if any.
	Message string
	// OriginalURL and ResultURL are the preview sources.
	OriginalURL string
	ResultURL   string
}

// Bind maps a snapshot to a View. Error falls back to the upload affordance
// so the user is never stuck behind a spinner.
func Bind(s session.Snapshot) View {
	v := View{OriginalURL: s.OriginalURL}
	switch s.State {
	case session.Idle:
		v.UploadVisible = true
		v.OriginalURL = ""
	case session.Loaded, session.Processing:
		v.OriginalVisible = true
		v.Loading = true
	case session.Ready:
		v.OriginalVisible = true
		v.ResultVisible = true
		v.DownloadEnabled = true
		v.ResetVisible = true
		v.ResultURL = s.ResultURL
	case session.Error:
		v.UploadVisible = true
		v.ResetVisible = true
		v.Message = s.Message()
	}
	return v
}

// Status is a one-line human description of v.
func (v View) Status() string {
	switch {
	case v.Message != "":
		return "failed: " + v.Message
	case v.Loading:
		return "removing background..."
	case v.DownloadEnabled:
		return "ready to download"
	default:
		return "select an image"
	}
}
