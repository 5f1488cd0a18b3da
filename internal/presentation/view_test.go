package presentation

import (
	"errors"
	"testing"

	"bgremover/internal/session"
)

func TestBind(t *testing.T) {
	tests := []struct {
		name string
		snap session.Snapshot
		want View
	}{
		{
			name: "idle",
			snap: session.Snapshot{State: session.Idle},
			want: View{UploadVisible: true},
		},
		{
			name: "processing",
			snap: session.Snapshot{State: session.Processing, OriginalURL: "blob:bgremover/a"},
			want: View{OriginalVisible: true, Loading: true, OriginalURL: "blob:bgremover/a"},
		},
		{
			name: "ready",
			snap: session.Snapshot{State: session.Ready, OriginalURL: "blob:bgremover/a", ResultURL: "blob:bgremover/b"},
			want: View{
				OriginalVisible: true,
				ResultVisible:   true,
				DownloadEnabled: true,
				ResetVisible:    true,
				OriginalURL:     "blob:bgremover/a",
				ResultURL:       "blob:bgremover/b",
			},
		},
		{
			name: "error",
			snap: session.Snapshot{State: session.Error, OriginalURL: "blob:bgremover/a", Err: errors.New("network down")},
			want: View{UploadVisible: true, ResetVisible: true, Message: "network down", OriginalURL: "blob:bgremover/a"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Bind(tc.snap); got != tc.want {
				t.Fatalf("Bind() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	if got := (View{Message: "x"}).Status(); got != "failed: x" {
		t.Fatalf("status = %q", got)
	}
	if got := (View{Loading: true}).Status(); got != "removing background..." {
		t.Fatalf("status = %q", got)
	}
	if got := (View{DownloadEnabled: true}).Status(); got != "ready to download" {
		t.Fatalf("status = %q", got)
	}
}
