package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Nordstrom/pssh/internal/model"
)

func TestUploadSingleFile(t *testing.T) {
	srv := startTestSSHServer(t)
	h := hostFromAddr(t, srv.addr)

	localDir := t.TempDir()
	localFile := filepath.Join(localDir, "payload.txt")
	content := []byte("hello from upload test")
	if err := os.WriteFile(localFile, content, 0o644); err != nil {
		t.Fatalf("write local file: %v", err)
	}

	remoteFile := filepath.Join(t.TempDir(), "payload.txt")

	batch := Upload(context.Background(), []model.Host{h}, localFile, remoteFile, TransferOptions{
		KnownHosts: NewKnownHosts(""),
	})

	r := batch[0]
	if r.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %s (err=%s)", r.Status, r.Error)
	}
	if r.TransferredBytes != int64(len(content)) {
		t.Fatalf("expected %d bytes transferred, got %d", len(content), r.TransferredBytes)
	}

	got, err := os.ReadFile(remoteFile)
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("uploaded content mismatch: got %q", got)
	}
}

func TestDownloadSingleFileUsesHostLayout(t *testing.T) {
	srv := startTestSSHServer(t)
	h := hostFromAddr(t, srv.addr)
	h.Name = "remote-host"

	remoteFile := filepath.Join(t.TempDir(), "report.txt")
	content := []byte("hello from download test")
	if err := os.WriteFile(remoteFile, content, 0o644); err != nil {
		t.Fatalf("write remote file: %v", err)
	}

	localDir := t.TempDir()

	batch := Download(context.Background(), []model.Host{h}, remoteFile, localDir, TransferOptions{
		KnownHosts: NewKnownHosts(""),
	})

	r := batch[0]
	if r.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %s (err=%s)", r.Status, r.Error)
	}
	if r.TransferredBytes != int64(len(content)) {
		t.Fatalf("expected %d bytes transferred, got %d", len(content), r.TransferredBytes)
	}

	wantPath := filepath.Join(localDir, "remote-host", "report.txt")
	if r.LocalPath != wantPath {
		t.Fatalf("expected local path %s, got %s", wantPath, r.LocalPath)
	}
	got, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("downloaded content mismatch: got %q", got)
	}
}

func TestUploadDirectoryRecursive(t *testing.T) {
	srv := startTestSSHServer(t)
	h := hostFromAddr(t, srv.addr)

	localRoot := t.TempDir()
	if err := os.MkdirAll(filepath.Join(localRoot, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"a.txt":     "aaaa",
		"sub/b.txt": "bb",
	}
	var total int64
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(localRoot, rel), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
		total += int64(len(content))
	}

	remoteRoot := filepath.Join(t.TempDir(), "uploaded")

	batch := Upload(context.Background(), []model.Host{h}, localRoot, remoteRoot, TransferOptions{
		Recursive:  true,
		KnownHosts: NewKnownHosts(""),
	})

	r := batch[0]
	if r.Status != model.StatusSuccess {
		t.Fatalf("expected success, got %s (err=%s)", r.Status, r.Error)
	}
	if r.TransferredBytes != total {
		t.Fatalf("expected %d bytes transferred, got %d", total, r.TransferredBytes)
	}
	for rel, content := range files {
		got, err := os.ReadFile(filepath.Join(remoteRoot, rel))
		if err != nil {
			t.Fatalf("read uploaded %s: %v", rel, err)
		}
		if string(got) != content {
			t.Fatalf("content mismatch for %s: got %q", rel, got)
		}
	}
}

func TestUploadDirectoryWithoutRecursiveErrors(t *testing.T) {
	srv := startTestSSHServer(t)
	h := hostFromAddr(t, srv.addr)

	localRoot := t.TempDir()
	remoteRoot := filepath.Join(t.TempDir(), "uploaded")

	batch := Upload(context.Background(), []model.Host{h}, localRoot, remoteRoot, TransferOptions{
		KnownHosts: NewKnownHosts(""),
	})

	r := batch[0]
	if r.Status != model.StatusError {
		t.Fatalf("expected error for non-recursive directory upload, got %s", r.Status)
	}
}
