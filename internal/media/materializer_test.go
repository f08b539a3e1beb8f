package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
)

type fakeDownloader struct {
	data []byte
	err  error
}

func (f *fakeDownloader) DownloadAny(_ context.Context, _ *waE2E.Message) ([]byte, error) {
	return f.data, f.err
}

// pngHeader is a minimal valid PNG signature for mimetype sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestMaterializeWritesFile(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, &fakeDownloader{data: []byte("payload")}, zap.NewNop())

	got, err := m.Materialize(context.Background(), "c1@c.us", "MSG1", "image/jpeg", &waE2E.Message{})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if got.Filename != "MSG1.jpeg" && got.Filename != "MSG1.jpg" {
		t.Errorf("filename = %q, want MSG1 with a jpeg extension", got.Filename)
	}
	if got.Mime != "image/jpeg" || got.Size != 7 {
		t.Errorf("media = %+v", got)
	}

	data, err := os.ReadFile(m.Path("c1@c.us", got.Filename))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "payload" {
		t.Errorf("file contents = %q", data)
	}
}

func TestMaterializeSniffsUnknownMime(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, &fakeDownloader{data: pngHeader}, zap.NewNop())

	got, err := m.Materialize(context.Background(), "c1@c.us", "MSG2", "", &waE2E.Message{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Mime != "image/png" {
		t.Errorf("sniffed mime = %q, want image/png", got.Mime)
	}
	if filepath.Ext(got.Filename) != ".png" {
		t.Errorf("filename = %q, want .png extension", got.Filename)
	}
}

func TestMaterializeDownloadFailure(t *testing.T) {
	m := NewMaterializer(t.TempDir(), &fakeDownloader{err: errors.New("boom")}, zap.NewNop())

	_, err := m.Materialize(context.Background(), "c1@c.us", "MSG3", "image/jpeg", &waE2E.Message{})
	if err == nil {
		t.Fatal("want error on download failure")
	}
}

func TestMaterializeNilPayload(t *testing.T) {
	m := NewMaterializer(t.TempDir(), &fakeDownloader{}, zap.NewNop())

	if _, err := m.Materialize(context.Background(), "c1@c.us", "MSG4", "", nil); err == nil {
		t.Fatal("want error on nil payload")
	}
}

func TestPathStaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root, &fakeDownloader{}, zap.NewNop())

	p := m.Path("../../etc", "../passwd")
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		t.Errorf("path %q escapes root %q", p, root)
	}
}
