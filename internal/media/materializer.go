// Package media downloads message attachments and persists them under a
// per-chat directory, producing a stable retrieval reference.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
)

// Downloader fetches the attachment bytes embedded in a message payload.
type Downloader interface {
	DownloadAny(ctx context.Context, msg *waE2E.Message) ([]byte, error)
}

// Media is the retrieval reference of a materialized attachment.
type Media struct {
	Filename string
	Mime     string
	Size     int64
}

// Materializer writes attachments to disk under root/<chatID>/.
type Materializer struct {
	root       string
	downloader Downloader
	logger     *zap.Logger
}

// NewMaterializer creates a materializer rooted at root.
func NewMaterializer(root string, d Downloader, logger *zap.Logger) *Materializer {
	return &Materializer{root: root, downloader: d, logger: logger}
}

// Materialize downloads the attachment of a message and writes it to
// <root>/<chatID>/<messageID><ext>. The extension comes from the declared
// mimetype, falling back to sniffing the downloaded bytes. Failure is
// returned to the caller; the owning message is persisted without media
// metadata in that case.
func (m *Materializer) Materialize(ctx context.Context, chatID, messageID, declaredMime string, raw *waE2E.Message) (Media, error) {
	if raw == nil {
		return Media{}, fmt.Errorf("no payload for message %s", messageID)
	}

	data, err := m.downloader.DownloadAny(ctx, raw)
	if err != nil {
		return Media{}, fmt.Errorf("download media for %s: %w", messageID, err)
	}
	if len(data) == 0 {
		return Media{}, fmt.Errorf("empty media payload for %s", messageID)
	}

	mimeType := declaredMime
	ext := extensionFor(declaredMime)
	if ext == "" {
		sniffed := mimetype.Detect(data)
		mimeType = sniffed.String()
		ext = sniffed.Extension()
	}

	dir := filepath.Join(m.root, sanitize(chatID))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return Media{}, fmt.Errorf("create media dir: %w", err)
	}

	filename := sanitize(messageID) + ext
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return Media{}, fmt.Errorf("write media file: %w", err)
	}

	m.logger.Info("media materialized",
		zap.String("chat_id", chatID),
		zap.String("filename", filename),
		zap.Int("size", len(data)))

	return Media{Filename: filename, Mime: mimeType, Size: int64(len(data))}, nil
}

// Path returns the on-disk path of a previously materialized attachment.
func (m *Materializer) Path(chatID, filename string) string {
	return filepath.Join(m.root, sanitize(chatID), filepath.Base(filename))
}

// extensionFor maps a declared mimetype to a file extension, ignoring any
// codec parameters ("audio/ogg; codecs=opus").
func extensionFor(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// sanitize strips path separators so chat and message ids cannot escape the
// media root.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	return s
}
