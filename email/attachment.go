package email

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
)

// DefaultAttachmentLimit caps the size of a local file we'll attach. Most
// relays refuse messages well below this.
const DefaultAttachmentLimit int64 = 10 * units.MiB

// LoadInlineAttachment reads the file at path into an inline Attachment
// whose content identifier is the file's base name, so HTML can refer to it
// as cid:<name>. If contentType is empty we guess it from the extension.
// A limit of zero or less means DefaultAttachmentLimit.
func LoadInlineAttachment(path, contentType string, limit int64) (Attachment, error) {
	if limit <= 0 {
		limit = DefaultAttachmentLimit
	}

	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Attachment{}, fmt.Errorf("%w: %v", ErrAttachmentNotFound, path)
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("can't read the attachment: %w", err)
	}
	if fi.IsDir() {
		return Attachment{}, fmt.Errorf("%w: %v is a directory", ErrAttachmentNotFound, path)
	}
	if fi.Size() > limit {
		return Attachment{}, fmt.Errorf(
			"%w: %v is %v, the limit is %v",
			ErrAttachmentTooLarge,
			path,
			units.BytesSize(float64(fi.Size())),
			units.BytesSize(float64(limit)),
		)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("can't read the attachment: %w", err)
	}

	name := filepath.Base(path)
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return Attachment{
		Filename:    name,
		ContentType: contentType,
		ContentID:   name,
		Content:     b,
		Inline:      true,
	}, nil
}
