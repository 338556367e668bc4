package filetype

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const PDF = "application/pdf"

var ErrNotPDF = errors.New("not a pdf")

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

func New() *Detector {
	return &Detector{}
}

// Detect sniffs the upload's content. The name is only used for logging and for spotting a
// misleading extension.
func (d *Detector) Detect(name string, data []byte) *FileTypeInfo {
	mtype := mimetype.Detect(data)
	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)

	if ext := strings.ToLower(filepath.Ext(name)); ext != "" && ext != info.Extension {
		log.Debug().Str("file", name).Str("ext", ext).Str("mime", info.MIMEType).Msg("extension does not match content")
	}
	return info
}

func (d *Detector) classify(info *FileTypeInfo) {
	switch {
	case mimetype.EqualsAny(info.MIMEType, PDF):
		info.Supported = true
		info.Description = "PDF document"
	case strings.HasPrefix(info.MIMEType, "image/"):
		info.Description = "Image file; scan batches must be PDF"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
}

// RequirePDF rejects anything whose bytes are not a PDF, whatever it is called.
func (d *Detector) RequirePDF(name string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%s: empty upload: %w", name, ErrNotPDF)
	}
	info := d.Detect(name, data)
	if !info.Supported {
		return fmt.Errorf("%s: %s: %w", name, info.Description, ErrNotPDF)
	}
	return nil
}
