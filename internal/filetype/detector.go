package filetype

import (
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Kind groups the content types the editor cares about.
type Kind string

const (
	KindPDF   Kind = "pdf"
	KindImage Kind = "image"
	KindOther Kind = "other"
)

// Info contains detected file type information
type Info struct {
	MIMEType    string
	Extension   string
	Kind        Kind
	Description string
}

// Supported reports whether the editor can open the content as a document.
func (i Info) Supported() bool { return i.Kind == KindPDF }

// Detect detects the content type of data using magic bytes.
func Detect(data []byte) Info {
	mt := mimetype.Detect(data)
	info := Info{MIMEType: mt.String(), Extension: mt.Extension()}
	classify(&info, mt)
	return info
}

// DetectFile detects the content type of a file using magic bytes, not its name.
func DetectFile(path string) (Info, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to detect file type: %w", err)
	}
	info := Info{MIMEType: mt.String(), Extension: mt.Extension()}
	classify(&info, mt)
	log.Debug().Str("mime", info.MIMEType).Str("file", path).Msg("detected file type")
	return info, nil
}

func classify(info *Info, mt *mimetype.MIME) {
	switch {
	case mt.Is("application/pdf"):
		info.Kind = KindPDF
		info.Description = "PDF document"
	case mt.Is("image/png"):
		info.Kind = KindImage
		info.Description = "PNG image"
	case mt.Is("image/jpeg"):
		info.Kind = KindImage
		info.Description = "JPEG image"
	case strings.HasPrefix(info.MIMEType, "image/"):
		// Other raster formats are recognised but not decodable as stamps.
		info.Kind = KindOther
		info.Description = "Unsupported image format"
	default:
		info.Kind = KindOther
		info.Description = "Unsupported file type"
	}
}

// IsPDFFile is a convenience for path based checks.
func IsPDFFile(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	info, err := DetectFile(path)
	return err == nil && info.Kind == KindPDF
}
