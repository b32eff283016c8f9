package store

import (
	"mime"
	"path/filepath"
	"strings"
)

// PDFMimeType is the only attachment type accepted by Create.
const PDFMimeType = "application/pdf"

const (
	msgRequired  = "All fields including PDF are required"
	msgPDFOnly   = "only PDFs are allowed"
	msgPathChars = "name and age must not contain path separators"
)

// ValidateAttachmentType checks the content type declared for an upload. The
// media type is compared case-insensitively and parameters are ignored; the
// payload itself is not inspected.
func ValidateAttachmentType(declared string) error {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil || mediaType != PDFMimeType {
		return &ValidationError{Field: "attachment", Message: msgPDFOnly}
	}
	return nil
}

// validateInput mirrors the order the upload is processed in: a file with the
// wrong type is refused before the presence of the text fields is checked.
func validateInput(in CreateInput) error {
	if in.Attachment != nil {
		if err := ValidateAttachmentType(in.Attachment.ContentType); err != nil {
			return err
		}
	}

	switch {
	case in.Name == "":
		return &ValidationError{Field: "name", Message: msgRequired}
	case in.Age == "":
		return &ValidationError{Field: "age", Message: msgRequired}
	case in.Attachment == nil:
		return &ValidationError{Field: "attachment", Message: msgRequired}
	}

	// name and age end up in a file name; they must not move it out of the
	// submission directory.
	if unsafeInName(in.Name) {
		return &ValidationError{Field: "name", Message: msgPathChars}
	}
	if unsafeInName(in.Age) {
		return &ValidationError{Field: "age", Message: msgPathChars}
	}

	return nil
}

// normalizeField replaces invalid UTF-8 with U+FFFD. details.json only holds
// valid UTF-8 and the PDF name is rebuilt from it on lookup.
func normalizeField(v string) string {
	return strings.ToValidUTF8(v, "\uFFFD")
}

func unsafeInName(v string) bool {
	return strings.ContainsRune(v, '/') ||
		strings.ContainsRune(v, filepath.Separator) ||
		strings.ContainsRune(v, 0)
}
