package llm

import (
	"encoding/base64"
	"strings"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
)

// DataURL encodes b as data:<mime>;base64,<payload>.
func DataURL(mimeType string, b []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// AttachmentMIME returns the attachment MIME type, sniffing the payload when unset.
func AttachmentMIME(a Attachment) string {
	mt := strings.TrimSpace(a.MIMEType)
	if mt == "" || mt == "application/octet-stream" {
		mt = constants.DetectMIME(a.Data)
	}
	return mt
}

// IsPDF reports whether the attachment is a PDF document.
func IsPDF(a Attachment) bool {
	return constants.MapMIMEToFormat(AttachmentMIME(a)) == constants.PDF
}
