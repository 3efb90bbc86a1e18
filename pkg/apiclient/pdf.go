package apiclient

import (
	"bytes"
	"regexp"
	"strings"
)

// pdfScanLimit is how much of a PDF is searched for encryption markers.
const pdfScanLimit = 4096

var encryptionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/Encrypt\s*\d+\s*\d+\s*R`),
	regexp.MustCompile(`/Encrypt\s*<<.*?>>`),
	regexp.MustCompile(`/Encrypt`),
	regexp.MustCompile(`/Encryption`),
	regexp.MustCompile(`/FileAccess`),
	regexp.MustCompile(`/EncryptMetadata`),
	regexp.MustCompile(`/StandardSecurityHandler`),
	regexp.MustCompile(`/Perms`),
	regexp.MustCompile(`/SecuritySettings`),
	regexp.MustCompile(`/ID\s*\[`),
	regexp.MustCompile(`/U\s*\(`),
	regexp.MustCompile(`/O\s*\(`),
	regexp.MustCompile(`/R\s*\d`),
	regexp.MustCompile(`/V\s*\d`),
	regexp.MustCompile(`/Length\s*\d+`),
	regexp.MustCompile(`/CF\s*<<.*?>>`),
	regexp.MustCompile(`/StmF\s*/`),
	regexp.MustCompile(`/StrF\s*/`),
	regexp.MustCompile(`/AuthEvent`),
	regexp.MustCompile(`/SubFilter`),
}

// binaryMarkers are searched anywhere in the file.
var binaryMarkers = [][]byte{[]byte("/En"), []byte("/Cr")}

// CheckPDF inspects a PDF before upload. It returns ErrInvalidPDF when the
// %PDF- signature is missing and ErrEncryptedPDF when any encryption or
// access-restriction marker is present. The check errs on the side of
// rejecting: structural keys such as /Length also count as markers.
func CheckPDF(data []byte) error {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return ErrInvalidPDF
	}

	head := data[:min(len(data), pdfScanLimit)]
	for _, p := range encryptionPatterns {
		if p.Match(head) {
			return ErrEncryptedPDF
		}
	}
	for _, m := range binaryMarkers {
		if bytes.Contains(data, m) {
			return ErrEncryptedPDF
		}
	}
	return nil
}

// IsPDF reports whether a file is a PDF by name, content type or signature.
func IsPDF(name, contentType string, data []byte) bool {
	return contentType == "application/pdf" ||
		strings.HasSuffix(strings.ToLower(name), ".pdf") ||
		bytes.HasPrefix(data, []byte("%PDF-"))
}
