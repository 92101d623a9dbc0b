package relay

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// Attachment is an opaque blob received with a message. Data is never modified.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Receipt acknowledges an accepted attachment. MIMEType is the resolved type
// the policy was checked against; DeclaredMIMEType is what the client sent.
type Receipt struct {
	Name             string
	MIMEType         string
	DeclaredMIMEType string
	Size             int64
	SHA256           string
}

// AttachmentPolicy bounds what the relay accepts. A zero MaxBytes means no
// size limit; an empty AllowedTypes list accepts every type.
type AttachmentPolicy struct {
	MaxBytes     int64
	AllowedTypes []string
}

// resolveMIMEType keeps the declared type when it is specific and falls back
// to the file extension, then content sniffing.
func resolveMIMEType(a *Attachment) string {
	declared := normalizeMIMEType(a.MIMEType)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ext := filepath.Ext(a.Name); ext != "" {
		if byExt := normalizeMIMEType(mime.TypeByExtension(ext)); byExt != "" {
			return byExt
		}
	}
	if len(a.Data) > 0 {
		return normalizeMIMEType(http.DetectContentType(a.Data))
	}
	return declared
}

func normalizeMIMEType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(v)
	}
	return mt
}

func (p AttachmentPolicy) check(a *Attachment, mimeType string) *Error {
	if len(a.Data) == 0 {
		return &Error{Kind: KindAttachment, Message: "attachment is empty"}
	}
	if p.MaxBytes > 0 && int64(len(a.Data)) > p.MaxBytes {
		return &Error{
			Kind:     KindAttachment,
			Message:  fmt.Sprintf("attachment exceeds %d bytes", p.MaxBytes),
			TooLarge: true,
		}
	}
	if len(p.AllowedTypes) == 0 {
		return nil
	}
	for _, allowed := range p.AllowedTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if strings.HasSuffix(allowed, "/") && strings.HasPrefix(mimeType, allowed) {
			return nil
		}
		if mimeType == allowed {
			return nil
		}
	}
	return &Error{Kind: KindAttachment, Message: fmt.Sprintf("attachment type %q is not supported", mimeType)}
}

func receiptFor(a *Attachment, mimeType string) *Receipt {
	sum := sha256.Sum256(a.Data)
	return &Receipt{
		Name:             a.Name,
		MIMEType:         mimeType,
		DeclaredMIMEType: a.MIMEType,
		Size:             int64(len(a.Data)),
		SHA256:           hex.EncodeToString(sum[:]),
	}
}
