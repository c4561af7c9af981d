package uploader

import (
	"encoding/base64"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// EncodeDataURI renders data as data:<mime>;base64,<payload>. The MIME
// type comes from the file extension, falling back to content sniffing.
func EncodeDataURI(name string, data []byte) string {
	mt := mimeType(name, data)

	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mt) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mt)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))

	return b.String()
}

func mimeType(name string, data []byte) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}

	mt, _, err := mime.ParseMediaType(http.DetectContentType(data))
	if err != nil {
		return "application/octet-stream"
	}

	return mt
}
