package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDataURI(t *testing.T) {
	pngHeader := []byte("\x89PNG\r\n\x1a\n")

	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"jpeg by extension", "a.jpg", []byte("hi"), "data:image/jpeg;base64,aGk="},
		{"upper-case extension", "A.JPEG", []byte("hi"), "data:image/jpeg;base64,aGk="},
		{"png by extension", "a.png", []byte("hi"), "data:image/png;base64,aGk="},
		{"sniffed when extension unknown", "photo", pngHeader, "data:image/png;base64,iVBORw0KGgo="},
		{"unknown binary", "blob", []byte{0x00, 0x01, 0x02}, "data:application/octet-stream;base64,AAEC"},
		{"empty file", "empty.jpg", nil, "data:image/jpeg;base64,"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeDataURI(tt.file, tt.data))
		})
	}
}
