package apiclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
)

// Multipart is a form body built from the parts that were actually provided.
type Multipart struct {
	parts []formPart
}

type formPart struct {
	name     string
	value    string
	filename string
	content  io.Reader
}

func NewMultipart() *Multipart {
	return &Multipart{}
}

func (m *Multipart) Field(name, value string) *Multipart {
	m.parts = append(m.parts, formPart{name: name, value: value})
	return m
}

func (m *Multipart) File(name, filename string, content io.Reader) *Multipart {
	m.parts = append(m.parts, formPart{name: name, filename: filename, content: content})
	return m
}

func (m *Multipart) Len() int {
	if m == nil {
		return 0
	}
	return len(m.parts)
}

func (m *Multipart) Has(name string) bool {
	if m == nil {
		return false
	}
	for _, p := range m.parts {
		if p.name == name {
			return true
		}
	}
	return false
}

// encode writes the parts and returns the body with its content type,
// boundary included.
func (m *Multipart) encode() (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range m.parts {
		if p.content == nil {
			if err := w.WriteField(p.name, p.value); err != nil {
				return nil, "", fmt.Errorf("write form field %q: %w", p.name, err)
			}
			continue
		}
		fw, err := w.CreateFormFile(p.name, p.filename)
		if err != nil {
			return nil, "", fmt.Errorf("create form file %q: %w", p.name, err)
		}
		if _, err := io.Copy(fw, p.content); err != nil {
			return nil, "", fmt.Errorf("copy form file %q: %w", p.name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
