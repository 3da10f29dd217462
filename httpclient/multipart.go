package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
)

// FileUpload represents a file to be uploaded in a multipart request.
type FileUpload struct {
	// FieldName is the form field name for the file.
	//
	// Example: "document", "avatar", "attachment"
	FieldName string

	// FileName is the name of the file as it appears in the upload.
	//
	// Example: "report.pdf", "profile.jpg"
	FileName string

	// ContentType of the part. Empty means application/octet-stream.
	ContentType string

	// Reader provides the file content. Ignored when Path is set.
	Reader io.Reader

	// Path is opened when the body is encoded.
	Path string
}

type textField struct {
	name  string
	value string
}

// Multipart is a multipart/form-data body. Use it as the argument of a Body
// parameter on an operation declared WithBodyEncoding(BodyMultipart), or via
// RequestBuilder.File / FormField.
//
// Text fields are written first, in insertion order, followed by files.
//
// Example:
//
//	body := httpclient.NewMultipart().
//	    Text("title", "Q4 Report").
//	    File("document", "/path/to/report.pdf")
//	err := client.Call(ctx, uploadOp, nil, body)
type Multipart struct {
	fields   []textField
	files    []FileUpload
	boundary string
}

// NewMultipart creates an empty multipart body.
func NewMultipart() *Multipart {
	return &Multipart{}
}

// WithBoundary fixes the boundary. Used in tests for deterministic output.
func (m *Multipart) WithBoundary(boundary string) *Multipart {
	m.boundary = boundary
	return m
}

// Text adds a text field.
func (m *Multipart) Text(name, value string) *Multipart {
	m.fields = append(m.fields, textField{name: name, value: value})
	return m
}

// Bytes adds an in-memory file part.
func (m *Multipart) Bytes(name, fileName, contentType string, data []byte) *Multipart {
	m.files = append(m.files, FileUpload{
		FieldName:   name,
		FileName:    fileName,
		ContentType: contentType,
		Reader:      bytes.NewReader(data),
	})
	return m
}

// File adds a part read from path when the body is encoded.
func (m *Multipart) File(name, path string) *Multipart {
	m.files = append(m.files, FileUpload{
		FieldName: name,
		FileName:  filepath.Base(path),
		Path:      path,
	})
	return m
}

// Reader adds a part streamed from r.
func (m *Multipart) Reader(name, fileName string, r io.Reader) *Multipart {
	m.files = append(m.files, FileUpload{FieldName: name, FileName: fileName, Reader: r})
	return m
}

// Len returns the number of parts.
func (m *Multipart) Len() int { return len(m.fields) + len(m.files) }

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// Encode renders the body and returns it with its Content-Type.
func (m *Multipart) Encode() ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if m.boundary != "" {
		if err := writer.SetBoundary(m.boundary); err != nil {
			return nil, "", err
		}
	}

	for _, f := range m.fields {
		if err := writer.WriteField(f.name, f.value); err != nil {
			return nil, "", err
		}
	}

	for _, file := range m.files {
		if err := writeFilePart(writer, file); err != nil {
			return nil, "", fmt.Errorf("multipart part %q: %w", file.FieldName, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

func writeFilePart(writer *multipart.Writer, file FileUpload) error {
	reader := file.Reader
	if file.Path != "" {
		f, err := os.Open(file.Path)
		if err != nil {
			return err
		}
		defer f.Close()
		reader = f
	}
	if reader == nil {
		return fmt.Errorf("no content")
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(file.FieldName), quoteEscaper.Replace(file.FileName)))
	h.Set("Content-Type", contentType)

	part, err := writer.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, reader)
	return err
}
