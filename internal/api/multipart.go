package api

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
)

var errBodyReplaced = errors.New("multipart body replaced by a newer attempt")

// FilePart is one file field of a multipart form. Content must be seekable so
// the form can be rebuilt when the request is replayed after a token refresh.
type FilePart struct {
	Field    string
	Filename string
	Content  io.ReadSeeker
}

type formField struct {
	name, value string
}

// multipartForm streams a form through a pipe instead of buffering files.
type multipartForm struct {
	boundary string
	fields   []formField
	files    []FilePart

	mu   sync.Mutex
	prev *io.PipeReader
	done chan struct{}
}

func newMultipartForm() *multipartForm {
	return &multipartForm{boundary: multipart.NewWriter(io.Discard).Boundary()}
}

func (f *multipartForm) field(name, value string) *multipartForm {
	f.fields = append(f.fields, formField{name: name, value: value})
	return f
}

func (f *multipartForm) file(part FilePart) *multipartForm {
	f.files = append(f.files, part)
	return f
}

func (f *multipartForm) contentType() string {
	return "multipart/form-data; boundary=" + f.boundary
}

// reader rewinds every file and returns a fresh body. The returned reader is
// an *io.PipeReader, so closing it (as net/http does) stops the writer.
//
// net/http may still be reading the previous body after a response arrived,
// so the previous writer is stopped and awaited before any file is rewound.
func (f *multipartForm) reader() (io.Reader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.prev != nil {
		f.prev.CloseWithError(errBodyReplaced)
		<-f.done
		f.prev, f.done = nil, nil
	}

	for _, part := range f.files {
		if _, err := part.Content.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind %s: %w", part.Filename, err)
		}
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	f.prev, f.done = pr, done

	go func() {
		defer close(done)
		pw.CloseWithError(f.write(pw))
	}()
	return pr, nil
}

func (f *multipartForm) write(w io.Writer) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(f.boundary); err != nil {
		return err
	}
	for _, field := range f.fields {
		if err := mw.WriteField(field.name, field.value); err != nil {
			return err
		}
	}
	for _, part := range f.files {
		fw, err := mw.CreateFormFile(part.Field, part.Filename)
		if err != nil {
			return err
		}
		if _, err := io.Copy(fw, part.Content); err != nil {
			return err
		}
	}
	return mw.Close()
}

func (f *multipartForm) request(method, path string) *request {
	if method == "" {
		method = http.MethodPost
	}
	return &request{
		method:      method,
		path:        path,
		body:        f.reader,
		contentType: f.contentType(),
	}
}
