package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"pdf-form-drop/internal/catalog"
	"pdf-form-drop/internal/store"
)

var samplePDF = []byte("%PDF-1.4\n% not a real document\n%%EOF\n")

// fixedIDs hands out ids in order and fails once they run out.
func fixedIDs(ids ...string) func() (string, error) {
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(ids) == 0 {
			return "", errors.New("no more ids")
		}
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}
}

func newTestStore(t *testing.T, ids ...string) *store.Store {
	t.Helper()
	opts := []store.Option{store.WithLogger(zaptest.NewLogger(t))}
	if len(ids) > 0 {
		opts = append(opts, store.WithIDGenerator(fixedIDs(ids...)))
	}
	st, err := store.New(t.TempDir(), opts...)
	require.NoError(t, err)
	return st
}

func newTestServer(t *testing.T, cfg Config, st *store.Store, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := New(cfg, st, opts...)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

type formFile struct {
	filename    string
	contentType string
	data        []byte
}

// submissionRequest builds a multipart POST /details. A nil file omits the
// attachment part.
func submissionRequest(t *testing.T, name, age string, file *formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if name != "" {
		require.NoError(t, mw.WriteField("name", name))
	}
	if age != "" {
		require.NoError(t, mw.WriteField("age", age))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename="%s"`, file.filename))
		h.Set("Content-Type", file.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/details", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.RemoteAddr = "198.51.100.7:40000"
	return req
}

func pdfFile() *formFile {
	return &formFile{filename: "cv.pdf", contentType: "application/pdf", data: samplePDF}
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

type fakeCatalog struct {
	mu      sync.Mutex
	entries []catalog.Entry
	err     error
	pingErr error
}

func (f *fakeCatalog) Record(_ context.Context, e catalog.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeCatalog) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.entries)), f.err
}

func (f *fakeCatalog) Ping(context.Context) error {
	return f.pingErr
}

type fakeMirror struct {
	mu       sync.Mutex
	uploads  map[string]map[string][]byte
	err      error
	checkErr error
}

func (f *fakeMirror) Replicate(_ context.Context, id string, files map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.uploads == nil {
		f.uploads = make(map[string]map[string][]byte)
	}
	f.uploads[id] = files
	return nil
}

func (f *fakeMirror) Check(context.Context) error {
	return f.checkErr
}
