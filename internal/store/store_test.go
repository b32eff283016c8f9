package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

func pdfAttachment(data []byte) *Attachment {
	return &Attachment{Filename: "cv.pdf", ContentType: PDFMimeType, Data: data}
}

// fixedIDs returns a generator handing out ids in order.
func fixedIDs(ids ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		if i >= len(ids) {
			return "", errors.New("no more ids")
		}
		id := ids[i]
		i++
		return id, nil
	}
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := New(filepath.Join(t.TempDir(), "uploads"), opts...)
	require.NoError(t, err)
	return s
}

func entries(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(des))
	for _, de := range des {
		names = append(names, de.Name())
	}
	return names
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestNew_ResolvesAbsoluteRoot(t *testing.T) {
	s, err := New("uploads")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.Root()))
	assert.Equal(t, "uploads", filepath.Base(s.Root()))
}

func TestCreate_RoundTrip(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(fixedIDs("a1b2c3d4e5f6")))
	ctx := context.Background()

	sub, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4e5f6", sub.ID)
	assert.Equal(t, "Alice-30-a1b2c3d4e5f6.pdf", sub.FileName)
	assert.Equal(t, int64(len(samplePDF)), sub.SizeBytes)

	dir := filepath.Join(s.Root(), "a1b2c3d4e5f6")
	assert.ElementsMatch(t, []string{"details.json", "Alice-30-a1b2c3d4e5f6.pdf"}, entries(t, dir))

	details, err := os.ReadFile(filepath.Join(dir, "details.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"name\": \"Alice\",\n  \"age\": \"30\",\n  \"id\": \"a1b2c3d4e5f6\"\n}", string(details))

	pdf, err := os.ReadFile(filepath.Join(dir, "Alice-30-a1b2c3d4e5f6.pdf"))
	require.NoError(t, err)
	assert.Equal(t, samplePDF, pdf)

	rec, err := s.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Name: "Alice", Age: "30", ID: "a1b2c3d4e5f6"}, rec.Metadata)
	assert.Equal(t, filepath.Join(dir, "details.json"), rec.Path)

	p, err := s.ResolveDownloadPath(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "Alice-30-a1b2c3d4e5f6.pdf"))
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, got)
}

func TestCreate_GeneratesHexID(t *testing.T) {
	s := newTestStore(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		sub, err := s.Create(context.Background(), CreateInput{Name: "Bob", Age: "41", Attachment: pdfAttachment(samplePDF)})
		require.NoError(t, err)
		assert.Regexp(t, `^[0-9a-f]{12}$`, sub.ID)
		assert.False(t, seen[sub.ID], "duplicate id %s", sub.ID)
		seen[sub.ID] = true
	}
}

func TestCreate_KeepsFieldsVerbatim(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(fixedIDs("00000000abcd")))

	sub, err := s.Create(context.Background(), CreateInput{
		Name:       "<Zoë & co>",
		Age:        "about forty",
		Attachment: pdfAttachment(nil),
	})
	require.NoError(t, err)

	details, err := os.ReadFile(filepath.Join(sub.Dir, MetadataFile))
	require.NoError(t, err)
	assert.Contains(t, string(details), `"name": "<Zoë & co>"`)
	assert.Contains(t, string(details), `"age": "about forty"`)

	rec, err := s.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "<Zoë & co>", rec.Name)
	assert.Equal(t, "about forty", rec.Age)

	info, err := os.Stat(filepath.Join(sub.Dir, "<Zoë & co>-about forty-00000000abcd.pdf"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

func TestCreate_ValidationStoresNothing(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateInput
		field   string
		message string
	}{
		{
			name:    "missing name",
			in:      CreateInput{Age: "30", Attachment: pdfAttachment(samplePDF)},
			field:   "name",
			message: msgRequired,
		},
		{
			name:    "missing age",
			in:      CreateInput{Name: "Alice", Attachment: pdfAttachment(samplePDF)},
			field:   "age",
			message: msgRequired,
		},
		{
			name:    "missing attachment",
			in:      CreateInput{Name: "Alice", Age: "30"},
			field:   "attachment",
			message: msgRequired,
		},
		{
			name:    "everything missing",
			in:      CreateInput{},
			field:   "name",
			message: msgRequired,
		},
		{
			name: "wrong content type",
			in: CreateInput{Name: "Alice", Age: "30", Attachment: &Attachment{
				ContentType: "image/png", Data: []byte("png"),
			}},
			field:   "attachment",
			message: msgPDFOnly,
		},
		{
			name: "wrong type wins over missing fields",
			in: CreateInput{Attachment: &Attachment{
				ContentType: "text/plain", Data: []byte("hi"),
			}},
			field:   "attachment",
			message: msgPDFOnly,
		},
		{
			name: "empty content type",
			in: CreateInput{Name: "Alice", Age: "30", Attachment: &Attachment{
				Data: samplePDF,
			}},
			field:   "attachment",
			message: msgPDFOnly,
		},
		{
			name:    "slash in name",
			in:      CreateInput{Name: "../../etc/x", Age: "30", Attachment: pdfAttachment(samplePDF)},
			field:   "name",
			message: msgPathChars,
		},
		{
			name:    "slash in age",
			in:      CreateInput{Name: "Alice", Age: "3/0", Attachment: pdfAttachment(samplePDF)},
			field:   "age",
			message: msgPathChars,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)

			_, err := s.Create(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, tt.message, verr.Message)

			assert.Empty(t, entries(t, s.Root()))
		})
	}
}

func TestCreate_AcceptsPDFTypeVariants(t *testing.T) {
	for _, ct := range []string{"application/pdf", "Application/PDF", "application/pdf; name=cv.pdf"} {
		t.Run(ct, func(t *testing.T) {
			s := newTestStore(t)
			_, err := s.Create(context.Background(), CreateInput{
				Name: "Alice", Age: "30",
				Attachment: &Attachment{ContentType: ct, Data: samplePDF},
			})
			require.NoError(t, err)
		})
	}
}

func TestCreate_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, entries(t, s.Root()))
}

func TestCreate_RejectsMalformedGeneratedID(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(fixedIDs("../escape")))

	_, err := s.Create(context.Background(), CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.Error(t, err)
	assert.Empty(t, entries(t, s.Root()))
}

func TestCreate_DirectoryFailureIsIOError(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "uploads")
	require.NoError(t, os.WriteFile(blocker, []byte("not a dir"), 0o644))

	s, err := New(blocker)
	require.NoError(t, err)

	_, err = s.Create(context.Background(), CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.Error(t, err)
	assert.True(t, IsIO(err))
	assert.False(t, IsValidation(err))
}

// Two creates that draw the same id share a directory. The second one wins;
// nothing detects the clash.
func TestCreate_CollisionOverwrites(t *testing.T) {
	t.Run("same name and age", func(t *testing.T) {
		s := newTestStore(t, WithIDGenerator(fixedIDs("a1b2c3d4e5f6", "a1b2c3d4e5f6")))
		ctx := context.Background()

		_, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment([]byte("first"))})
		require.NoError(t, err)
		_, err = s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment([]byte("second"))})
		require.NoError(t, err)

		p, err := s.ResolveDownloadPath(ctx, "a1b2c3d4e5f6")
		require.NoError(t, err)
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("different name leaves orphan pdf", func(t *testing.T) {
		s := newTestStore(t, WithIDGenerator(fixedIDs("a1b2c3d4e5f6", "a1b2c3d4e5f6")))
		ctx := context.Background()

		_, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment([]byte("first"))})
		require.NoError(t, err)
		_, err = s.Create(ctx, CreateInput{Name: "Carol", Age: "52", Attachment: pdfAttachment([]byte("second"))})
		require.NoError(t, err)

		rec, err := s.Get(ctx, "a1b2c3d4e5f6")
		require.NoError(t, err)
		assert.Equal(t, "Carol", rec.Name)

		dir := filepath.Join(s.Root(), "a1b2c3d4e5f6")
		assert.ElementsMatch(t,
			[]string{"details.json", "Alice-30-a1b2c3d4e5f6.pdf", "Carol-52-a1b2c3d4e5f6.pdf"},
			entries(t, dir))
	})
}

func TestCreate_CollisionCheckRegenerates(t *testing.T) {
	s := newTestStore(t,
		WithIDGenerator(fixedIDs("a1b2c3d4e5f6", "a1b2c3d4e5f6", "0123456789ab")),
		WithCollisionCheck(3),
	)
	ctx := context.Background()

	first, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment([]byte("first"))})
	require.NoError(t, err)
	second, err := s.Create(ctx, CreateInput{Name: "Carol", Age: "52", Attachment: pdfAttachment([]byte("second"))})
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3d4e5f6", first.ID)
	assert.Equal(t, "0123456789ab", second.ID)

	rec, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", rec.Name)
}

func TestCreate_CollisionCheckExhausted(t *testing.T) {
	s := newTestStore(t,
		WithIDGenerator(fixedIDs("a1b2c3d4e5f6", "a1b2c3d4e5f6", "a1b2c3d4e5f6")),
		WithCollisionCheck(2),
	)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{Name: "Carol", Age: "52", Attachment: pdfAttachment(samplePDF)})
	require.ErrorIs(t, err, ErrIDExhausted)
}

func TestLookups_UnknownID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)

	for _, id := range []string{"ffffffffffff", "", "..", "../uploads", "A1B2C3D4E5F6", "a1b2c3d4e5f6a"} {
		t.Run(id, func(t *testing.T) {
			_, err := s.Get(ctx, id)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.ResolveDownloadPath(ctx, id)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestGet_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)

	detailsPath := filepath.Join(sub.Dir, MetadataFile)
	before, err := os.Stat(detailsPath)
	require.NoError(t, err)

	first, err := s.Get(ctx, sub.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := os.Stat(detailsPath)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestResolveDownloadPath_MissingPDF(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub, err := s.Create(ctx, CreateInput{Name: "Alice", Age: "30", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(sub.Dir, sub.FileName)))

	_, err = s.ResolveDownloadPath(ctx, sub.ID)
	require.ErrorIs(t, err, ErrNotFound)

	// The metadata is still readable on its own.
	_, err = s.Get(ctx, sub.ID)
	require.NoError(t, err)
}

func TestGet_CorruptRecord(t *testing.T) {
	tests := map[string]string{
		"not json":       "{nope",
		"missing age":    `{"name":"Alice","id":"a1b2c3d4e5f6"}`,
		"numeric age":    `{"name":"Alice","age":30,"id":"a1b2c3d4e5f6"}`,
		"bad id pattern": `{"name":"Alice","age":"30","id":"XYZ"}`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			dir := filepath.Join(s.Root(), "a1b2c3d4e5f6")
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(content), 0o644))

			_, err := s.Get(context.Background(), "a1b2c3d4e5f6")
			require.Error(t, err)
			assert.True(t, IsIO(err))
			assert.ErrorIs(t, err, ErrCorruptRecord)
		})
	}
}

func TestResolveDownloadPath_RecordEscapingDirectory(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Root(), "a1b2c3d4e5f6")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	record := `{"name":"../../x","age":"30","id":"a1b2c3d4e5f6"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(record), 0o644))

	_, err := s.ResolveDownloadPath(context.Background(), "a1b2c3d4e5f6")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestCreate_InvalidUTF8IsNormalized(t *testing.T) {
	s := newTestStore(t, WithIDGenerator(fixedIDs("a1b2c3d4e5f6")))
	ctx := context.Background()

	sub, err := s.Create(ctx, CreateInput{Name: "Al\xffice", Age: "3\xc00", Attachment: pdfAttachment(samplePDF)})
	require.NoError(t, err)
	assert.Equal(t, "Al�ice", sub.Name)
	assert.Equal(t, "3�0", sub.Age)
	assert.Equal(t, "Al�ice-3�0-a1b2c3d4e5f6.pdf", sub.FileName)

	rec, err := s.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Metadata, rec.Metadata)

	p, err := s.ResolveDownloadPath(ctx, sub.ID)
	require.NoError(t, err)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, samplePDF, got)
	assert.ElementsMatch(t, []string{MetadataFile, sub.FileName}, entries(t, sub.Dir))
}
