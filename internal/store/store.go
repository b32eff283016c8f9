package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Attachment is an uploaded file held fully in memory.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// CreateInput carries the fields of one form submission.
type CreateInput struct {
	Name       string
	Age        string
	Attachment *Attachment
}

// Submission describes a freshly written submission.
type Submission struct {
	Metadata
	FileName  string
	SizeBytes int64
	Dir       string
}

// Store reads and writes submission directories below a root directory.
// It holds no in-memory state; every call goes to disk.
type Store struct {
	root     string
	newID    func() (string, error)
	attempts int
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator replaces NewID. Generated ids must still match ValidID.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// WithCollisionCheck makes Create refuse ids whose directory already exists,
// retrying up to attempts times. The default (0) reuses the directory and
// overwrites whatever is in it.
func WithCollisionCheck(attempts int) Option {
	return func(s *Store) {
		s.attempts = attempts
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a Store rooted at root. The directory itself is created lazily
// by the first Create.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: root directory required")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}

	s := &Store{
		root:   abs,
		newID:  NewID,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("store")

	return s, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Create validates the input, allocates an id and writes details.json followed
// by the PDF.
func (s *Store) Create(ctx context.Context, in CreateInput) (Submission, error) {
	in.Name = normalizeField(in.Name)
	in.Age = normalizeField(in.Age)
	if err := validateInput(in); err != nil {
		return Submission{}, err
	}
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}

	id, dir, err := s.allocate()
	if err != nil {
		return Submission{}, err
	}

	meta := Metadata{Name: in.Name, Age: in.Age, ID: id}
	data, err := encodeMetadata(meta)
	if err != nil {
		return Submission{}, fmt.Errorf("encode metadata: %w", err)
	}

	metaPath := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(metaPath, data, filePerm); err != nil {
		return Submission{}, &IOError{Op: "write", Path: metaPath, Err: err}
	}

	fileName := PDFFileName(meta)
	pdfPath := filepath.Join(dir, fileName)
	if err := os.WriteFile(pdfPath, in.Attachment.Data, filePerm); err != nil {
		return Submission{}, &IOError{Op: "write", Path: pdfPath, Err: err}
	}

	s.logger.Debug("submission stored",
		zap.String("id", id),
		zap.String("file", fileName),
		zap.Int("bytes", len(in.Attachment.Data)),
	)

	return Submission{
		Metadata:  meta,
		FileName:  fileName,
		SizeBytes: int64(len(in.Attachment.Data)),
		Dir:       dir,
	}, nil
}

// Get returns the metadata record of a submission.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	meta, path, err := s.load(id)
	if err != nil {
		return Record{}, err
	}
	return Record{Metadata: meta, Path: path}, nil
}

// ResolveDownloadPath returns the absolute path of a submission's PDF. A
// metadata record whose PDF is gone is reported as ErrNotFound.
func (s *Store) ResolveDownloadPath(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	meta, metaPath, err := s.load(id)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, id)
	pdfPath := filepath.Join(dir, PDFFileName(meta))
	if filepath.Dir(pdfPath) != dir {
		return "", &IOError{Op: "resolve", Path: metaPath, Err: ErrCorruptRecord}
	}

	info, err := os.Stat(pdfPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("metadata without pdf", zap.String("id", id), zap.String("path", pdfPath))
			return "", ErrNotFound
		}
		return "", &IOError{Op: "stat", Path: pdfPath, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", ErrNotFound
	}

	return pdfPath, nil
}

func (s *Store) load(id string) (Metadata, string, error) {
	if !ValidID(id) {
		return Metadata{}, "", ErrNotFound
	}

	path := filepath.Join(s.root, id, MetadataFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Metadata{}, "", ErrNotFound
		}
		return Metadata{}, "", &IOError{Op: "read", Path: path, Err: err}
	}

	meta, err := decodeMetadata(data)
	if err != nil {
		return Metadata{}, "", &IOError{Op: "decode", Path: path, Err: err}
	}
	return meta, path, nil
}

// allocate picks an id and creates its directory.
func (s *Store) allocate() (string, string, error) {
	if s.attempts <= 0 {
		id, err := s.generate()
		if err != nil {
			return "", "", err
		}
		dir := filepath.Join(s.root, id)
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return "", "", &IOError{Op: "mkdir", Path: dir, Err: err}
		}
		return id, dir, nil
	}

	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return "", "", &IOError{Op: "mkdir", Path: s.root, Err: err}
	}
	for i := 0; i < s.attempts; i++ {
		id, err := s.generate()
		if err != nil {
			return "", "", err
		}
		dir := filepath.Join(s.root, id)
		err = os.Mkdir(dir, dirPerm)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", &IOError{Op: "mkdir", Path: dir, Err: err}
		}
		s.logger.Warn("submission id collision", zap.String("id", id), zap.Int("attempt", i+1))
	}
	return "", "", ErrIDExhausted
}

func (s *Store) generate() (string, error) {
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	if !ValidID(id) {
		return "", fmt.Errorf("generate id: malformed id %q", id)
	}
	return id, nil
}
