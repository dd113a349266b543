// Package store persists received files and the results computed from them.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/bamsammich/tally/internal/platform"
)

// timestampLayout is the second-granularity suffix appended to stored names.
const timestampLayout = "20060102_150405"

// compressedExt marks stored files written through zstd.
const compressedExt = ".zst"

// maxNameBytes is the longest single file name most filesystems accept.
const maxNameBytes = 255

// maxExtBytes is the longest extension kept apart from the stem when a name
// has to be shortened. Longer "extensions" are cut like the rest of the name.
const maxExtBytes = 16

// Bytes every derived name adds around the client's stem.
const (
	tempNameReserve     = len(".") + len(".") + 8 + len(".tally-tmp")
	storedNameReserve   = len("_") + len(timestampLayout) + len("-999") + len(compressedExt)
	artifactNameReserve = len("_") + len(timestampLayout) + len("-999") + len("_result.json")
)

// maxCollisionSuffix bounds the -N disambiguator tried when two uploads of
// the same name land in the same second.
const maxCollisionSuffix = 1000

// FileStore stores received files under a single directory.
type FileStore struct {
	dir      string
	compress bool
	now      func() time.Time
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithCompression stores files zstd-compressed with a .zst suffix.
func WithCompression(on bool) FileStoreOption {
	return func(s *FileStore) { s.compress = on }
}

// WithClock overrides the clock used for stored-name timestamps.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	s := &FileStore{dir: dir, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string { return s.dir }

// StoredFile describes a committed upload.
type StoredFile struct {
	Name   string // base name inside the store directory
	Path   string
	Size   int64  // payload bytes, before compression
	Digest string // hex BLAKE3 of the payload

	// Compressed is set when the store wrote the file through zstd. It is
	// never inferred from the name, which the client chose.
	Compressed bool
}

// Upload is an in-progress file. Bytes go to a hidden temp file and only
// become visible under their final name on Commit.
type Upload struct {
	store   *FileStore
	name    string
	tmpPath string
	f       *os.File
	enc     *zstd.Encoder
	hasher  *blake3.Hasher
	written int64
	closed  bool
}

// Create opens an upload for a file the client called name, which is
// expected to be size bytes long.
func (s *FileStore) Create(name string, size int64) (*Upload, error) {
	base := SafeName(name)
	tmpBase, _ := fitName(base, "", tempNameReserve)
	tmpPath := filepath.Join(s.dir, fmt.Sprintf(".%s.%s.tally-tmp", tmpBase, uuid.New().String()[:8]))

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp %s: %w", tmpPath, err)
	}

	u := &Upload{
		store:   s,
		name:    base,
		tmpPath: tmpPath,
		f:       f,
		hasher:  blake3.New(),
	}

	if s.compress {
		enc, err := zstd.NewWriter(f,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		u.enc = enc
	} else {
		platform.Preallocate(f, size)
	}

	return u, nil
}

func (u *Upload) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if u.enc != nil {
		n, err = u.enc.Write(p)
	} else {
		n, err = u.f.Write(p)
	}
	u.hasher.Write(p[:n]) //nolint:errcheck // hash.Hash writes never fail
	u.written += int64(n)
	return n, err
}

// Written returns the number of payload bytes accepted so far.
func (u *Upload) Written() int64 { return u.written }

// Commit finalizes the upload under a unique name and returns its description.
func (u *Upload) Commit() (StoredFile, error) {
	if err := u.close(); err != nil {
		u.Abort()
		return StoredFile{}, err
	}

	stem, ext := splitExt(u.name)
	stem, ext = fitName(stem, ext, storedNameReserve)
	stamp := u.store.now().Format(timestampLayout)
	if u.enc != nil {
		ext += compressedExt
	}

	for i := range maxCollisionSuffix {
		candidate := stem + "_" + stamp + ext
		if i > 0 {
			candidate = stem + "_" + stamp + "-" + strconv.Itoa(i) + ext
		}
		finalPath := filepath.Join(u.store.dir, candidate)

		// Link fails with EEXIST instead of replacing an existing file.
		err := os.Link(u.tmpPath, finalPath)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			u.Abort()
			return StoredFile{}, fmt.Errorf("commit %s: %w", candidate, err)
		}
		os.Remove(u.tmpPath) //nolint:errcheck // temp name is hidden; leftover is harmless

		return StoredFile{
			Name:   candidate,
			Path:   finalPath,
			Size:       u.written,
			Digest:     hex.EncodeToString(u.hasher.Sum(nil)),
			Compressed: u.enc != nil,
		}, nil
	}

	u.Abort()
	return StoredFile{}, fmt.Errorf("commit %s: no free name after %d attempts", u.name, maxCollisionSuffix)
}

// Abort discards the upload. Safe to call after Commit or more than once.
func (u *Upload) Abort() {
	u.close() //nolint:errcheck // discarding anyway
	os.Remove(u.tmpPath) //nolint:errcheck // best-effort cleanup
}

func (u *Upload) close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if u.enc != nil {
		if err := u.enc.Close(); err != nil {
			u.f.Close()
			return fmt.Errorf("flush zstd: %w", err)
		}
	}
	if err := u.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", u.tmpPath, err)
	}
	return nil
}

// Open returns the content of a stored file as it was received.
func (s *FileStore) Open(sf StoredFile) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, sf.Name))
	if err != nil {
		return nil, err
	}
	if !sf.Compressed {
		return f, nil
	}
	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &decodedFile{Decoder: dec, f: f}, nil
}

type decodedFile struct {
	*zstd.Decoder
	f *os.File
}

func (d *decodedFile) Close() error {
	d.Decoder.Close()
	return d.f.Close()
}

// SafeName reduces a client-supplied name to a single path element so it
// cannot escape the store directory.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." || base == "" {
		return "unnamed"
	}
	return base
}

// splitExt splits "report.tar.txt" into "report.tar" and ".txt". Dotfiles
// such as ".bashrc" keep their name as the stem.
func splitExt(name string) (stem, ext string) {
	ext = filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// fitName shortens stem so that stem+ext plus reserve bytes of decoration
// stays within maxNameBytes. Cuts fall on rune boundaries.
func fitName(stem, ext string, reserve int) (string, string) {
	budget := maxNameBytes - reserve
	if len(stem)+len(ext) <= budget {
		return stem, ext
	}
	if len(ext) > maxExtBytes {
		stem, ext = stem+ext, ""
	}
	return truncateUTF8(stem, budget-len(ext)), ext
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
