package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yndnr/snapfn-go/pkg/crypto/adaptive"
)

// Magic bytes identify image files.
var magicBytes = []byte("SNAPFNIM")

const (
	filePrefix    = "image-"
	fileExtension = ".img"
	checksumSize  = 32
	headerVersion = 1

	// DefaultKeep is the number of images Prune retains by default.
	DefaultKeep = 3
)

type imageHeader struct {
	Version      int                `json:"version"`
	CreatedAt    int64              `json:"created_at"`
	BuildVersion string             `json:"build_version"`
	Fingerprint  string             `json:"fingerprint"`
	Encrypted    bool               `json:"encrypted"`
	Cipher       adaptive.Algorithm `json:"cipher,omitempty"`
}

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNotFound         = errors.New("snapshot: not found")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
	ErrKeyRequired      = errors.New("snapshot: image is encrypted and no key is configured")
)

// Config configures the image manager.
type Config struct {
	Dir string

	// Keep is the retention count applied by Prune(0).
	Keep int

	// Key enables encryption of image payloads. It must be
	// adaptive.KeySize (32) bytes; ParseKey derives one.
	Key []byte

	// Now is the clock used for image IDs. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration that keeps DefaultKeep images in dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:  dir,
		Keep: DefaultKeep,
	}
}

// Manager persists snapshot images as checksummed files in one directory.
type Manager struct {
	cfg Config
}

// NewManager creates the image directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Key) > 0 {
		// Fail fast on a key the cipher would reject.
		if _, err := adaptive.New(cfg.Key); err != nil {
			return nil, fmt.Errorf("snapshot: invalid key: %w", err)
		}
	}
	return &Manager{cfg: cfg}, nil
}

// Dir returns the image directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Meta is the image metadata stored in the clear next to the payload.
type Meta struct {
	BuildVersion string
	Fingerprint  string
}

// Info describes an image file.
type Info struct {
	ID           string    `json:"id" yaml:"id"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	BuildVersion string    `json:"build_version" yaml:"build_version"`
	Fingerprint  string    `json:"fingerprint" yaml:"fingerprint"`
	Encrypted    bool      `json:"encrypted" yaml:"encrypted"`
	Size         int64     `json:"size" yaml:"size"`
	Path         string    `json:"path" yaml:"path"`
	Checksum     string    `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

// Save writes payload as a new image and returns its metadata. The file is
// written under a temporary name and renamed once synced.
func (m *Manager) Save(meta Meta, payload []byte) (*Info, error) {
	now := m.cfg.Now()
	id := m.generateID(now)

	hdr := imageHeader{
		Version:      headerVersion,
		CreatedAt:    now.UnixMilli(),
		BuildVersion: meta.BuildVersion,
		Fingerprint:  meta.Fingerprint,
	}

	data := payload
	if len(m.cfg.Key) > 0 {
		c, err := adaptive.New(m.cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("snapshot: cipher: %w", err)
		}
		data, err = c.Seal(payload, []byte(id))
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
		hdr.Encrypted = true
		hdr.Cipher = c.Algorithm()
	}

	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	tempPath := filepath.Join(m.cfg.Dir, id+".tmp")
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	hash := sha256.New()
	writer := io.MultiWriter(file, hash)

	if err := writeFrame(writer, hdrJSON, data); err != nil {
		file.Close()
		return nil, err
	}

	// Checksum trailer is not part of the hash.
	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}

	finalPath := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}

	return &Info{
		ID:           id,
		CreatedAt:    time.UnixMilli(hdr.CreatedAt).UTC(),
		BuildVersion: hdr.BuildVersion,
		Fingerprint:  hdr.Fingerprint,
		Encrypted:    hdr.Encrypted,
		Size:         stat.Size(),
		Path:         finalPath,
		Checksum:     hex.EncodeToString(sum),
	}, nil
}

func writeFrame(w io.Writer, hdrJSON, data []byte) error {
	if _, err := w.Write(magicBytes); err != nil {
		return fmt.Errorf("snapshot: write magic: %w", err)
	}

	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	if _, err := w.Write(hdrLen[:]); err != nil {
		return fmt.Errorf("snapshot: write header length: %w", err)
	}
	if _, err := w.Write(hdrJSON); err != nil {
		return fmt.Errorf("snapshot: write header: %w", err)
	}

	var dataLen [4]byte
	binary.BigEndian.PutUint32(dataLen[:], uint32(len(data)))
	if _, err := w.Write(dataLen[:]); err != nil {
		return fmt.Errorf("snapshot: write data length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("snapshot: write data: %w", err)
	}
	return nil
}

// Latest loads the newest valid image. A corrupted image is skipped in favor
// of the next older one.
func (m *Manager) Latest() ([]byte, *Info, error) {
	images, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	if len(images) == 0 {
		return nil, nil, ErrNoSnapshots
	}

	for i := len(images) - 1; i >= 0; i-- {
		payload, info, err := m.loadFile(images[i].Path, true)
		if err == nil {
			return payload, info, nil
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) {
			continue
		}
		return nil, nil, err
	}

	return nil, nil, ErrNoSnapshots
}

// Load loads the image with the given ID.
func (m *Manager) Load(id string) ([]byte, *Info, error) {
	path, err := m.pathOf(id)
	if err != nil {
		return nil, nil, err
	}
	return m.loadFile(path, true)
}

// Inspect reads and verifies an image's metadata without decrypting it.
func (m *Manager) Inspect(id string) (*Info, error) {
	path, err := m.pathOf(id)
	if err != nil {
		return nil, err
	}
	_, info, err := m.loadFile(path, false)
	return info, err
}

// Remove deletes the image with the given ID.
func (m *Manager) Remove(id string) error {
	path, err := m.pathOf(id)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (m *Manager) pathOf(id string) (string, error) {
	id = strings.TrimSuffix(id, fileExtension)
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("snapshot: invalid image id %q", id)
	}
	path := filepath.Join(m.cfg.Dir, id+fileExtension)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return "", err
	}
	return path, nil
}

func (m *Manager) loadFile(path string, decode bool) ([]byte, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return nil, nil, ErrChecksumMismatch
	}

	// Verify checksum.
	dataLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, dataLen, checksumSize), expected); err != nil {
		return nil, nil, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, dataLen))

	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, nil, ErrInvalidMagic
	}

	hdrJSON, err := readChunk(br)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: read header: %w", err)
	}
	if len(hdrJSON) == 0 {
		return nil, nil, fmt.Errorf("snapshot: empty header")
	}
	var hdr imageHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, nil, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}
	if hdr.Version != headerVersion {
		return nil, nil, fmt.Errorf("snapshot: unsupported header version %d", hdr.Version)
	}

	id := strings.TrimSuffix(filepath.Base(path), fileExtension)
	info := &Info{
		ID:           id,
		CreatedAt:    time.UnixMilli(hdr.CreatedAt).UTC(),
		BuildVersion: hdr.BuildVersion,
		Fingerprint:  hdr.Fingerprint,
		Encrypted:    hdr.Encrypted,
		Size:         stat.Size(),
		Path:         path,
		Checksum:     hex.EncodeToString(expected),
	}
	if !decode {
		return nil, info, nil
	}

	data, err := readChunk(br)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: read data: %w", err)
	}

	if hdr.Encrypted {
		if len(m.cfg.Key) == 0 {
			return nil, nil, ErrKeyRequired
		}
		c, err := adaptive.NewFor(m.cfg.Key, hdr.Cipher)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot: cipher: %w", err)
		}
		data, err = c.Open(data, []byte(id))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	} else if len(m.cfg.Key) > 0 {
		return nil, nil, fmt.Errorf("snapshot: expected encrypted image")
	}

	return data, info, nil
}

func readChunk(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// List lists image files oldest first, with verified metadata where the
// header is readable.
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			paths = append(paths, filepath.Join(m.cfg.Dir, name))
		}
	}
	sort.Strings(paths)

	var infos []*Info
	for _, p := range paths {
		if _, info, err := m.loadFile(p, false); err == nil {
			infos = append(infos, info)
			continue
		}
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		infos = append(infos, &Info{
			ID:   strings.TrimSuffix(filepath.Base(p), fileExtension),
			Path: p,
			Size: stat.Size(),
		})
	}
	return infos, nil
}

// Prune deletes all but the newest keep images and returns the number
// removed. keep <= 0 uses the configured retention. The newest image is
// always kept.
func (m *Manager) Prune(keep int) (int, error) {
	if keep <= 0 {
		keep = m.cfg.Keep
	}
	infos, err := m.List()
	if err != nil {
		return 0, err
	}
	if len(infos) <= keep {
		return 0, nil
	}

	removed := 0
	for _, info := range infos[:len(infos)-keep] {
		if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("snapshot: remove %s: %w", info.ID, err)
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) generateID(t time.Time) string {
	ts := t.UTC().Format("20060102150405")
	seq := 1

	entries, _ := os.ReadDir(m.cfg.Dir)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePrefix+ts+"-") || !strings.HasSuffix(name, fileExtension) {
			continue
		}
		seq++
	}

	return fmt.Sprintf("%s%s-%04d", filePrefix, ts, seq)
}
