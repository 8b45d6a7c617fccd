// Package output names, encodes and persists tiles produced by package split.
package output

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/webp"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
	"github.com/PhantomInTheWire/tilesplit/pkg/split"
)

const domain = "output"

const (
	DefaultDirName   = "output"
	DefaultPrefix    = "splitted"
	DefaultExtension = "png"
	DefaultQuality   = 95
)

// Config controls where tiles go and how they are named and encoded.
type Config struct {
	Dir         string
	Prefix      string
	Extension   string
	JPEGQuality int
}

// DefaultConfig writes PNG tiles into an "output" directory next to the
// running executable.
func DefaultConfig() Config {
	return Config{
		Dir:         DefaultDir(),
		Prefix:      DefaultPrefix,
		Extension:   DefaultExtension,
		JPEGQuality: DefaultQuality,
	}
}

// DefaultDir returns the "output" directory beside the executable, falling
// back to one relative to the working directory.
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(filepath.Dir(exe), DefaultDirName)
}

// Validate normalises the extension and checks that imaging can encode it.
func (c *Config) Validate() error {
	c.Extension = strings.ToLower(strings.TrimPrefix(c.Extension, "."))
	if c.Extension == "" {
		c.Extension = DefaultExtension
	}
	if _, err := imaging.FormatFromExtension(c.Extension); err != nil {
		return apperrors.New(apperrors.CodeValidationFailed, domain,
			fmt.Sprintf("unsupported output extension %q", c.Extension), err)
	}
	if c.Dir == "" {
		return apperrors.Validation(domain, "output directory is empty")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return apperrors.Validation(domain, "jpeg quality must be in 1..100, got %d", c.JPEGQuality)
	}
	return nil
}

// OutputFile records where a tile was written. Skipped is set for zero-area
// tiles, which no supported codec can encode.
type OutputFile struct {
	Path    string
	Row     int
	Col     int
	Bounds  image.Rectangle
	Skipped bool
}

// BaseName returns the file name of path without its extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return base
}

// FileName builds "{prefix}_{source base name}_{row}_{col}.{ext}".
func FileName(cfg Config, sourcePath string, row, col int) string {
	return fmt.Sprintf("%s_%s_%d_%d.%s", cfg.Prefix, BaseName(sourcePath), row, col, cfg.Extension)
}

// EnsureDirectory creates path if it does not exist and returns it as an
// absolute path.
func EnsureDirectory(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", apperrors.New(apperrors.CodeIoError, domain, "resolve output directory", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", apperrors.New(apperrors.CodeIoError, domain, fmt.Sprintf("create %s", abs), err)
	}
	return abs, nil
}

// Load decodes the image at path, applying EXIF orientation.
func Load(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.FileNotFound(domain, path, err)
		}
		return nil, apperrors.New(apperrors.CodeDecodeFailed, domain, fmt.Sprintf("decode %s", path), err)
	}
	return img, nil
}

// WriteTile encodes img to path. The format follows the file extension.
func WriteTile(path string, img image.Image, quality int) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(quality)); err != nil {
		return apperrors.New(apperrors.CodeIoError, domain, fmt.Sprintf("write %s", path), err)
	}
	return nil
}

// Writer persists every tile of one image.
type Writer struct {
	cfg Config
	log zerolog.Logger

	// OnTile, if set, is called after each tile is handled.
	OnTile func(OutputFile)
}

func NewWriter(cfg Config, log zerolog.Logger) *Writer {
	return &Writer{cfg: cfg, log: log}
}

// WriteAll creates the output directory, then splits img and writes each tile
// as soon as it is produced. On error the files written so far are returned
// alongside it and stay on disk.
func (w *Writer) WriteAll(sourcePath string, img image.Image, cols, rows int) ([]OutputFile, error) {
	if _, ok := split.Count(cols, rows); !ok {
		return nil, apperrors.Validation(domain, "invalid split counts cols=%d rows=%d", cols, rows)
	}
	dir, err := EnsureDirectory(w.cfg.Dir)
	if err != nil {
		return nil, err
	}

	var files []OutputFile
	err = split.Each(img, cols, rows, func(t split.Tile) error {
		out := OutputFile{
			Path:   filepath.Join(dir, FileName(w.cfg, sourcePath, t.Row, t.Col)),
			Row:    t.Row,
			Col:    t.Col,
			Bounds: t.Bounds,
		}

		if t.Empty() {
			out.Skipped = true
			w.log.Warn().Str("path", out.Path).Int("row", t.Row).Int("col", t.Col).Msg("tile has zero area, not written")
		} else {
			if err := WriteTile(out.Path, t.Image, w.cfg.JPEGQuality); err != nil {
				return err
			}
			w.log.Debug().Str("path", out.Path).Stringer("bounds", t.Bounds).Msg("tile written")
		}

		files = append(files, out)
		if w.OnTile != nil {
			w.OnTile(out)
		}
		return nil
	})
	return files, err
}

// Written returns the paths of files that were actually encoded.
func Written(files []OutputFile) []string {
	paths := make([]string, 0, len(files))
	for _, f := range files {
		if !f.Skipped {
			paths = append(paths, f.Path)
		}
	}
	return paths
}
