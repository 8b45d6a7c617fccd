// Package validate turns raw command line arguments into a SplitRequest.
package validate

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
	"github.com/PhantomInTheWire/tilesplit/pkg/split"
)

const domain = "validate"

// ArgCount is the number of positional arguments: image path, cols, rows.
const ArgCount = 3

// SplitRequest is a validated request to split one image.
type SplitRequest struct {
	SourcePath string
	Cols       int
	Rows       int
}

// Tiles returns the number of tiles the request produces. Only meaningful
// for a request that passed Request.
func (r SplitRequest) Tiles() int {
	return (r.Cols + 1) * (r.Rows + 1)
}

// Args validates positional arguments in a fixed order: argument count, source
// path existence, integer parsing, then non-negativity. No image data is read.
func Args(args []string) (SplitRequest, error) {
	if len(args) != ArgCount {
		return SplitRequest{}, apperrors.Validation(domain,
			"invalid command line arguments: expected <image_path> <cols> <rows>, got %d argument(s)", len(args))
	}

	path, err := SourcePath(args[0])
	if err != nil {
		return SplitRequest{}, err
	}

	cols, err := count("cols", args[1])
	if err != nil {
		return SplitRequest{}, err
	}
	rows, err := count("rows", args[2])
	if err != nil {
		return SplitRequest{}, err
	}

	req := SplitRequest{SourcePath: path, Cols: cols, Rows: rows}
	if err := Request(req); err != nil {
		return SplitRequest{}, err
	}
	return req, nil
}

// Request checks an already parsed request.
func Request(req SplitRequest) error {
	if _, err := os.Stat(req.SourcePath); err != nil {
		return apperrors.FileNotFound(domain, req.SourcePath, err)
	}
	if req.Cols < 0 || req.Rows < 0 {
		return apperrors.Validation(domain, "split counts must be non-negative, got cols=%d rows=%d", req.Cols, req.Rows)
	}
	if _, ok := split.Count(req.Cols, req.Rows); !ok {
		return apperrors.Validation(domain, "split counts too large, got cols=%d rows=%d", req.Cols, req.Rows)
	}
	return nil
}

// SourcePath normalises path separators, resolves path against the working
// directory and checks that it exists.
func SourcePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", apperrors.Validation(domain, "image path is empty")
	}

	abs, err := filepath.Abs(filepath.Clean(filepath.FromSlash(path)))
	if err != nil {
		return "", apperrors.New(apperrors.CodeValidationFailed, domain, "resolve image path", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", apperrors.FileNotFound(domain, abs, err)
	}
	return abs, nil
}

func count(name, value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, apperrors.Validation(domain, "%s must be an integer, got %q", name, value)
	}
	return n, nil
}
