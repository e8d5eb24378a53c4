// Package pdf provides the PDF-side collaborators for OCR: page counting and
// extraction of per-page images from scanned documents. Full rasterization of
// vector PDFs is out of scope; scanned documents carry their pages as
// embedded images, which pdfcpu can pull out directly.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageCount returns the number of pages in a PDF file.
func PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to count pages of %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// PageExtractor pulls embedded page images out of scanned PDFs.
type PageExtractor struct{}

// PageImages extracts the images of every page into a temp directory and
// returns their paths in page order, plus a cleanup func the caller must run.
func (PageExtractor) PageImages(pdfPath string) ([]string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "ocr_pages_")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(tmpDir) }

	if err := api.ExtractImagesFile(pdfPath, tmpDir, nil, nil); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to extract page images from %s: %w", filepath.Base(pdfPath), err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to list extracted images: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(tmpDir, e.Name()))
	}
	sortByPage(paths)

	if len(paths) == 0 {
		cleanup()
		return nil, nil, fmt.Errorf("no page images found in %s (not a scanned PDF?)", filepath.Base(pdfPath))
	}

	return paths, cleanup, nil
}

var pageNumberRe = regexp.MustCompile(`_page_(\d+)`)

// sortByPage orders extracted image paths by the page number embedded in
// pdfcpu's <base>_page_<nr>_... names. The numbers are not zero-padded, so a
// lexical sort would put page 10 before page 2. Paths without a recognizable
// page number sort first, by name.
func sortByPage(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		pi, pj := pageNumber(paths[i]), pageNumber(paths[j])
		if pi != pj {
			return pi < pj
		}
		return paths[i] < paths[j]
	})
}

func pageNumber(path string) int {
	m := pageNumberRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}
