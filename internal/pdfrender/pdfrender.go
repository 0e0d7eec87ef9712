// Package pdfrender rasterizes PDF pages to JPEG for the object-store
// upload bundle. It shells out to poppler's pdftoppm, the same subprocess
// adapter pattern used for office-to-PDF conversion, since none of the
// retrieved example repos carry a pure-Go PDF rasterizer that doesn't
// require a cgo/MuPDF toolchain.
package pdfrender

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Page is one rasterized page: 1-based page number and its JPEG bytes.
type Page struct {
	PageNumber int
	JPEG       []byte
}

// Render rasterizes every page of pdfPath to RGB JPEG at quality 90, at the
// requested DPI, yielding pages in ascending page-number order. Rendered
// files live under a scratch subdirectory of workDir that Render cleans up
// before returning.
func Render(ctx context.Context, pdfPath string, workDir string, dpi int) ([]Page, error) {
	if dpi <= 0 {
		dpi = 144
	}

	scratch, err := os.MkdirTemp(workDir, "pdfrender-")
	if err != nil {
		return nil, fmt.Errorf("pdfrender: mkdtemp: %w", err)
	}
	defer os.RemoveAll(scratch)

	outPrefix := filepath.Join(scratch, "page")
	binary := pdftoppmBinary()
	cmd := exec.CommandContext(ctx, binary,
		"-jpeg", "-jpegopt", "quality=90", "-r", fmt.Sprintf("%d", dpi), pdfPath, outPrefix)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdfrender: pdftoppm failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	entries, err := os.ReadDir(scratch)
	if err != nil {
		return nil, fmt.Errorf("pdfrender: read scratch dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jpg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	pages := make([]Page, 0, len(names))
	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(scratch, name))
		if err != nil {
			return nil, fmt.Errorf("pdfrender: read rendered page %s: %w", name, err)
		}
		pages = append(pages, Page{PageNumber: i + 1, JPEG: data})
	}
	return pages, nil
}

func pdftoppmBinary() string {
	if v := os.Getenv("MINERU_PDFTOPPM_BINARY"); v != "" {
		return v
	}
	return "pdftoppm"
}
