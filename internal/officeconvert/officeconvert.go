// Package officeconvert shells out to a headless LibreOffice install to turn
// office documents into PDF before they reach the parser adapter.
package officeconvert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tiangong-mineru/orchestrator/pkg/logger"
)

// ConvertibleExtensions lists the office formats accepted by the office-to-PDF step.
var ConvertibleExtensions = map[string]bool{
	".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".odt": true, ".odp": true, ".xls": true, ".xlsx": true, ".rtf": true,
}

// MarkdownExtensions lists the extensions that short-circuit through the
// Markdown Chunker instead of the parser/office path.
var MarkdownExtensions = map[string]bool{".md": true, ".markdown": true}

// IsConvertible reports whether ext (including the leading dot, lowercase
// or not) is an office format this package knows how to convert.
func IsConvertible(ext string) bool {
	return ConvertibleExtensions[strings.ToLower(ext)]
}

// IsMarkdown reports whether ext is a markdown extension.
func IsMarkdown(ext string) bool {
	return MarkdownExtensions[strings.ToLower(ext)]
}

const defaultTimeout = 120 * time.Second

// Convert runs `soffice --headless --convert-to pdf` against srcPath,
// writing the result into outDir. It returns the produced PDF path;
// extraCleanup is always nil, since no other files LibreOffice may leave
// behind (e.g. lock files) are collected.
func Convert(ctx context.Context, srcPath, outDir string) (pdfPath string, extraCleanup []string, err error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("officeconvert: create output dir %s: %w", outDir, err)
	}

	binary := sofficeBinary()
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "--headless", "--convert-to", "pdf", "--outdir", outDir, srcPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", nil, fmt.Errorf("officeconvert: soffice convert %s failed: %w: %s", srcPath, err, strings.TrimSpace(string(out)))
	}

	base := strings.TrimSuffix(filepath.Base(srcPath), filepath.Ext(srcPath))
	pdfPath = filepath.Join(outDir, base+".pdf")
	if _, statErr := os.Stat(pdfPath); statErr != nil {
		return "", nil, fmt.Errorf("officeconvert: expected output %s not produced: %w", pdfPath, statErr)
	}

	logger.Debugf("officeconvert: %s -> %s", srcPath, pdfPath)
	return pdfPath, nil, nil
}

func sofficeBinary() string {
	if v := os.Getenv("MINERU_SOFFICE_BINARY"); v != "" {
		return v
	}
	return "soffice"
}
