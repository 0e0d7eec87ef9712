// Package mineru wires parser.Implementation to an out-of-process MinerU
// CLI invocation: the same subprocess-adapter pattern already used for
// officeconvert (LibreOffice) and pdfrender (pdftoppm), since the actual
// document-parsing model runtime is a Python process this service never
// wants to link in-process.
package mineru

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
	"github.com/tiangong-mineru/orchestrator/internal/parser"
)

// Binary is the MinerU CLI entrypoint, overridable for tests and for
// deployments that vendor a wrapper script.
var Binary = firstNonEmpty(os.Getenv("MINERU_CLI_BINARY"), "mineru")

// Run shells out to the MinerU CLI and reads back the content list it
// writes alongside its other output artifacts.
func Run(ctx context.Context, req parser.Request) (parser.Result, error) {
	if req.OutputDir == "" {
		return parser.Result{}, fmt.Errorf("mineru: output dir is required")
	}

	args := []string{
		"-p", req.FilePath,
		"-o", req.OutputDir,
		"-b", string(req.Backend),
	}
	if req.Options.Lang != "" {
		args = append(args, "-l", req.Options.Lang)
	}
	if req.Options.Method != "" {
		args = append(args, "-m", req.Options.Method)
	}
	if req.Options.StartPage > 0 {
		args = append(args, "-s", strconv.Itoa(req.Options.StartPage))
	}
	if req.Options.EndPage > 0 {
		args = append(args, "-e", strconv.Itoa(req.Options.EndPage))
	}
	if req.Options.ResolvedServerURL != "" {
		args = append(args, "-u", req.Options.ResolvedServerURL)
	}
	if req.Options.AuthHeader != "" {
		args = append(args, "--header", req.Options.AuthHeader)
	}

	cmd := exec.CommandContext(ctx, Binary, args...)
	cmd.Env = os.Environ()
	output, err := cmd.CombinedOutput()
	if err != nil {
		return parser.Result{}, fmt.Errorf("mineru: run %s: %w: %s", Binary, err, truncate(output, 2048))
	}

	items, err := loadContentList(req.FilePath, req.OutputDir)
	if err != nil {
		return parser.Result{}, err
	}

	return parser.Result{Items: items, OutputDir: req.OutputDir}, nil
}

// loadContentList reads <stem>_content_list.json from outDir, MinerU's
// conventional per-document output name.
func loadContentList(sourcePath, outDir string) ([]parseitem.Item, error) {
	stem := trimExt(filepath.Base(sourcePath))
	candidate := filepath.Join(outDir, stem+"_content_list.json")
	data, err := os.ReadFile(candidate)
	if err != nil {
		return nil, fmt.Errorf("mineru: read content list %s: %w", candidate, err)
	}
	var items []parseitem.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("mineru: decode content list %s: %w", candidate, err)
	}
	return items, nil
}

func trimExt(name string) string {
	ext := filepath.Ext(name)
	return name[:len(name)-len(ext)]
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
