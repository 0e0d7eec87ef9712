package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateExtension_MarkdownAndConvertibleAlwaysAllowed(t *testing.T) {
	require.NoError(t, validateExtension(".md", nil))
	require.NoError(t, validateExtension(".docx", nil))
}

func TestValidateExtension_ChecksSupportedListCaseInsensitively(t *testing.T) {
	require.NoError(t, validateExtension(".PDF", []string{".pdf"}))
	require.Error(t, validateExtension(".exe", []string{".pdf"}))
}

func TestRun_UnsupportedExtensionIsValidationError(t *testing.T) {
	_, err := Run(context.Background(), Deps{SupportedExtensions: []string{".pdf"}}, Request{
		SourcePath:       "doc.exe",
		OriginalFilename: "doc.exe",
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRun_MarkdownFastPathSkipsSchedulerEntirely(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(src, []byte("# Title\n\nSome body text.\n"), 0o644))

	payload, err := Run(context.Background(), Deps{}, Request{
		SourcePath:       src,
		OriginalFilename: "doc.md",
		ReturnTxt:        true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, payload.Result)
	require.NotNil(t, payload.Txt)
}

func TestRun_MarkdownFastPathMissingSourceIsError(t *testing.T) {
	_, err := Run(context.Background(), Deps{}, Request{
		SourcePath:       "/does/not/exist.md",
		OriginalFilename: "doc.md",
	})
	require.Error(t, err)
}

func TestRun_SaveToMinioRequiresPDFInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(src, []byte("plain text"), 0o644))

	_, err := Run(context.Background(), Deps{SupportedExtensions: []string{".txt"}}, Request{
		SourcePath:       src,
		OriginalFilename: "doc.txt",
		SaveToMinio:      true,
	})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
