package httpapi

import (
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiangong-mineru/orchestrator/internal/config"
	"github.com/tiangong-mineru/orchestrator/internal/objectstore"
	"github.com/tiangong-mineru/orchestrator/internal/runner"
)

func TestIntOrDefault_BlankUsesFallback(t *testing.T) {
	require.Equal(t, 150, intOrDefault("", 150))
}

func TestIntOrDefault_InvalidUsesFallback(t *testing.T) {
	require.Equal(t, 150, intOrDefault("not-a-number", 150))
}

func TestIntOrDefault_ParsesValid(t *testing.T) {
	require.Equal(t, 300, intOrDefault("300", 150))
}

func TestFirstNonEmpty_ReturnsFirstSet(t *testing.T) {
	require.Equal(t, "en", firstNonEmpty("", "en", "fr"))
	require.Equal(t, "", firstNonEmpty("", ""))
}

func TestValidateObjectStore_RequiresAllCredentialFields(t *testing.T) {
	require.Error(t, validateObjectStore(submitForm{}))
	require.Error(t, validateObjectStore(submitForm{Address: "a", AccessKey: "k", SecretKey: "s"}))
	require.NoError(t, validateObjectStore(submitForm{Address: "a", AccessKey: "k", SecretKey: "s", Bucket: "b"}))
}

func TestValidateSubmit_UnsupportedExtensionIsError(t *testing.T) {
	cfg := &config.Config{}
	cfg.Parser.SupportedExtensions = []string{".pdf"}
	err := validateSubmit(runner.Request{OriginalFilename: "doc.exe"}, cfg)
	require.Error(t, err)
}

func TestValidateSubmit_MarkdownAndConvertibleAlwaysAllowed(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, validateSubmit(runner.Request{OriginalFilename: "doc.md"}, cfg))
	require.NoError(t, validateSubmit(runner.Request{OriginalFilename: "doc.docx"}, cfg))
}

func TestValidateSubmit_SaveToMinioRequiresCreds(t *testing.T) {
	cfg := &config.Config{}
	req := runner.Request{OriginalFilename: "doc.md", SaveToMinio: true}
	require.Error(t, validateSubmit(req, cfg))

	req.ObjectStoreCreds = objectstore.Credentials{Address: "a", AccessKey: "k", SecretKey: "s"}
	req.Bucket = "b"
	require.NoError(t, validateSubmit(req, cfg))
}

func buildMultipartFileHeader(t *testing.T, filename, content string) *multipart.FileHeader {
	t.Helper()
	body := &strings.Builder{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body.String()))
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(32<<20))
	return req.MultipartForm.File["file"][0]
}

func TestSaveUpload_CopiesIntoUUIDTaskDir(t *testing.T) {
	root := t.TempDir()
	fh := buildMultipartFileHeader(t, "report.pdf", "pdf bytes")

	path, err := saveUpload(root, fh)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", filepath.Base(path))
	require.True(t, strings.HasPrefix(path, root))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "pdf bytes", string(data))
}
