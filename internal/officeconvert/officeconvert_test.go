package officeconvert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsConvertible(t *testing.T) {
	require.True(t, IsConvertible(".docx"))
	require.True(t, IsConvertible(".DOCX"))
	require.True(t, IsConvertible(".ppt"))
	require.False(t, IsConvertible(".pdf"))
	require.False(t, IsConvertible(".md"))
}

func TestIsMarkdown(t *testing.T) {
	require.True(t, IsMarkdown(".md"))
	require.True(t, IsMarkdown(".MARKDOWN"))
	require.False(t, IsMarkdown(".txt"))
}

func TestSofficeBinary_DefaultsWhenEnvUnset(t *testing.T) {
	t.Setenv("MINERU_SOFFICE_BINARY", "")
	require.Equal(t, "soffice", sofficeBinary())
}

func TestSofficeBinary_UsesEnvOverride(t *testing.T) {
	t.Setenv("MINERU_SOFFICE_BINARY", "/opt/libreoffice/soffice")
	require.Equal(t, "/opt/libreoffice/soffice", sofficeBinary())
}
