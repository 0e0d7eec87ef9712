package objectstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizePrefixComponent_ReplacesPunctuationAndCollapsesRuns(t *testing.T) {
	require.Equal(t, "my_report_final", SanitizePrefixComponent("my report!! final"))
}

func TestSanitizePrefixComponent_KeepsLettersDigitsAndDash(t *testing.T) {
	require.Equal(t, "report-v2_1", SanitizePrefixComponent("report-v2.1"))
}

func TestSanitizePrefixComponent_KeepsSlashAndCollapsesRuns(t *testing.T) {
	require.Equal(t, "team/sub-folder", SanitizePrefixComponent("team//sub-folder"))
}

func TestSanitizePrefixComponent_KeepsCJKPunctuationAllowlist(t *testing.T) {
	require.Equal(t, "报告。附件", SanitizePrefixComponent("报告。附件"))
}

func TestSanitizePrefixComponent_TrimsLeadingTrailingSlashAndUnderscore(t *testing.T) {
	require.Equal(t, "name", SanitizePrefixComponent("/_name_/"))
}

func TestBuildPrefix_CustomPrefixIsSanitizedAndBasenameIsAppended(t *testing.T) {
	got := BuildPrefix("report.pdf", "custom folder!")
	require.Equal(t, "custom_folder/report", got)
}

func TestBuildPrefix_CustomPrefixKeepsMultipleSegments(t *testing.T) {
	got := BuildPrefix("report.pdf", "team/project")
	require.Equal(t, "team/project/report", got)
}

func TestBuildPrefix_DefaultsToMineruSlashSanitizedBasename(t *testing.T) {
	got := BuildPrefix("My Report v2.pdf", "")
	require.Equal(t, "mineru/My_Report_v2", got)
}

func TestBuildPrefix_NoExtension(t *testing.T) {
	got := BuildPrefix("README", "")
	require.Equal(t, "mineru/README", got)
}
