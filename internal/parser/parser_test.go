package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tiangong-mineru/orchestrator/internal/parseitem"
)

func TestResolveBackend_UnrecognizedIsError(t *testing.T) {
	_, err := ResolveBackend("not-a-backend")
	require.Error(t, err)
}

func TestResolveBackend_HybridAliasesResolveDeterministically(t *testing.T) {
	b, err := ResolveBackend("hybrid-auto-engine")
	require.NoError(t, err)
	require.Equal(t, BackendVLMVLLMEngine, b)

	b, err = ResolveBackend("hybrid-http-client")
	require.NoError(t, err)
	require.Equal(t, BackendVLMHTTPClient, b)
}

func TestResolveBackend_PassesThroughConcreteBackend(t *testing.T) {
	b, err := ResolveBackend("pipeline")
	require.NoError(t, err)
	require.Equal(t, BackendPipeline, b)
}

func TestNextServerURL_RoundRobins(t *testing.T) {
	globalPool = serverPool{}
	urls := []string{"http://a", "http://b", "http://c"}

	first, err := NextServerURL(urls)
	require.NoError(t, err)
	second, err := NextServerURL(urls)
	require.NoError(t, err)
	third, err := NextServerURL(urls)
	require.NoError(t, err)
	fourth, err := NextServerURL(urls)
	require.NoError(t, err)

	require.Equal(t, []string{"http://a", "http://b", "http://c", "http://a"}, []string{first, second, third, fourth})
}

func TestNextServerURL_EmptyListIsError(t *testing.T) {
	_, err := NextServerURL(nil)
	require.Error(t, err)
}

func TestNextServerURL_ResetsCycleWhenListChanges(t *testing.T) {
	globalPool = serverPool{}
	_, _ = NextServerURL([]string{"http://a", "http://b"})
	url, err := NextServerURL([]string{"http://x", "http://y"})
	require.NoError(t, err)
	require.Equal(t, "http://x", url)
}

func TestAuthHeader_RawHeaderPreferredOverAPIKey(t *testing.T) {
	require.Equal(t, "X-Custom: foo", AuthHeader("key", "X-Custom: foo"))
	require.Equal(t, "Bearer key", AuthHeader("key", ""))
	require.Equal(t, "", AuthHeader("", ""))
}

func TestParse_ResolvesRemoteVLMServerURL(t *testing.T) {
	globalPool = serverPool{}
	orig := Implementation
	defer func() { Implementation = orig }()

	var gotURL string
	Implementation = func(ctx context.Context, req Request) (Result, error) {
		gotURL = req.Options.ResolvedServerURL
		return Result{Items: []parseitem.Item{{Kind: parseitem.KindText, Text: "hi"}}}, nil
	}

	_, err := Parse(context.Background(), Request{
		FilePath: "doc.pdf",
		Backend:  BackendVLMVLLMEngine,
		Options:  Options{ServerURLs: []string{"http://server-1"}},
	})
	require.NoError(t, err)
	require.Equal(t, "http://server-1", gotURL)
}

func TestParse_NilImplementationIsFatal(t *testing.T) {
	orig := Implementation
	defer func() { Implementation = orig }()
	Implementation = nil

	_, err := Parse(context.Background(), Request{FilePath: "doc.pdf", Backend: BackendPipeline})
	require.Error(t, err)
}

func TestParse_EmptyResultIsWrappedParseError(t *testing.T) {
	orig := Implementation
	defer func() { Implementation = orig }()
	Implementation = func(ctx context.Context, req Request) (Result, error) {
		return Result{}, nil
	}

	_, err := Parse(context.Background(), Request{FilePath: "doc.pdf", Backend: BackendPipeline})
	require.Error(t, err)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParse_UnknownBackendIsError(t *testing.T) {
	_, err := Parse(context.Background(), Request{FilePath: "doc.pdf", Backend: "bogus"})
	require.Error(t, err)
}
