package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func trueFn() bool  { return true }
func falseFn() bool { return false }

func TestResolveProvider_ExplicitWins(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{{Name: "openai"}, {Name: "gemini"}})
	p, err := r.ResolveProvider("gemini")
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name)
}

func TestResolveProvider_UnknownExplicitIsError(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{{Name: "openai"}})
	_, err := r.ResolveProvider("bogus")
	require.Error(t, err)
}

func TestResolveProvider_EnvDefaultUsedWhenNoExplicit(t *testing.T) {
	r := NewRegistry("gemini", []ProviderSpec{{Name: "openai"}, {Name: "gemini"}})
	p, err := r.ResolveProvider("")
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name)
}

func TestResolveProvider_FirstCredentialedWinsOverAllowlistOrder(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", HasCreds: falseFn},
		{Name: "gemini", HasCreds: trueFn},
	})
	p, err := r.ResolveProvider("")
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name)
}

func TestResolveProvider_FallsBackToFirstWhenNoneCredentialed(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", HasCreds: falseFn},
		{Name: "gemini", HasCreds: falseFn},
	})
	p, err := r.ResolveProvider("")
	require.NoError(t, err)
	require.Equal(t, "openai", p.Name)
}

func TestResolveProvider_NoProvidersIsError(t *testing.T) {
	r := NewRegistry("", nil)
	_, err := r.ResolveProvider("")
	require.Error(t, err)
}

func TestResolveModel_EmptyReturnsDefault(t *testing.T) {
	spec := &ProviderSpec{Name: "openai", DefaultModel: "gpt-4o", Models: []string{"gpt-4o", "gpt-4o-mini"}}
	m, err := spec.ResolveModel("")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", m)
}

func TestResolveModel_ValidatesMembership(t *testing.T) {
	spec := &ProviderSpec{Name: "openai", Models: []string{"gpt-4o"}}
	_, err := spec.ResolveModel("not-a-model")
	require.Error(t, err)

	m, err := spec.ResolveModel("gpt-4o")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", m)
}

func TestProviderFromModel_FindsDeclaringProvider(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", Models: []string{"gpt-4o"}},
		{Name: "gemini", Models: []string{"gemini-pro"}},
	})
	p, err := r.ProviderFromModel("gemini-pro")
	require.NoError(t, err)
	require.Equal(t, "gemini", p.Name)
}

func TestProviderFromModel_UnknownIsError(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{{Name: "openai", Models: []string{"gpt-4o"}}})
	_, err := r.ProviderFromModel("bogus")
	require.Error(t, err)
}

func TestNextBaseURL_RoundRobinsPerProvider(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{{Name: "openai", BaseURLs: []string{"http://a", "http://b"}}})
	first, err := r.NextBaseURL("openai")
	require.NoError(t, err)
	second, err := r.NextBaseURL("openai")
	require.NoError(t, err)
	third, err := r.NextBaseURL("openai")
	require.NoError(t, err)
	require.Equal(t, []string{"http://a", "http://b", "http://a"}, []string{first, second, third})
}

func TestNextBaseURL_NoURLsIsError(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{{Name: "openai"}})
	_, err := r.NextBaseURL("openai")
	require.Error(t, err)
}

func TestSanitizeVisionText_StripsMarkersAndImageDescriptionPrefix(t *testing.T) {
	in := "Image Description: [Page 3] [ChunkType=Body] A chart showing growth."
	require.Equal(t, "A chart showing growth.", SanitizeVisionText(in))
}

func TestSanitizeVisionText_NoMarkersIsUnchanged(t *testing.T) {
	require.Equal(t, "a plain caption", SanitizeVisionText("a plain caption"))
}

func TestComposePrompt_OverrideUsedVerbatimWithContext(t *testing.T) {
	got := ComposePrompt("Describe this chart.", "surrounding text")
	require.Equal(t, "Describe this chart.\n\nContext:\nsurrounding text", got)
}

func TestComposePrompt_CanonicalWhenNoOverride(t *testing.T) {
	got := ComposePrompt("", "")
	require.Equal(t, canonicalPrompt, got)
}

func TestComposePrompt_NoContextOmitsBlock(t *testing.T) {
	got := ComposePrompt("custom", "   ")
	require.Equal(t, "custom", got)
}

func TestAdapter_Complete_UsesExplicitModelToPickProviderWhenProviderOmitted(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", Models: []string{"gpt-4o"}, DefaultModel: "gpt-4o"},
		{Name: "gemini", Models: []string{"gemini-pro"}, DefaultModel: "gemini-pro"},
	})
	var gotProvider, gotModel string
	a := &Adapter{Registry: r, Completer: func(ctx context.Context, provider, model, baseURL, apiKey, imagePath, prompt string) (string, error) {
		gotProvider, gotModel = provider, model
		return "a description", nil
	}}
	out, err := a.Complete(context.Background(), "img.jpg", "", "", "", "gemini-pro")
	require.NoError(t, err)
	require.Equal(t, "a description", out)
	require.Equal(t, "gemini", gotProvider)
	require.Equal(t, "gemini-pro", gotModel)
}

func TestAdapter_Complete_FallsBackToNextCredentialedProviderOnFailure(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", Models: []string{"gpt-4o"}, DefaultModel: "gpt-4o", HasCreds: trueFn},
		{Name: "gemini", Models: []string{"gemini-pro"}, DefaultModel: "gemini-pro", HasCreds: trueFn},
	})
	calls := 0
	a := &Adapter{Registry: r, Completer: func(ctx context.Context, provider, model, baseURL, apiKey, imagePath, prompt string) (string, error) {
		calls++
		if provider == "openai" {
			return "", errors.New("boom")
		}
		return "[Page 1] fallback text", nil
	}}
	out, err := a.Complete(context.Background(), "img.jpg", "", "", "openai", "")
	require.NoError(t, err)
	require.Equal(t, "fallback text", out)
	require.Equal(t, 2, calls)
}

func TestAdapter_Complete_AllProvidersFailIsError(t *testing.T) {
	r := NewRegistry("", []ProviderSpec{
		{Name: "openai", Models: []string{"gpt-4o"}, DefaultModel: "gpt-4o", HasCreds: trueFn},
	})
	a := &Adapter{Registry: r, Completer: func(ctx context.Context, provider, model, baseURL, apiKey, imagePath, prompt string) (string, error) {
		return "", errors.New("boom")
	}}
	_, err := a.Complete(context.Background(), "img.jpg", "", "", "openai", "")
	require.Error(t, err)
}
