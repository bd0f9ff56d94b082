package llm

import (
	"testing"

	xerrors "ChainGuard-Agent/internal/errors"
)

func TestProviderFor(t *testing.T) {
	cases := map[string]Provider{
		"gpt-4o":                   ProviderOpenAI,
		"gpt-4o-mini":              ProviderOpenAI,
		"claude-3-5-sonnet-latest": ProviderAnthropic,
		"claude-3-5-haiku-latest":  ProviderAnthropic,
	}
	for model, want := range cases {
		got, err := ProviderFor(model)
		if err != nil || got != want {
			t.Fatalf("%s: got %s, %v", model, got, err)
		}
	}
	if _, err := ProviderFor("llama-3"); !xerrors.IsCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected CONFIGURATION, got %v", err)
	}
	if len(Models()) != len(cases) {
		t.Fatalf("unexpected model list %v", Models())
	}
}
