package commands

import (
	"bytes"
	"strings"
	"testing"

	"ChainGuard-Agent/internal/config"

	"github.com/zalando/go-keyring"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := NewRootCmd("test")
	for _, name := range []string{"serve", "exec", "secret"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %s not registered: %v", name, err)
		}
	}
}

func TestSecretSetReadsStdin(t *testing.T) {
	keyring.MockInit()
	root := NewRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetIn(strings.NewReader("sk-from-stdin\n"))
	root.SetArgs([]string{"secret", "set", "openai_api_key"})

	if err := root.Execute(); err != nil {
		t.Fatalf("secret set: %v", err)
	}
	got, err := keyring.Get(config.KeyringService, "openai_api_key")
	if err != nil || got != "sk-from-stdin" {
		t.Fatalf("unexpected keyring value %q (%v)", got, err)
	}
	if !strings.Contains(out.String(), "openai_api_key") {
		t.Fatalf("unexpected output: %q", out.String())
	}
}

func TestSecretSetRejectsUnknownName(t *testing.T) {
	keyring.MockInit()
	root := NewRootCmd("test")
	root.SetArgs([]string{"secret", "set", "password", "hunter2"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected unknown secret name to fail")
	}
}

func TestExecRequiresInstruction(t *testing.T) {
	root := NewRootCmd("test")
	root.SetArgs([]string{"exec"})
	root.SetErr(&bytes.Buffer{})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected exec without arguments to fail")
	}
}
