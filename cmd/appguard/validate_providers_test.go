package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validProvidersJSON = `{
  "providers": [
    {
      "tenant_id": "t1",
      "provider": "okta",
      "okta": {"domain": "example.okta.com", "api_token": "tok"}
    }
  ]
}`

func TestValidateProvidersRunsWithoutPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.json")
	if err := os.WriteFile(path, []byte(validProvidersJSON), 0o600); err != nil {
		t.Fatalf("write providers file: %v", err)
	}
	t.Setenv("SECRETS_PASSPHRASE", "")

	var out bytes.Buffer
	validateProvidersCmd.SetOut(&out)
	defer validateProvidersCmd.SetOut(nil)

	if err := validateProvidersCmd.RunE(validateProvidersCmd, []string{path}); err != nil {
		t.Fatalf("validate-providers error = %v", err)
	}
	if !strings.Contains(out.String(), "1 provider entries OK") {
		t.Errorf("output = %q, want entry count", out.String())
	}
}

func TestValidateProvidersHonorsProvidersFileEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "from-env.json")
	if err := os.WriteFile(path, []byte(validProvidersJSON), 0o600); err != nil {
		t.Fatalf("write providers file: %v", err)
	}
	t.Setenv("SECRETS_PASSPHRASE", "")
	t.Setenv("PROVIDERS_FILE", path)

	var out bytes.Buffer
	validateProvidersCmd.SetOut(&out)
	defer validateProvidersCmd.SetOut(nil)

	if err := validateProvidersCmd.RunE(validateProvidersCmd, nil); err != nil {
		t.Fatalf("validate-providers error = %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("output = %q, want the env-configured path", out.String())
	}
}
