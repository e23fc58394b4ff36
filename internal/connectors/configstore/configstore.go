// Package configstore parses and validates provider seed files. The CLI
// uses them to provision tenant integrations into the store; credentials
// are sealed before persistence and never written back out.
package configstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/appguard/appguard/internal/connectors"
)

// Provider kinds accepted in a seed file.
const (
	KindOkta            = "okta"
	KindAzureAD         = "azure_ad"
	KindGoogleWorkspace = "google_workspace"
)

type OktaConfig struct {
	Domain   string `json:"domain"`
	APIToken string `json:"api_token"`
}

func (c OktaConfig) Validate() error {
	if strings.TrimSpace(c.Domain) == "" {
		return errors.New("okta: domain is required")
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return errors.New("okta: api_token is required")
	}
	return nil
}

func (c OktaConfig) Credentials() connectors.Credentials {
	return connectors.Credentials{
		TenantDomain: strings.TrimSpace(c.Domain),
		ClientSecret: strings.TrimSpace(c.APIToken),
	}.Normalized()
}

type AzureADConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (c AzureADConfig) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return errors.New("azure_ad: tenant_id is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("azure_ad: client_id is required")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		return errors.New("azure_ad: client_secret is required")
	}
	return nil
}

func (c AzureADConfig) Credentials() connectors.Credentials {
	return connectors.Credentials{
		TenantDomain: strings.TrimSpace(c.TenantID),
		ClientID:     strings.TrimSpace(c.ClientID),
		ClientSecret: strings.TrimSpace(c.ClientSecret),
	}.Normalized()
}

// GoogleWorkspaceConfig carries a service-account key with domain-wide
// delegation. AdminEmail is the delegated admin the key impersonates.
type GoogleWorkspaceConfig struct {
	CustomerID        string          `json:"customer_id,omitempty"`
	AdminEmail        string          `json:"admin_email"`
	ServiceAccountKey json.RawMessage `json:"service_account_key"`
}

func (c GoogleWorkspaceConfig) Validate() error {
	if strings.TrimSpace(c.AdminEmail) == "" {
		return errors.New("google_workspace: admin_email is required")
	}
	if len(c.ServiceAccountKey) == 0 {
		return errors.New("google_workspace: service_account_key is required")
	}
	var key struct {
		ClientEmail string `json:"client_email"`
		PrivateKey  string `json:"private_key"`
	}
	if err := json.Unmarshal(c.ServiceAccountKey, &key); err != nil {
		return fmt.Errorf("google_workspace: service_account_key is not valid JSON: %w", err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return errors.New("google_workspace: service_account_key must contain client_email and private_key")
	}
	return nil
}

func (c GoogleWorkspaceConfig) Credentials() connectors.Credentials {
	return connectors.Credentials{
		TenantDomain: strings.TrimSpace(c.CustomerID),
		ClientID:     strings.TrimSpace(c.AdminEmail),
		ClientSecret: string(c.ServiceAccountKey),
	}.Normalized()
}

// Entry is one tenant/provider integration in a seed file. Exactly one
// provider config block must be set, and it must match Provider.
type Entry struct {
	TenantID string `json:"tenant_id"`
	Provider string `json:"provider"`
	Enabled  *bool  `json:"enabled,omitempty"`

	Okta            *OktaConfig            `json:"okta,omitempty"`
	AzureAD         *AzureADConfig         `json:"azure_ad,omitempty"`
	GoogleWorkspace *GoogleWorkspaceConfig `json:"google_workspace,omitempty"`
}

// IsEnabled defaults to true when the flag is omitted.
func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.TenantID) == "" {
		return errors.New("tenant_id is required")
	}
	kind := strings.ToLower(strings.TrimSpace(e.Provider))

	blocks := 0
	for _, set := range []bool{e.Okta != nil, e.AzureAD != nil, e.GoogleWorkspace != nil} {
		if set {
			blocks++
		}
	}
	if blocks != 1 {
		return fmt.Errorf("entry %s/%s: exactly one provider config block is required", e.TenantID, e.Provider)
	}

	switch kind {
	case KindOkta:
		if e.Okta == nil {
			return fmt.Errorf("entry %s: provider is okta but the okta block is missing", e.TenantID)
		}
		return e.Okta.Validate()
	case KindAzureAD:
		if e.AzureAD == nil {
			return fmt.Errorf("entry %s: provider is azure_ad but the azure_ad block is missing", e.TenantID)
		}
		return e.AzureAD.Validate()
	case KindGoogleWorkspace:
		if e.GoogleWorkspace == nil {
			return fmt.Errorf("entry %s: provider is google_workspace but the google_workspace block is missing", e.TenantID)
		}
		return e.GoogleWorkspace.Validate()
	default:
		return fmt.Errorf("entry %s: unknown provider %q", e.TenantID, e.Provider)
	}
}

// Credentials returns the connector credentials for the entry's provider.
// Callers must Validate first.
func (e Entry) Credentials() (connectors.Credentials, error) {
	switch strings.ToLower(strings.TrimSpace(e.Provider)) {
	case KindOkta:
		if e.Okta != nil {
			return e.Okta.Credentials(), nil
		}
	case KindAzureAD:
		if e.AzureAD != nil {
			return e.AzureAD.Credentials(), nil
		}
	case KindGoogleWorkspace:
		if e.GoogleWorkspace != nil {
			return e.GoogleWorkspace.Credentials(), nil
		}
	}
	return connectors.Credentials{}, fmt.Errorf("entry %s: no config block for provider %q", e.TenantID, e.Provider)
}

// File is a provider seed file.
type File struct {
	Providers []Entry `json:"providers"`
}

// Parse decodes and validates a seed file. Duplicate (tenant, provider)
// pairs are rejected.
func Parse(data []byte) (File, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("parse providers file: %w", err)
	}
	if len(f.Providers) == 0 {
		return File{}, errors.New("providers file lists no providers")
	}

	seen := make(map[string]struct{}, len(f.Providers))
	for i, entry := range f.Providers {
		if err := entry.Validate(); err != nil {
			return File{}, fmt.Errorf("providers[%d]: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(entry.TenantID)) + "/" + strings.ToLower(strings.TrimSpace(entry.Provider))
		if _, dup := seen[key]; dup {
			return File{}, fmt.Errorf("providers[%d]: duplicate entry for %s", i, key)
		}
		seen[key] = struct{}{}
	}
	return f, nil
}

// LoadFile reads and parses a seed file from disk.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	return Parse(data)
}
