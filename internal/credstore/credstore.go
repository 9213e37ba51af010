package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"costshub/internal/costmodel"

	"gopkg.in/ini.v1"
)

// ErrNotFound is returned when no credentials exist for a client+provider.
var ErrNotFound = errors.New("credentials not found")

// Credentials is an opaque credential bundle. The adapter for each provider
// knows which keys it needs (profile/role_arn for AWS, tenant_id/client_id/
// client_secret/subscription_id for Azure, project_id/service_account_json
// for GCP); nothing else inspects Data.
type Credentials struct {
	ClientID string
	Provider costmodel.Provider
	Data     map[string]string
}

// Store resolves per-client provider credentials.
type Store interface {
	GetCredentials(ctx context.Context, clientID string, provider costmodel.Provider) (*Credentials, error)
}

// StaticStore is a map-backed Store, typically populated from the `clients`
// section of the config file.
type StaticStore struct {
	mu    sync.RWMutex
	creds map[string]*Credentials
}

// NewStaticStore creates an empty StaticStore.
func NewStaticStore() *StaticStore {
	return &StaticStore{creds: make(map[string]*Credentials)}
}

// Put registers a credential bundle, replacing any existing one.
func (s *StaticStore) Put(c *Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key(c.ClientID, c.Provider)] = c
}

// GetCredentials implements Store.
func (s *StaticStore) GetCredentials(_ context.Context, clientID string, provider costmodel.Provider) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[key(clientID, provider)]
	if !ok {
		return nil, fmt.Errorf("client %s provider %s: %w", clientID, provider, ErrNotFound)
	}
	return c, nil
}

// Clients returns the distinct client ids present in the store, sorted.
func (s *StaticStore) Clients() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, c := range s.creds {
		seen[c.ClientID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func key(clientID string, provider costmodel.Provider) string {
	return clientID + "|" + string(provider)
}

// FromConfigMap builds a StaticStore from the nested `clients` config map:
// client id -> provider name -> credential key -> value. Unknown provider
// names are an error; credential values are passed through untouched.
func FromConfigMap(raw map[string]interface{}) (*StaticStore, error) {
	store := NewStaticStore()
	for clientID, providersRaw := range raw {
		providers, ok := providersRaw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("client %s: expected a map of providers", clientID)
		}
		for providerName, dataRaw := range providers {
			provider, err := costmodel.ParseProvider(providerName)
			if err != nil {
				return nil, fmt.Errorf("client %s: %w", clientID, err)
			}
			dataMap, ok := dataRaw.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("client %s provider %s: expected a map of credential keys", clientID, providerName)
			}
			data := make(map[string]string, len(dataMap))
			for k, v := range dataMap {
				data[k] = fmt.Sprintf("%v", v)
			}
			store.Put(&Credentials{
				ClientID: clientID,
				Provider: provider,
				Data:     data,
			})
		}
	}
	return store, nil
}

// ListAWSProfiles returns the AWS profiles available in the shared
// credentials and config files. Used by `costshub list profiles` so operators
// can see what a client's aws.profile key may reference.
func ListAWSProfiles() ([]string, error) {
	credsPath := os.Getenv("AWS_SHARED_CREDENTIALS_FILE")
	if credsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		credsPath = filepath.Join(home, ".aws", "credentials")
	}

	configPath := os.Getenv("AWS_CONFIG_FILE")
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		configPath = filepath.Join(home, ".aws", "config")
	}

	profiles := make(map[string]struct{})

	if _, err := os.Stat(credsPath); err == nil {
		credsFile, err := ini.Load(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials file: %w", err)
		}
		for _, section := range credsFile.Sections() {
			if section.Name() != "DEFAULT" && section.Name() != ini.DefaultSection {
				profiles[section.Name()] = struct{}{}
			}
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		configFile, err := ini.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		for _, section := range configFile.Sections() {
			if section.Name() != "DEFAULT" && section.Name() != ini.DefaultSection {
				name := strings.TrimPrefix(section.Name(), "profile ")
				profiles[name] = struct{}{}
			}
		}
	}

	result := make([]string, 0, len(profiles))
	for profile := range profiles {
		result = append(result, profile)
	}
	sort.Strings(result)

	return result, nil
}
