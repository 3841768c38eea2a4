package pipeline

import (
	"os"

	"google.golang.org/api/option"
)

// DefaultCredentialPaths returns the credential file locations tried in order.
// The first entry comes from GOOGLE_APPLICATION_CREDENTIALS and may be empty.
func DefaultCredentialPaths() []string {
	return []string{
		os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		"/run/secrets/gcp_service_account_key",
		"/opt/analytics/service-account-key.json",
	}
}

// Credentials points at a service account key file.
type Credentials struct {
	Path string
}

// ClientOptions returns the options to build Google Cloud clients with.
func (c *Credentials) ClientOptions() []option.ClientOption {
	return []option.ClientOption{option.WithCredentialsFile(c.Path)}
}

// ResolveCredentials returns the first candidate path that exists as a regular file.
func ResolveCredentials(candidates []string) (*Credentials, error) {
	return resolveCredentials(candidates, fileExists)
}

func resolveCredentials(candidates []string, exists func(string) bool) (*Credentials, error) {
	tried := make([]string, 0, len(candidates))

	for _, p := range candidates {
		if p == "" {
			continue
		}
		tried = append(tried, p)

		if exists(p) {
			return &Credentials{Path: p}, nil
		}
	}

	return nil, &CredentialError{Tried: tried}
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
