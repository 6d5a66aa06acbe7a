package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SubscriberConfig is one statically configured JSON-RPC receiver.
type SubscriberConfig struct {
	Name     string `json:"name" yaml:"name"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// SubscribersFile lists receivers notified of every committed pixel.
type SubscribersFile struct {
	Subscribers []SubscriberConfig `json:"subscribers" yaml:"subscribers"`
}

// LoadSubscribers reads a YAML or JSON subscriber file and validates it.
func LoadSubscribers(path string) (*SubscribersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("subscribers file is empty")
	}

	var f SubscribersFile
	if looksLikeJSON(trimmed) {
		err = json.Unmarshal([]byte(trimmed), &f)
	} else {
		err = yaml.Unmarshal([]byte(trimmed), &f)
	}
	if err != nil {
		return nil, fmt.Errorf("parse subscribers file: %w", err)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate requires a unique name and an absolute http(s) endpoint per entry.
func (f *SubscribersFile) Validate() error {
	seen := make(map[string]struct{}, len(f.Subscribers))
	for i, s := range f.Subscribers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("subscribers file: entry #%d has empty name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("subscribers file: duplicate name %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if err := ValidateEndpoint(s.Endpoint); err != nil {
			return fmt.Errorf("subscribers file: %q: %w", s.Name, err)
		}
	}
	return nil
}

// ValidateEndpoint accepts absolute http and https URLs with a host.
func ValidateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("empty endpoint")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("endpoint has no host")
	}
	return nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}
