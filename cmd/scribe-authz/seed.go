package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/scribe/pkg/authz"
	"gopkg.in/yaml.v3"
)

// seedFile is the -seed document:
//
//	users:
//	  - id: root
//	    email: root@example.com
//	    level: admin
//	resources:
//	  - id: job-1
//	    type: transcription
//	    owner_id: root
type seedFile struct {
	Users []struct {
		ID           string          `yaml:"id"`
		Email        string          `yaml:"email"`
		Level        string          `yaml:"level"`
		Capabilities map[string]bool `yaml:"capabilities"`
	} `yaml:"users"`
	Resources []struct {
		ID      string `yaml:"id"`
		Type    string `yaml:"type"`
		OwnerID string `yaml:"owner_id"`
	} `yaml:"resources"`
}

// userWriter is implemented by every store backend
type userWriter interface {
	PutUser(ctx context.Context, u *authz.User) error
}

// loadSeed reads path and writes its users and resources. Users are
// overwritten; resources that already exist are left alone.
func loadSeed(ctx context.Context, path string, users userWriter, resources authz.ResourceStore) (int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return 0, 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, su := range seed.Users {
		level, err := authz.ParsePermissionLevel(su.Level)
		if err != nil {
			return 0, 0, fmt.Errorf("seed user %s: %w", su.ID, err)
		}
		overrides, err := authz.ParseOverrides(su.Capabilities)
		if err != nil {
			return 0, 0, fmt.Errorf("seed user %s: %w", su.ID, err)
		}
		u := &authz.User{ID: su.ID, Email: su.Email, Level: level, CustomPermissions: overrides}
		if err := users.PutUser(ctx, u); err != nil {
			return 0, 0, fmt.Errorf("seed user %s: %w", su.ID, err)
		}
	}

	created := 0
	for _, sr := range seed.Resources {
		if sr.ID == "" || sr.OwnerID == "" {
			return len(seed.Users), created, fmt.Errorf("seed resource needs an id and owner_id")
		}
		_, err := resources.UpsertResource(ctx, &authz.Resource{ID: sr.ID, Type: sr.Type, OwnerID: sr.OwnerID}, 0)
		if errors.Is(err, authz.ErrConflict) {
			continue
		}
		if err != nil {
			return len(seed.Users), created, fmt.Errorf("seed resource %s: %w", sr.ID, err)
		}
		created++
	}
	return len(seed.Users), created, nil
}
