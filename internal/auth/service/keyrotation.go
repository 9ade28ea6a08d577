package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dss-platform/auth/internal/auth/store"
	"github.com/dss-platform/auth/pkg/cryptox"
	"github.com/dss-platform/auth/pkg/keystore"
)

// KeyRotationService orchestrates signing-key lifecycle on top of the
// key directory: generate, rotate the active pointer, archive retired kids,
// and keep the cached discovery document from serving stale material.
type KeyRotationService struct {
	dir   string
	cache store.DiscoveryCache // nil when no shared store is configured
	log   *slog.Logger
}

// NewKeyRotationService builds the orchestrator for the key directory at
// dir. cache may be nil; cache busting is then skipped.
func NewKeyRotationService(dir string, cache store.DiscoveryCache, log *slog.Logger) *KeyRotationService {
	return &KeyRotationService{dir: dir, cache: cache, log: log}
}

// Generate creates a fresh RSA key pair under kid. It refuses to overwrite
// existing key files.
func (s *KeyRotationService) Generate(ctx context.Context, kid string) error {
	if err := keystore.Generate(s.dir, kid, cryptox.DefaultRSABits, false); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "generated key pair", "kid", kid)
	return nil
}

// Ensure creates the key pair for kid only if it does not exist yet, and
// makes it active when no active kid is set. Used for first-boot
// provisioning.
func (s *KeyRotationService) Ensure(ctx context.Context, kid string) error {
	err := keystore.Generate(s.dir, kid, cryptox.DefaultRSABits, false)
	switch {
	case errors.Is(err, keystore.ErrKeyExists):
	case err != nil:
		return err
	default:
		s.log.InfoContext(ctx, "generated key pair", "kid", kid)
	}

	active, err := keystore.ActiveKid(s.dir)
	if err != nil {
		return fmt.Errorf("read active kid: %w", err)
	}
	if active == "" {
		if err := keystore.SetActive(s.dir, kid); err != nil {
			return err
		}
		s.log.InfoContext(ctx, "set initial active kid", "kid", kid)
	}
	return nil
}

// Rotate generates newKid and flips the active pointer to it. The previous
// key stays in place untouched, so tokens signed under it keep verifying
// until they expire.
func (s *KeyRotationService) Rotate(ctx context.Context, newKid string) error {
	if err := keystore.Generate(s.dir, newKid, cryptox.DefaultRSABits, false); err != nil {
		return err
	}
	if err := keystore.SetActive(s.dir, newKid); err != nil {
		return err
	}

	s.bustDiscoveryCache(ctx)
	s.log.InfoContext(ctx, "rotated active signing key", "kid", newKid)
	return nil
}

// Revoke retires a kid: its key files move into the archive, where only the
// public half stays loadable. The active kid cannot be revoked.
func (s *KeyRotationService) Revoke(ctx context.Context, kid string) error {
	if err := keystore.Archive(s.dir, kid); err != nil {
		return err
	}

	s.bustDiscoveryCache(ctx)
	s.log.InfoContext(ctx, "archived key", "kid", kid)
	return nil
}

// SetActive flips the active pointer to an existing kid.
func (s *KeyRotationService) SetActive(ctx context.Context, kid string) error {
	if err := keystore.SetActive(s.dir, kid); err != nil {
		return err
	}
	s.bustDiscoveryCache(ctx)
	s.log.InfoContext(ctx, "set active kid", "kid", kid)
	return nil
}

// ActiveKid reports the current active kid, empty when none is set.
func (s *KeyRotationService) ActiveKid() (string, error) {
	return keystore.ActiveKid(s.dir)
}

// List enumerates the kids present in the key directory.
func (s *KeyRotationService) List() ([]keystore.KidInfo, error) {
	return keystore.List(s.dir)
}

// bustDiscoveryCache drops the cached JWKS document after a key-set change.
// Best effort: the cache entry expires on its own TTL regardless, the bust
// only shortens propagation.
func (s *KeyRotationService) bustDiscoveryCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Clear(ctx); err != nil {
		s.log.WarnContext(ctx, "discovery cache bust failed", "error", err)
	}
}
