// Package keystore loads and serves the RSA signing keys for the token
// service. A key pair is a pair of PEM files in the key directory named
// <kid>_private.pem and <kid>_public.pem; the active kid lives in an ACTIVE
// pointer file next to them. Archived keys move into an archive/ subdirectory
// where only the public half keeps being loaded, so tokens signed under a
// retired kid stay verifiable until they expire.
package keystore

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dss-platform/auth/pkg/cryptox"
	"github.com/dss-platform/auth/pkg/jwtx"
)

var (
	// ErrKeyNotFound reports an unknown kid or a kid with no private half.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrNoActiveKey means the configured active kid has no loadable
	// private key. This is a startup-fatal misconfiguration, not something
	// to defer to the first signing request.
	ErrNoActiveKey = errors.New("keystore: active kid has no private key")
)

// kidRE is a strict whitelist to keep kids out of path-traversal territory.
var kidRE = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// activeFile is the durable pointer naming the kid used for new signatures.
const activeFile = "ACTIVE"

// archiveDir holds retired key files under the key directory.
const archiveDir = "archive"

// KeyPair is one loaded signing key. The private half never leaves this
// package; archived pairs have a nil Private.
type KeyPair struct {
	Kid       string
	Private   *rsa.PrivateKey
	Public    *rsa.PublicKey
	CreatedAt time.Time
	Archived  bool
}

// snapshot is an immutable view of the key directory. Readers only ever see
// a complete snapshot via one atomic pointer load, never a half-updated map.
type snapshot struct {
	keys      map[string]*KeyPair
	activeKid string
	jwks      jwtx.JWKS
}

// Store serves signing and verification keys from a directory. Reads are
// lock-free; Reload builds a fresh snapshot and swaps it in.
type Store struct {
	dir           string
	defaultActive string // fallback when no ACTIVE file exists yet

	cur atomic.Pointer[snapshot]
}

// Options configure Open.
type Options struct {
	// ActiveKid is the initial active kid used when the key directory has
	// no ACTIVE pointer file (typically the env-provided value on first
	// boot). The pointer file wins when both are present.
	ActiveKid string
}

// Open scans the key directory and returns a ready Store. It fails when the
// directory cannot be read or when the resolved active kid has no private
// key.
func Open(dir string, opts Options) (*Store, error) {
	s := &Store{dir: dir, defaultActive: opts.ActiveKid}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rescans the key directory and atomically replaces the current
// snapshot. Concurrent verifications keep using the old snapshot until the
// swap completes.
func (s *Store) Reload() error {
	snap, err := loadSnapshot(s.dir, s.defaultActive)
	if err != nil {
		return err
	}
	s.cur.Store(snap)
	return nil
}

// ActiveKid returns the kid used for new signatures.
func (s *Store) ActiveKid() string {
	return s.cur.Load().activeKid
}

// Signer returns the active kid and its private key. Implements
// jwtx.KeySource.
func (s *Store) Signer() (string, *rsa.PrivateKey, error) {
	snap := s.cur.Load()
	kp, ok := snap.keys[snap.activeKid]
	if !ok || kp.Private == nil {
		return "", nil, fmt.Errorf("%w: %q", ErrNoActiveKey, snap.activeKid)
	}
	return kp.Kid, kp.Private, nil
}

// PublicKey returns the public key for a kid. Archived kids resolve here too;
// they are only dropped from the discovery document.
func (s *Store) PublicKey(kid string) (*rsa.PublicKey, error) {
	kp, ok := s.cur.Load().keys[kid]
	if !ok || kp.Public == nil {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return kp.Public, nil
}

// DiscoveryDocument returns the published key set: public material only, and
// only for non-archived kids.
func (s *Store) DiscoveryDocument() jwtx.JWKS {
	return s.cur.Load().jwks
}

// Kids lists every loaded kid, archived ones included.
func (s *Store) Kids() []string {
	snap := s.cur.Load()
	out := make([]string, 0, len(snap.keys))
	for kid := range snap.keys {
		out = append(out, kid)
	}
	return out
}

func loadSnapshot(dir, defaultActive string) (*snapshot, error) {
	keys := make(map[string]*KeyPair)

	if err := scanKeyFiles(dir, false, keys); err != nil {
		return nil, err
	}
	// Archived public keys stay verifiable; a missing archive dir is fine.
	if err := scanKeyFiles(filepath.Join(dir, archiveDir), true, keys); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	active, err := readActiveKid(dir)
	if err != nil {
		return nil, err
	}
	if active == "" {
		active = defaultActive
	}
	if active == "" {
		return nil, fmt.Errorf("%w: no active kid configured", ErrNoActiveKey)
	}

	kp, ok := keys[active]
	if !ok || kp.Private == nil || kp.Archived {
		return nil, fmt.Errorf("%w: %q", ErrNoActiveKey, active)
	}

	var jwks jwtx.JWKS
	for _, k := range keys {
		if k.Archived || k.Public == nil {
			continue
		}
		jwks.Keys = append(jwks.Keys, jwtx.NewRSAJWK(k.Kid, k.Public))
	}

	return &snapshot{keys: keys, activeKid: active, jwks: jwks}, nil
}

// scanKeyFiles reads every *.pem in dir and merges the halves into keys,
// grouped by kid. In archived mode private halves are deliberately skipped.
func scanKeyFiles(dir string, archived bool, keys map[string]*KeyPair) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pem") {
			continue
		}

		kid, private := splitKeyFileName(name)
		if kid == "" || !kidRE.MatchString(kid) {
			continue
		}

		pemBytes, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("keystore: read %s: %w", name, err)
		}

		kp := keys[kid]
		if kp == nil {
			kp = &KeyPair{Kid: kid, Archived: archived}
			keys[kid] = kp
		}

		if info, err := e.Info(); err == nil {
			if kp.CreatedAt.IsZero() || info.ModTime().Before(kp.CreatedAt) {
				kp.CreatedAt = info.ModTime()
			}
		}

		if private {
			if archived {
				continue
			}
			priv, err := cryptox.ParseRSAPrivateKey(pemBytes)
			if err != nil {
				return fmt.Errorf("keystore: %s: %w", name, err)
			}
			kp.Private = priv
			if kp.Public == nil {
				kp.Public = &priv.PublicKey
			}
		} else {
			pub, err := cryptox.ParseRSAPublicKey(pemBytes)
			if err != nil {
				return fmt.Errorf("keystore: %s: %w", name, err)
			}
			kp.Public = pub
		}
	}

	return nil
}

// splitKeyFileName maps "<kid>_private.pem" / "<kid>_public.pem" to the kid
// and whether it is the private half. Anything else yields an empty kid.
func splitKeyFileName(name string) (kid string, private bool) {
	base := strings.TrimSuffix(name, ".pem")
	switch {
	case strings.HasSuffix(base, "_private"):
		return strings.TrimSuffix(base, "_private"), true
	case strings.HasSuffix(base, "_public"):
		return strings.TrimSuffix(base, "_public"), false
	default:
		return "", false
	}
}

func readActiveKid(dir string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(dir, activeFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keystore: read active pointer: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
