package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dss-platform/auth/pkg/cryptox"
)

// ErrKeyExists reports an attempt to overwrite existing key files without
// the overwrite flag.
var ErrKeyExists = errors.New("keystore: key files already exist")

// ErrActiveKid reports an attempt to archive the kid currently used for new
// signatures. Rotate away first, wait out the longest token TTL, then revoke.
var ErrActiveKid = errors.New("keystore: refusing to archive the active kid")

// KidInfo describes one kid found in a key directory.
type KidInfo struct {
	Kid        string `json:"kid"`
	HasPrivate bool   `json:"has_private"`
	HasPublic  bool   `json:"has_public"`
	Active     bool   `json:"active"`
	Archived   bool   `json:"archived"`
}

// Generate creates and persists a fresh RSA key pair for kid. Private files
// are written 0600, public files 0644.
func Generate(dir, kid string, bits int, overwrite bool) error {
	if !kidRE.MatchString(kid) {
		return fmt.Errorf("keystore: invalid kid %q", kid)
	}
	if bits <= 0 {
		bits = cryptox.DefaultRSABits
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("keystore: create key dir: %w", err)
	}

	privPath := filepath.Join(dir, kid+"_private.pem")
	pubPath := filepath.Join(dir, kid+"_public.pem")
	if !overwrite {
		if fileExists(privPath) || fileExists(pubPath) {
			return fmt.Errorf("%w: kid=%q", ErrKeyExists, kid)
		}
	}

	privPEM, pubPEM, err := cryptox.GenerateRSAKeyPair(bits)
	if err != nil {
		return err
	}

	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("keystore: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("keystore: write public key: %w", err)
	}
	return nil
}

// SetActive durably flips the active-kid pointer. The named kid must have a
// private key on disk; flipping to a kid that cannot sign would brick
// issuance at the next reload.
func SetActive(dir, kid string) error {
	if !kidRE.MatchString(kid) {
		return fmt.Errorf("keystore: invalid kid %q", kid)
	}
	if !fileExists(filepath.Join(dir, kid+"_private.pem")) {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return os.WriteFile(filepath.Join(dir, activeFile), []byte(kid+"\n"), 0o600)
}

// ActiveKid reads the durable active pointer; empty when none is set.
func ActiveKid(dir string) (string, error) {
	return readActiveKid(dir)
}

// Archive moves both halves of a kid into the archive/ subdirectory. The
// public half remains loadable for verification; the private half stops
// being loaded. Archiving the active kid is refused.
func Archive(dir, kid string) error {
	if !kidRE.MatchString(kid) {
		return fmt.Errorf("keystore: invalid kid %q", kid)
	}

	active, err := readActiveKid(dir)
	if err != nil {
		return err
	}
	if kid == active {
		return fmt.Errorf("%w: %q", ErrActiveKid, kid)
	}

	dst := filepath.Join(dir, archiveDir)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("keystore: create archive dir: %w", err)
	}

	moved := false
	for _, half := range []string{kid + "_private.pem", kid + "_public.pem"} {
		src := filepath.Join(dir, half)
		if !fileExists(src) {
			continue
		}
		if err := os.Rename(src, filepath.Join(dst, half)); err != nil {
			return fmt.Errorf("keystore: archive %s: %w", half, err)
		}
		moved = true
	}
	if !moved {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, kid)
	}
	return nil
}

// List reports every kid found in the directory and its archive.
func List(dir string) ([]KidInfo, error) {
	active, err := readActiveKid(dir)
	if err != nil {
		return nil, err
	}

	infos := make(map[string]*KidInfo)
	collect := func(scanDir string, archived bool) error {
		entries, err := os.ReadDir(scanDir)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			kid, private := splitKeyFileName(e.Name())
			if kid == "" || !kidRE.MatchString(kid) {
				continue
			}
			info := infos[kid]
			if info == nil {
				info = &KidInfo{Kid: kid, Archived: archived, Active: kid == active}
				infos[kid] = info
			}
			if private {
				info.HasPrivate = true
			} else {
				info.HasPublic = true
			}
		}
		return nil
	}

	if err := collect(dir, false); err != nil {
		return nil, err
	}
	if err := collect(filepath.Join(dir, archiveDir), true); err != nil {
		return nil, err
	}

	out := make([]KidInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kid < out[j].Kid })
	return out, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
