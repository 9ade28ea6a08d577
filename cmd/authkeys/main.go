// Command authkeys manages the signing-key directory: generating key pairs,
// rotating the active kid, archiving retired keys, and rendering the JWKS
// document. A running auth service picks up changes through its directory
// watch; no restart is needed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dss-platform/auth/internal/auth/service"
	"github.com/dss-platform/auth/internal/auth/store"
	redisstore "github.com/dss-platform/auth/internal/auth/store/drivers/redis"
	"github.com/dss-platform/auth/pkg/keystore"
	"github.com/dss-platform/auth/pkg/slogx"
)

const usage = `Usage: authkeys [-dir DIR] <command> [args]

Commands:
  generate <kid>     generate a new RSA key pair
  ensure <kid>       generate the key pair if missing; set active if none is
  rotate <kid>       generate <kid> and make it the active signing key
  revoke <kid>       archive a retired key (refuses the active kid)
  set-active <kid>   flip the active pointer to an existing kid
  show-active        print the active kid
  list               list kids and their state
  jwks               print the discovery document

The key directory defaults to $AUTH_KEYS_DIR, then ./keys. When $REDIS_ADDR
is reachable, rotate/revoke/set-active also bust the cached discovery
document.`

func main() {
	dirFlag := flag.String("dir", "", "key directory (default: $AUTH_KEYS_DIR, then ./keys)")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	dir := *dirFlag
	if dir == "" {
		dir = os.Getenv("AUTH_KEYS_DIR")
	}
	if dir == "" {
		dir = "keys"
	}

	logger := slogx.New(slogx.Config{
		Service: "authkeys",
		Env:     os.Getenv("ENV"),
		Level:   os.Getenv("LOG_LEVEL"),
		Format:  "text",
	})

	rotation := service.NewKeyRotationService(dir, discoveryCache(), logger)
	ctx := context.Background()

	cmd, rest := args[0], args[1:]
	var err error
	switch cmd {
	case "generate":
		err = rotation.Generate(ctx, kidArg(rest))
	case "ensure":
		err = rotation.Ensure(ctx, kidArg(rest))
	case "rotate":
		err = rotation.Rotate(ctx, kidArg(rest))
	case "revoke":
		err = rotation.Revoke(ctx, kidArg(rest))
	case "set-active":
		err = rotation.SetActive(ctx, kidArg(rest))
	case "show-active":
		err = showActive(rotation)
	case "list":
		err = list(rotation)
	case "jwks":
		err = printJWKS(dir)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "authkeys %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func kidArg(rest []string) string {
	if len(rest) != 1 || rest[0] == "" {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	return rest[0]
}

func showActive(rotation *service.KeyRotationService) error {
	kid, err := rotation.ActiveKid()
	if err != nil {
		return err
	}
	if kid == "" {
		return fmt.Errorf("no active kid set")
	}
	fmt.Println(kid)
	return nil
}

func list(rotation *service.KeyRotationService) error {
	infos, err := rotation.List()
	if err != nil {
		return err
	}
	for _, info := range infos {
		state := ""
		switch {
		case info.Active:
			state = " (active)"
		case info.Archived:
			state = " (archived)"
		case !info.HasPrivate:
			state = " (verify-only)"
		}
		fmt.Printf("%s%s\n", info.Kid, state)
	}
	return nil
}

func printJWKS(dir string) error {
	keys, err := keystore.Open(dir, keystore.Options{})
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(keys.DiscoveryDocument(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// discoveryCache connects to the shared store when REDIS_ADDR is set and
// reachable. The CLI works without it; the cached document then just ages
// out on its own TTL.
func discoveryCache() store.DiscoveryCache {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: redis at %s unreachable, skipping cache bust: %v\n", addr, err)
		return nil
	}

	return redisstore.New(rdb).DiscoveryCache()
}
