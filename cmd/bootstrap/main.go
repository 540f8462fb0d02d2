// Command bootstrap provisions a tenant with its first API key, and
// optionally a login user.
//
// Usage:
//
//	bootstrap -tenant-code CODE [-name NAME] [-label LABEL] [-username USER -password PASS]
//
// The raw API key is printed exactly once; only its HMAC is stored.
//
// Exit codes: 0 success, 1 usage error, 2 database unreachable,
// 3 tenant already exists.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/linetrace-io/linetrace/internal/storage"
)

const (
	exitOK           = 0
	exitUsage        = 1
	exitNoReach      = 2
	exitTenantExists = 3
)

const bootstrapTimeout = 30 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	flags := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	code := flags.String("tenant-code", "", "tenant code (required)")
	tenantName := flags.String("name", "", "tenant display name (defaults to the code)")
	label := flags.String("label", "bootstrap", "label for the issued API key")
	username := flags.String("username", "", "optional login user to create")
	password := flags.String("password", "", "password for the login user")

	if err := flags.Parse(args); err != nil {
		return exitUsage
	}

	if *code == "" {
		fmt.Fprintln(os.Stderr, "bootstrap: -tenant-code is required")

		return exitUsage
	}

	if (*username == "") != (*password == "") {
		fmt.Fprintln(os.Stderr, "bootstrap: -username and -password go together")

		return exitUsage
	}

	storageConfig := storage.LoadConfig()

	if err := storageConfig.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)

		return exitUsage
	}

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)

		return exitNoReach
	}

	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tenant := &storage.Tenant{
		Code: *code,
		Name: *tenantName,
	}

	if tenant.Name == "" {
		tenant.Name = tenant.Code
	}

	if err := storage.NewTenantStore(conn).Create(ctx, tenant); err != nil {
		if errors.Is(err, storage.ErrTenantExists) {
			fmt.Fprintf(os.Stderr, "bootstrap: tenant %q already exists\n", *code)

			return exitTenantExists
		}

		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)

		return exitNoReach
	}

	keyStore := storage.NewKeyStore(conn, storageConfig.HMACSecret(), logger)

	apiKey, rawKey, err := keyStore.Create(ctx, tenant.ID, *label)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)

		return exitNoReach
	}

	if *username != "" {
		if _, err := storage.NewUserStore(conn).Create(ctx, tenant.ID, *username, *password); err != nil {
			fmt.Fprintf(os.Stderr, "bootstrap: %v\n", err)

			return exitNoReach
		}

		fmt.Fprintf(out, "user:      %s\n", *username)
	}

	fmt.Fprintf(out, "tenant_id: %s\n", tenant.ID)
	fmt.Fprintf(out, "key_id:    %s\n", apiKey.ID)
	fmt.Fprintf(out, "api_key:   %s\n", rawKey)
	fmt.Fprintln(out, "store the api_key now; it cannot be recovered")

	return exitOK
}
