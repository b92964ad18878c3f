// SPDX-License-Identifier: Apache-2.0

// Package credential stands in for the encrypted-URL connection registry
// the engine never implements itself: pgsync resolves a short reference to
// a connection string through a caller-supplied Resolver rather than
// decrypting or persisting one (spec.md §6.1).
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Resolver turns a connection reference into a usable Postgres URL. The
// reference's shape is entirely up to the implementation: a name in a
// secrets manager, a row in an external registry, or (as EnvResolver does)
// an environment variable.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (url string, err error)
}

// EnvResolver resolves a reference by uppercasing it and reading the
// matching environment variable, prefixed so a reference like "source"
// resolves PGSYNC_CONN_SOURCE. It exists so cmd/pgsync can run against real
// databases without wiring a full secrets-manager client; production
// deployments are expected to supply their own Resolver.
type EnvResolver struct {
	Prefix string
}

// NewEnvResolver builds an EnvResolver using the default PGSYNC_CONN_
// prefix.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{Prefix: "PGSYNC_CONN_"}
}

func (r *EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	if strings.Contains(ref, "://") {
		// Already a URL; pass through so a URL given to --source or
		// --target works without a resolver round-trip.
		return ref, nil
	}

	key := r.Prefix + strings.ToUpper(ref)
	url, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("credential: no connection registered for reference %q (expected env var %s)", ref, key)
	}
	return url, nil
}
