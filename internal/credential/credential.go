// Package credential externalises the local store's authentication secret
// per Design Notes ("Credentials in local store. The on-disk document
// contains plaintext credentials; a reimplementation should externalise
// them (credential provider interface).").
package credential

import (
	"fmt"
	"os"
	"strings"
)

// Provider resolves a username/password pair for a repository connection.
// The local store persists a reference string, not necessarily the secret
// itself; Resolve turns that reference into the password to present to
// Digest auth.
type Provider interface {
	Resolve(ref string) (password string, err error)
}

// Static treats the reference as the literal password. This is the
// fallback used when a local store predates credential externalisation.
type Static struct{}

func (Static) Resolve(ref string) (string, error) { return ref, nil }

// Env treats a reference of the form "env:NAME" as an indirection through
// an environment variable, so the on-disk document never holds the secret
// itself. Any other reference is treated as a literal (Static) password.
type Env struct{}

func (Env) Resolve(ref string) (string, error) {
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return ref, nil
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("credential: environment variable %s is not set", name)
	}
	return v, nil
}

// EncodeEnvRef formats a reference that Env.Resolve will read back from the
// named environment variable, for CLIs that want to avoid ever writing a
// plaintext secret to the local store.
func EncodeEnvRef(name string) string { return "env:" + name }
