package testmock

import (
	"context"
	"fmt"
)

// SecretResolver resolves secret_ref against an in-memory map, for tests
// that need a mapping.SecretResolver without touching the environment.
type SecretResolver struct {
	Secrets map[string]string
}

func NewSecretResolver(secrets map[string]string) *SecretResolver {
	return &SecretResolver{Secrets: secrets}
}

func (r *SecretResolver) Resolve(ctx context.Context, secretRef string) (string, error) {
	v, ok := r.Secrets[secretRef]
	if !ok {
		return "", fmt.Errorf("testmock: no secret registered for %q", secretRef)
	}
	return v, nil
}
