package config

import (
	"context"
	"os"
)

// envLookup matches os.LookupEnv.
type envLookup func(key string) (string, bool)

// EnvVarProvider resolves secret references from the process environment.
// Local runs point *_SSM_PARAM variables at other environment variables
// instead of Parameter Store paths.
type EnvVarProvider struct {
	lookup envLookup
}

// NewEnvVarProvider creates an EnvVarProvider backed by os.LookupEnv.
func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch returns the keys that are set; missing keys are omitted
// so the loader can report them together.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	lookup := p.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
