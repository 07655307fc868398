package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"peakload/internal/capacity"
	"peakload/internal/types"
)

// ConfigError is returned by the loaders. Type tells an operator which stage
// of loading failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ssmParamSuffix marks a pointer variable: SMTP_PASSWORD_SSM_PARAM holds the
// SSM path whose value becomes SMTP_PASSWORD.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// ssmTimeout bounds the batch lookup made during loading.
const ssmTimeout = 30 * time.Second

// loaderDeps are the process-environment hooks, replaceable in tests.
type loaderDeps struct {
	lookupEnv func(key string) (string, bool)
	setEnv    func(key, value string) error
	environ   func() []string
}

func defaultDeps() loaderDeps {
	return loaderDeps{
		lookupEnv: os.LookupEnv,
		setEnv:    os.Setenv,
		environ:   os.Environ,
	}
}

// LoadConfig loads and validates the API and CLI configuration.
//
// Loading runs in a fixed order: the process timezone is forced to UTC, a .env
// file is read if present, *_SSM_PARAM pointers are resolved through provider
// unless APP_ENV=local, envconfig populates the struct, and the validator runs
// last. provider may be nil when no pointer variables are set.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	var cfg Config
	if err := load(provider, deps, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	if err := capacity.Validate(cfg.CapacityParameters()); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "capacity parameters are out of range", Err: err}
	}
	if err := capacity.ValidateOptions(cfg.RunOptions()); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "run options are out of range", Err: err}
	}
	if types.ForecasterMode(cfg.Forecaster.Mode) == types.ForecasterRemote && cfg.Forecaster.URL == "" {
		return nil, &ConfigError{Type: ErrValidation, Message: "FORECASTER_URL is required when FORECASTER_MODE=remote"}
	}
	return &cfg, nil
}

// LoadWorkerConfig loads the notify worker configuration with the same
// priority chain as LoadConfig. Capacity settings are not read.
func LoadWorkerConfig(provider SecretProvider) (*WorkerConfig, error) {
	return loadWorkerConfigWithDeps(provider, defaultDeps())
}

func loadWorkerConfigWithDeps(provider SecretProvider, deps loaderDeps) (*WorkerConfig, error) {
	var cfg WorkerConfig
	if err := load(provider, deps, &cfg); err != nil {
		return nil, err
	}
	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return &cfg, nil
}

// load runs the shared part of both loaders and fills dst from the
// environment.
func load(provider SecretProvider, deps loaderDeps, dst any) error {
	time.Local = time.UTC

	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	if appEnv, _ := deps.lookupEnv("APP_ENV"); appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return err
		}
	}

	if err := envconfig.Process("", dst); err != nil {
		errType := ErrParsing
		if strings.HasPrefix(err.Error(), "required key") {
			errType = ErrMissingEnv
		}
		return &ConfigError{Type: errType, Message: "failed to process environment configuration", Err: err}
	}
	return nil
}

// ssmBinding ties an SSM path to the variable it fills.
type ssmBinding struct {
	target string
	path   string
}

// pendingSSMBindings lists the pointer variables whose target is still unset,
// in environment order. A target that is already set wins over SSM.
func pendingSSMBindings(deps loaderDeps) []ssmBinding {
	var out []ssmBinding
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}
		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		out = append(out, ssmBinding{target: target, path: path})
	}
	return out
}

func bindingTargets(bindings []ssmBinding) string {
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.target
	}
	return strings.Join(names, ", ")
}

// resolveSSMParams fetches every pending pointer in one batch and exports the
// values so envconfig sees them.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	bindings := pendingSSMBindings(deps)
	if len(bindings) == 0 {
		return nil
	}
	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SecretProvider is required for non-local environments (need to resolve: " + bindingTargets(bindings) + ")",
		}
	}

	paths := make([]string, len(bindings))
	for i, b := range bindings {
		paths[i] = b.path
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmTimeout)
	defer cancel()

	resolved, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []ssmBinding
	for _, b := range bindings {
		value, ok := resolved[b.path]
		if !ok {
			missing = append(missing, b)
			continue
		}
		if err := deps.setEnv(b.target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to set resolved value for " + b.target,
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + bindingTargets(missing),
		}
	}
	return nil
}
