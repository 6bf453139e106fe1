// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. If APP_ENV != "local", resolve _SSM_PARAM pointer variables via the
//     SecretProvider and inject the resolved values back into the environment.
//  4. Use envconfig to process struct tags and populate the Config struct.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate struct tags with go-playground/validator, then cross-field rules.
package config

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is returned by LoadConfig. Type tells operators which stage
// failed.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := "[" + string(e.Type) + "] " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ssmParamSuffix marks pointer variables: DATABASE_URL_SSM_PARAM holds the
// SSM path whose value becomes DATABASE_URL.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

const ssmResolveTimeout = 30 * time.Second

// loaderDeps lets tests replace the process environment.
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

// LoadConfig loads and validates the configuration.
//
// The provider is used only when APP_ENV is not "local" and at least one
// _SSM_PARAM variable is present. It may be nil otherwise.
func LoadConfig(provider SecretProvider) (*Config, error) {
	return loadConfigWithDeps(provider, defaultDeps())
}

func loadConfigWithDeps(provider SecretProvider, deps loaderDeps) (*Config, error) {
	time.Local = time.UTC

	// Does NOT override variables already present in the environment.
	_ = godotenv.Load()

	appEnv, ok := deps.lookupEnv("APP_ENV")
	if !ok || appEnv == "" {
		appEnv = localEnv
	}

	if appEnv != localEnv {
		if err := resolveSSMParams(provider, deps); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the rules that span more than one field.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	if cfg.Alert.ClearThresholdIn > cfg.Alert.ThresholdIn {
		return &ConfigError{
			Type: ErrValidation,
			Message: fmt.Sprintf("CLEAR_THRESHOLD_IN (%.2f) must not exceed THRESHOLD_IN (%.2f)",
				cfg.Alert.ClearThresholdIn, cfg.Alert.ThresholdIn),
		}
	}

	if cfg.Mirror.FTPAddr != "" && cfg.Mirror.FTPUser == "" {
		return &ConfigError{
			Type:    ErrMissingEnv,
			Message: "FEED_FTP_USER is required when FEED_FTP_ADDR is set",
		}
	}

	return nil
}

// secretPointer binds a config variable to the SSM path named by its
// _SSM_PARAM companion.
type secretPointer struct {
	target string
	path   string
}

// findSecretPointers returns the pointers whose target is not already set,
// ordered by target name.
func findSecretPointers(deps loaderDeps) []secretPointer {
	var pointers []secretPointer
	for _, entry := range deps.environ() {
		key, path, ok := strings.Cut(entry, "=")
		if !ok || path == "" {
			continue
		}
		target, isPointer := strings.CutSuffix(key, ssmParamSuffix)
		if !isPointer || target == "" {
			continue
		}
		if _, set := deps.lookupEnv(target); set {
			continue
		}
		pointers = append(pointers, secretPointer{target: target, path: path})
	}
	slices.SortFunc(pointers, func(a, b secretPointer) int { return strings.Compare(a.target, b.target) })
	return pointers
}

// resolveSSMParams fetches every pointer in one batch and exports the values
// so envconfig picks them up. A target set directly in the environment wins.
func resolveSSMParams(provider SecretProvider, deps loaderDeps) error {
	pointers := findSecretPointers(deps)
	if len(pointers) == 0 {
		return nil
	}

	targets := make([]string, len(pointers))
	paths := make([]string, len(pointers))
	for i, p := range pointers {
		targets[i] = p.target
		paths[i] = p.path
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "a SecretProvider is required outside local (unresolved: " + strings.Join(targets, ", ") + ")",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ssmResolveTimeout)
	defer cancel()

	values, err := provider.GetParametersBatch(ctx, paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: fmt.Sprintf("failed to resolve %d SSM parameters", len(paths)),
			Err:     err,
		}
	}

	var missing []string
	for _, p := range pointers {
		value, found := values[p.path]
		if !found {
			missing = append(missing, p.target)
			continue
		}
		if err := deps.setEnv(p.target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: "failed to export resolved " + p.target,
				Err:     err,
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters not found for: " + strings.Join(missing, ", "),
		}
	}
	return nil
}
