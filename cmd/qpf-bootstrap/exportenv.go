package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// ExportEnvFile writes a .env file for m's environment. Secrets stay in SSM:
// the file only carries APP_ENV and an _SSM_PARAM pointer for every
// parameter that exists.
func ExportEnvFile(ctx context.Context, m *SSMManager, path string) error {
	env := map[string]string{"APP_ENV": m.env}

	for _, step := range Inventory() {
		ssmPath := m.SSMPath(step.Key)
		exists, err := m.ParameterExists(ctx, ssmPath)
		if err != nil {
			return err
		}
		if exists {
			env[step.EnvVar+"_SSM_PARAM"] = ssmPath
		}
	}

	if err := godotenv.Write(env, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, 0o600)
}
