package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
)

// SecretStep is one secret the alert job can resolve from SSM.
type SecretStep struct {
	// EnvVar is the config variable the secret populates.
	EnvVar string
	// Key is the path below /{env}/qpfwatch/.
	Key      string
	Prompt   string
	Validate func(string) error
}

// Inventory lists every secret qpfwatch reads through an _SSM_PARAM pointer.
func Inventory() []SecretStep {
	return []SecretStep{
		{
			EnvVar:   "DATABASE_URL",
			Key:      "state/database_url",
			Prompt:   "Postgres DSN for the postgres state backend (empty to skip): ",
			Validate: validateDatabaseURL,
		},
		{
			EnvVar: "FEED_FTP_PASSWORD",
			Key:    "mirror/ftp_password",
			Prompt: "FTP mirror password (empty to skip): ",
		},
	}
}

func validateDatabaseURL(raw string) error {
	if !strings.HasPrefix(raw, "postgres://") && !strings.HasPrefix(raw, "postgresql://") {
		return errors.New("must start with postgres:// or postgresql://")
	}
	if _, err := pgx.ParseConfig(raw); err != nil {
		return fmt.Errorf("unparseable DSN: %w", err)
	}
	return nil
}

// StepStatus is the outcome of a single SecretStep.
type StepStatus string

const (
	StepWritten StepStatus = "written"
	StepExists  StepStatus = "exists"
	StepSkipped StepStatus = "skipped"
)

// Seeder walks the inventory and writes each secret the operator provides.
type Seeder struct {
	ssm       *SSMManager
	input     *bufio.Scanner
	out       io.Writer
	overwrite bool
	steps     []SecretStep
}

// NewSeeder creates a Seeder over the default inventory.
func NewSeeder(m *SSMManager, input *bufio.Scanner, out io.Writer, overwrite bool) *Seeder {
	return &Seeder{ssm: m, input: input, out: out, overwrite: overwrite, steps: Inventory()}
}

// Run processes every step and prints a summary. Invalid input is
// re-prompted until the operator enters a valid value or skips.
func (s *Seeder) Run(ctx context.Context) error {
	results := make(map[string]StepStatus, len(s.steps))
	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := s.process(ctx, step)
		if err != nil {
			return fmt.Errorf("%s: %w", step.EnvVar, err)
		}
		results[step.EnvVar] = status
	}

	fmt.Fprintln(s.out)
	for _, step := range s.steps {
		fmt.Fprintf(s.out, "  %-18s %-8s %s\n", step.EnvVar, results[step.EnvVar], s.ssm.SSMPath(step.Key))
	}
	return nil
}

func (s *Seeder) process(ctx context.Context, step SecretStep) (StepStatus, error) {
	path := s.ssm.SSMPath(step.Key)

	exists, err := s.ssm.ParameterExists(ctx, path)
	if err != nil {
		return "", err
	}
	if exists && !s.overwrite {
		return StepExists, nil
	}

	for {
		fmt.Fprint(s.out, step.Prompt)
		if !s.input.Scan() {
			if err := s.input.Err(); err != nil {
				return "", fmt.Errorf("reading input: %w", err)
			}
			return StepSkipped, nil
		}

		value := strings.TrimSpace(s.input.Text())
		if value == "" {
			return StepSkipped, nil
		}
		if step.Validate != nil {
			if err := step.Validate(value); err != nil {
				fmt.Fprintf(s.out, "  invalid: %v\n", err)
				continue
			}
		}

		if err := s.ssm.PutSecret(ctx, path, value, exists); err != nil {
			return "", err
		}
		return StepWritten, nil
	}
}
