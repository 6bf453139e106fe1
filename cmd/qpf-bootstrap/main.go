// Package main implements the bootstrap CLI for a qpfwatch deployment.
//
// It seeds the secrets the alert job resolves through _SSM_PARAM pointer
// variables (the Postgres DSN and the FTP mirror password) into AWS SSM
// Parameter Store, and can export a .env file holding only the pointers.
//
// Usage:
//
//	go run ./cmd/qpf-bootstrap --env=dev
//	go run ./cmd/qpf-bootstrap --env=dev --export-env
//	go run ./cmd/qpf-bootstrap --env=prod --profile=qpf-prod --region=us-east-1
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

var validEnvironments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// options are the parsed command-line flags.
type options struct {
	env           string
	profile       string
	region        string
	endpointURL   string
	overwrite     bool
	exportEnv     bool
	exportEnvPath string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("qpf-bootstrap", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.env, "env", "", "Target environment (dev/staging/prod) [required]")
	fs.StringVar(&opts.profile, "profile", "", "AWS CLI profile (default: default credential chain)")
	fs.StringVar(&opts.region, "region", "us-east-1", "AWS region")
	fs.StringVar(&opts.endpointURL, "endpoint-url", "", "Override the AWS endpoint (LocalStack)")
	fs.BoolVar(&opts.overwrite, "overwrite", false, "Replace parameters that already exist")
	fs.BoolVar(&opts.exportEnv, "export-env", false, "Write a .env file with the SSM pointer variables")
	fs.StringVar(&opts.exportEnvPath, "export-env-path", ".env", "Path for the exported .env file")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.env == "" {
		fs.Usage()
		return options{}, fmt.Errorf("--env is required")
	}
	if !validEnvironments[opts.env] {
		return options{}, fmt.Errorf("invalid environment %q (must be dev, staging, or prod)", opts.env)
	}
	return opts, nil
}

func run(args []string, stdin io.Reader, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, identity, err := initializeSession(ctx, opts, logger)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	input := bufio.NewScanner(stdin)
	if opts.env == "prod" && !confirmProduction(input, stderr, identity) {
		fmt.Fprintln(stderr, "Aborted. No changes were made.")
		return nil
	}

	manager := NewSSMManager(ssm.NewFromConfig(awsCfg), opts.env, logger)
	seeder := NewSeeder(manager, input, stderr, opts.overwrite)
	if err := seeder.Run(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	if opts.exportEnv {
		if err := ExportEnvFile(ctx, manager, opts.exportEnvPath); err != nil {
			return fmt.Errorf("failed to export .env file: %w", err)
		}
		logger.Info(".env file exported", "path", opts.exportEnvPath)
	}
	return nil
}

// callerIdentity is the STS identity the session runs as.
type callerIdentity struct {
	Account string
	ARN     string
	Region  string
}

// initializeSession loads the AWS config and verifies credentials with STS
// GetCallerIdentity before anything is written.
func initializeSession(ctx context.Context, opts options, logger *slog.Logger) (aws.Config, callerIdentity, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.region))
	}
	if opts.profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(opts.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, callerIdentity{}, fmt.Errorf("loading AWS config: %w", err)
	}
	if opts.endpointURL != "" {
		cfg.BaseEndpoint = aws.String(opts.endpointURL)
	}

	identityCtx, identityCancel := context.WithTimeout(ctx, 10*time.Second)
	defer identityCancel()

	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return aws.Config{}, callerIdentity{}, fmt.Errorf("verifying AWS identity (profile %q, region %q): %w",
			opts.profile, opts.region, err)
	}

	id := callerIdentity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		Region:  opts.region,
	}
	logger.Info("AWS identity verified", "account_id", id.Account, "arn", id.ARN, "region", id.Region)
	return cfg, id, nil
}

// confirmProduction requires the operator to type "yes" before prod writes.
func confirmProduction(input *bufio.Scanner, w io.Writer, id callerIdentity) bool {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  WARNING: You are targeting the PRODUCTION environment")
	fmt.Fprintf(w, "  Account: %s\n", id.Account)
	fmt.Fprintf(w, "  Region:  %s\n", id.Region)
	fmt.Fprintf(w, "  ARN:     %s\n", id.ARN)
	fmt.Fprint(w, "Type 'yes' to continue: ")

	if !input.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(input.Text()), "yes")
}
