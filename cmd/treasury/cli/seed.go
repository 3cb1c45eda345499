package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/commonwealth-builders/treasury/internal/bootstrap"
)

// SeedRunner applies installation data.
type SeedRunner func(ctx context.Context, seed bootstrap.Seed) (bootstrap.Result, error)

// SeedOptions defines the flags of `seed`.
type SeedOptions struct {
	File       string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SeedCommand loads the seed file and applies it with run.
func SeedCommand(ctx context.Context, run SeedRunner, opts SeedOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	seed, err := bootstrap.Load(opts.File)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	res, err := run(ctx, seed)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "seed: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(stderr, "seed: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "roles created: %d\nusers created: %d\nskipped: %d\n", res.RolesCreated, res.UsersCreated, len(res.Skipped))
	return 0
}
