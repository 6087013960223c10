// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mobiletoly/go-offlinepos/remote"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:          "token <user-id>",
		Short:        "Mint a development JWT for a user",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.config.JWTSecret == "" {
				return fmt.Errorf("jwt_secret is not configured")
			}
			tok, err := remote.NewJWTAuth(opts.config.JWTSecret).GenerateToken(args[0], email, ttl)
			if err != nil {
				return err
			}
			p := &printer{format: opts.Format, w: cmd.OutOrStdout()}
			return p.result(map[string]string{"token": tok}, func(w io.Writer) { fmt.Fprintln(w, tok) })
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
