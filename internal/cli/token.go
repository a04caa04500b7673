package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/missbott/backend/internal/auth"
)

func tokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a staff API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				subject = cfg.Auth.StaffUsername
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute
			}

			token, err := auth.NewManager(cfg.Auth.JWTSecret, ttl, cfg.Auth.StaffUsername, "").GenerateToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject (defaults to the staff username)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to the configured TTL)")
	return cmd
}

func hashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-password [password]",
		Short:       "Print a bcrypt hash for auth.staffPasswordHash",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("password is required")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password is required")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
