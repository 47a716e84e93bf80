package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/metadata"

	"github.com/conductorone/baton-session-auth/pkg/auth"
	"github.com/conductorone/baton-session-auth/pkg/config"
)

var errNoHeader = errors.New("no authorization header given")

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an authorization header value offline and print the user id",
		Long: `Verify checks an authorization header value such as "Bearer <token>" against
the configured public key. The value is read from --header, or from the first
line of stdin when the flag is empty. The user id is printed on success; on
failure the reason is printed and the command exits non-zero.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := config.Load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			header := v.GetString("header")
			if header == "" {
				header, err = readLine(cmd)
				if err != nil {
					return err
				}
			}

			verifier, err := auth.NewVerifier(string(cfg.PublicKey), auth.WithLeeway(cfg.Leeway))
			if err != nil {
				return err
			}
			var opts []auth.ExtractorOption
			if cfg.RequiredScheme != "" {
				opts = append(opts, auth.WithRequiredScheme(cfg.RequiredScheme))
			}

			user, err := auth.NewExtractor(verifier, opts...).ExtractUser(metadata.Pairs(auth.AuthorizationHeader, header))
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), auth.Reason(err))
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), user.String())
			return nil
		},
	}

	cmd.Flags().StringP("header", "H", "", "The authorization header value, e.g. \"Bearer <token>\"")

	return cmd
}

func readLine(cmd *cobra.Command) (string, error) {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", errNoHeader
	}
	return strings.TrimRight(scanner.Text(), "\r\n"), nil
}
