package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/conductorone/baton-session-auth/pkg/auth"
	"github.com/conductorone/baton-session-auth/pkg/config"
	"github.com/conductorone/baton-session-auth/pkg/identity"
	"github.com/conductorone/baton-session-auth/pkg/retry"
	"github.com/conductorone/baton-session-auth/pkg/ugrpc"
)

func whoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Ask a running server which user a session token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, v, err := config.Load(cmd)
			if err != nil {
				return err
			}

			target, err := ugrpc.Target(v.GetString("address"))
			if err != nil {
				return err
			}

			useTLS := v.GetBool("tls")
			var dialOpts []grpc.DialOption
			if useTLS {
				dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
			} else {
				dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), v.GetDuration("timeout"))
			defer cancel()

			var callOpts []grpc.CallOption
			switch {
			case v.GetString("header") != "":
				ctx = metadata.AppendToOutgoingContext(ctx, auth.AuthorizationHeader, v.GetString("header"))
			case v.GetString("token") != "":
				callOpts = append(callOpts, grpc.PerRPCCredentials(
					ugrpc.NewSessionCredentialProvider(v.GetString("scheme"), v.GetString("token"), useTLS),
				))
			default:
				return errNoHeader
			}

			cc, err := grpc.NewClient(target, dialOpts...)
			if err != nil {
				return err
			}
			defer cc.Close()

			client := identity.NewIdentityServiceClient(cc)
			retries := v.GetUint("retries")
			retryer := retry.NewRetryer(ctx, retry.RetryConfig{
				MaxAttempts:  retries,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			})

			var resp *wrapperspb.StringValue
			for {
				resp, err = client.WhoAmI(ctx, &emptypb.Empty{}, callOpts...)
				if err == nil || retries == 0 || !retryer.ShouldWaitAndRetry(ctx, err) {
					break
				}
			}
			if err != nil {
				if reason := ugrpc.ReasonFromError(err); reason != auth.ReasonUnknown {
					fmt.Fprintln(cmd.ErrOrStderr(), reason)
				}
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.GetValue())
			return nil
		},
	}

	cmd.Flags().String("address", "127.0.0.1:9090", "Address of the server")
	cmd.Flags().StringP("header", "H", "", "Send this authorization header value as is")
	cmd.Flags().String("token", "", "Session token to send with --scheme")
	cmd.Flags().String("scheme", "Bearer", "Authorization scheme used with --token")
	cmd.Flags().Bool("tls", false, "Connect using TLS")
	cmd.Flags().Duration("timeout", 10*time.Second, "Timeout for the call, including retries")
	cmd.Flags().Uint("retries", 3, "Retries while the server is unavailable, 0 disables retrying")

	return cmd
}
