package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ivankudzin/creditpay/internal/domain/rules"
	"github.com/ivankudzin/creditpay/internal/jobs/ledgerexport"
	"github.com/ivankudzin/creditpay/internal/jobs/sweep"
	adjsvc "github.com/ivankudzin/creditpay/internal/services/adjustments"
	authsvc "github.com/ivankudzin/creditpay/internal/services/auth"
	"github.com/ivankudzin/creditpay/internal/services/notifyauth"
)

func sweepCmd() *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Apply credits for succeeded payments that have no ledger line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, closeFn, err := openPlatform(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := sweep.New(p.Engine, batch, p.Logger).Run(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d repaired=%d skipped=%d\n", result.Checked, result.Repaired, result.Skipped)
			return err
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 100, "Payments per sweep batch")
	return cmd
}

func exportCmd() *cobra.Command {
	var day string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export one UTC day of ledger lines to object storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := time.Now().UTC().AddDate(0, 0, -1)
			if strings.TrimSpace(day) != "" {
				parsed, err := rules.ParseDay(day)
				if err != nil {
					return err
				}
				target = parsed
			}

			p, closeFn, err := openPlatform(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			archive, err := p.Archive()
			if err != nil {
				return err
			}
			result, err := ledgerexport.New(p.Ledger, archive, p.Config.Worker.ExportPrefix, p.Logger).ExportDay(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key=%s lines=%d\n", result.Key, result.Lines)
			return nil
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "Day to export (YYYY-MM-DD, default yesterday)")
	return cmd
}

func balanceCmd() *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a user's credit balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, closeFn, err := openPlatform(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			svc := adjsvc.NewService(adjsvc.Dependencies{Balances: p.Balances, Logger: p.Logger})
			balance, err := svc.Balance(cmd.Context(), userID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user=%d credits=%d\n", balance.UserID, balance.Credits)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func adjustCmd() *cobra.Command {
	var (
		userID int64
		delta  int64
		actor  string
		reason string
	)
	cmd := &cobra.Command{
		Use:   "adjust",
		Short: "Apply a signed credit adjustment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, closeFn, err := openPlatform(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			svc := adjsvc.NewService(adjsvc.Dependencies{
				Balances:     p.Balances,
				Publisher:    p.Publisher,
				MaxMagnitude: p.Config.Adjustments.MaxMagnitude,
				Logger:       p.Logger,
			})
			adjustment, err := svc.Adjust(cmd.Context(), adjsvc.AdjustInput{
				UserID: userID,
				Delta:  delta,
				Actor:  "cli:" + actor,
				Reason: reason,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "adjustment=%d user=%d new_balance=%d\n", adjustment.ID, adjustment.UserID, adjustment.BalanceAfter)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().Int64Var(&delta, "delta", 0, "Signed credit delta")
	cmd.Flags().StringVar(&actor, "actor", "", "Operator name recorded in the audit trail")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit trail")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("delta")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID int64
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			token, expiresAt, err := authsvc.NewJWTManager(cfg.Auth.JWTSecret, ttl).GenerateAccessToken(userID, uuid.NewString(), role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "User id")
	cmd.Flags().StringVar(&role, "role", authsvc.RoleUser, "Role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 15*time.Minute, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func signCmd() *cobra.Command {
	var (
		method    string
		path      string
		nonce     string
		algorithm string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print a digest Authorization header for a test notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if nonce == "" {
				nonce = uuid.NewString()
			}
			response, err := notifyauth.Digest(algorithm, cfg.Notifications.Identity, cfg.Notifications.Realm, cfg.Notifications.Secret, method, path, nonce)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), notifyauth.Header(notifyauth.Challenge{
				Identity:  cfg.Notifications.Identity,
				Realm:     cfg.Notifications.Realm,
				Nonce:     nonce,
				URI:       path,
				Response:  response,
				Algorithm: algorithm,
			}))
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", "POST", "HTTP method")
	cmd.Flags().StringVar(&path, "path", "/v1/payments/notifications", "Request path")
	cmd.Flags().StringVar(&nonce, "nonce", "", "Nonce (random when empty)")
	cmd.Flags().StringVar(&algorithm, "algorithm", notifyauth.AlgorithmMD5, "MD5 or SHA-256")
	return cmd
}
