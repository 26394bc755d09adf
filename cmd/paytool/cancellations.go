package main

import (
	"context"
	"fmt"
	"io"

	"github.com/ManuelReschke/PayProxy/internal/pkg/mail"
	"github.com/ManuelReschke/PayProxy/internal/pkg/payments"
	"github.com/spf13/cobra"
)

type pendingLister interface {
	PendingCancellations(ctx context.Context) ([]payments.PendingCancellation, error)
}

type mailSender interface {
	Send(to []string, subject, body string) error
}

func cancellationsCmd() *cobra.Command {
	var tier string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cancellations",
		Short: "Email admins the cancellation requests still to be carried out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, _, err := connect(cfg)
			if err != nil {
				return err
			}
			links := mail.AdminLinks{
				SearchURL:            svc.Processor().SubscriptionSearchURL(),
				PermaURL:             cfg.Platform.URL,
				IndividualDetailPath: cfg.Platform.IndividualDetailPath,
				RegistrarDetailPath:  cfg.Platform.RegistrarDetailPath,
				RegistrarUsersPath:   cfg.Platform.RegistrarUsersPath,
			}
			report, err := buildCancellationReport(cmd.Context(), svc, links, tier)
			if err != nil {
				return err
			}
			if dryRun {
				return printReport(cmd.OutOrStdout(), report)
			}
			mailer := mail.NewSMTPMailer(cfg.Mail)
			return sendReport(mailer, mailer.AdminRecipients(), report, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "dev", "environment named in the report")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the report instead of emailing it")
	return cmd
}

func buildCancellationReport(ctx context.Context, lister pendingLister, links mail.AdminLinks, tier string) (mail.CancellationReport, error) {
	pending, err := lister.PendingCancellations(ctx)
	if err != nil {
		return mail.CancellationReport{}, fmt.Errorf("list pending cancellations: %w", err)
	}
	report := mail.CancellationReport{AdminLinks: links, Tier: tier}
	for _, p := range pending {
		report.Requests = append(report.Requests, mail.PendingRequest{
			CustomerPK:              p.CustomerPK,
			CustomerType:            p.CustomerType,
			MerchantReferenceNumber: p.MerchantReferenceNumber,
			Status:                  p.Status,
		})
	}
	return report, nil
}

func printReport(w io.Writer, report mail.CancellationReport) error {
	subject, body, err := mail.RenderCancellationReport(report)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Subject: %s\n\n%s", subject, body)
	return err
}

func sendReport(sender mailSender, recipients []string, report mail.CancellationReport, w io.Writer) error {
	subject, body, err := mail.RenderCancellationReport(report)
	if err != nil {
		return err
	}
	if err := sender.Send(recipients, subject, body); err != nil {
		return fmt.Errorf("send cancellation report: %w", err)
	}
	_, err = fmt.Fprintf(w, "Sent %q to %d recipient(s)\n", subject, len(recipients))
	return err
}
