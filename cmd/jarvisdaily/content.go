package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"jarvisdaily/internal/content"
	"jarvisdaily/internal/domain"

	"github.com/spf13/cobra"
)

func contentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Inspect and seed content bundles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [phone]",
		Short: "Show the bundle a recipient would receive right now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			resolver := content.NewResolver(content.ResolverConfig{
				Store:       b.contentStore,
				Directory:   b.directory,
				CountryCode: cfg.Content.DefaultCountryCode,
				Logger:      logger,
			})
			bundle, err := resolver.Resolve(ctx, args[0])
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Printf("No content for %s; the fallback message would be sent:\n\n%s\n", args[0], cfg.Delivery.FallbackText)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Printf("Advisor:  %s\n", bundle.AdvisorID)
			fmt.Printf("Date:     %s\n", bundle.SessionDate)
			fmt.Printf("Created:  %s\n", bundle.CreatedAt.Format(time.RFC3339))
			if bundle.ImageRef != "" {
				fmt.Printf("Image:    %s\n", bundle.ImageRef)
			}
			fmt.Printf("\n%s\n", bundle.TextMessage)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "put [phone] [date] [text] [image-ref]",
		Short: "Store a bundle in the local SQLite content table",
		Long: `Stores a bundle keyed by the recipient's canonical phone number. Only used when
content.source is sqlite; the date is YYYY-MM-DD and the image reference is an
https URL or an uploaded media id.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Content.Source != "sqlite" {
				return fmt.Errorf("content.source is %s; bundles are managed there", cfg.Content.Source)
			}
			phone, err := content.CanonicalPhone(args[0], cfg.Content.DefaultCountryCode)
			if err != nil {
				return err
			}
			bundle := domain.ContentBundle{
				AdvisorID:   phone,
				SessionDate: args[1],
				TextMessage: args[2],
			}
			if len(args) == 4 {
				bundle.ImageRef = args[3]
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			if err := b.sqlite.PutBundle(ctx, bundle); err != nil {
				return err
			}
			logger.Info("bundle stored", "advisor", phone, "date", bundle.SessionDate)
			return nil
		},
	})

	return cmd
}

func attemptsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "attempts [event-id]",
		Short: "Show delivery attempts for an event, or recent failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "sqlite" {
				return fmt.Errorf("attempts are only recorded with storage.driver sqlite")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			b, err := openBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer b.close()

			var attempts []domain.DeliveryAttempt
			if len(args) == 1 {
				attempts, err = b.sqlite.Attempts(ctx, args[0])
			} else {
				attempts, err = b.sqlite.RecentFailures(ctx, limit)
			}
			if err != nil {
				return err
			}
			if len(attempts) == 0 {
				fmt.Println("No attempts found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "EVENT\tSEQ\tRECIPIENT\tSTATUS\tTRIES\tUPDATED\tERROR")
			for _, a := range attempts {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\t%s\n",
					a.EventID, a.SequenceIndex, a.RecipientID, a.Status, a.AttemptCount,
					a.UpdatedAt.Local().Format("2006-01-02 15:04:05"), a.LastError)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of recent failures to list")
	return cmd
}
