package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newWarmCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Warm every eligible link in the document once and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			summary, warmErr := appInstance.Warm(ctx)
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := appInstance.Close(closeCtx); err != nil {
				return fmt.Errorf("close: %w", err)
			}
			if warmErr != nil {
				return fmt.Errorf("warm: %w", warmErr)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long (0 waits forever)")
	cmd.Flags().String("file", "", "HTML file to warm links from")
	cmd.Flags().String("base-url", "", "URL the document is served from")
	return cmd
}
