package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"pasta/chat/internal/config"
	"pasta/chat/internal/logging"
	"pasta/chat/internal/storage"

	"github.com/spf13/cobra"
)

var (
	configPath string
	backend    string
	limit      int
	yes        bool
)

var rootCmd = &cobra.Command{
	Use:   "pasta-admin",
	Short: "Administer PASTA message collections",
	Long: `Operator tool for the message store behind the chatbots.

Collections are addressed by user ID and collection name (messages, financialMessages,
fitnessMessages). Works against the sql and firestore backends.`,
	SilenceUsage: true,
}

var historyCmd = &cobra.Command{
	Use:   "history <uid> <collection>",
	Short: "Print the most recent turns of a collection, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE:  runHistory,
}

var purgeCmd = &cobra.Command{
	Use:   "purge <uid> <collection>",
	Short: "Delete every turn of a collection",
	Args:  cobra.ExactArgs(2),
	RunE:  runPurge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("PASTA_CONFIG"), "Path to config.yaml")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Store backend: sql or firestore (default: store.backend)")
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of turns (default: chat.history_limit)")
	purgeCmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (storage.Store, *config.Config, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, true); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	store, closeFn, err := storage.NewStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, nil, err
	}
	return store, cfg, closeFn, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, cfg, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n := limit
	if n <= 0 {
		n = cfg.Chat.HistoryLimit
	}
	stored, err := store.RecentMessages(ctx, storage.Query{UserID: args[0], Collection: args[1], Limit: n})
	if err != nil {
		return err
	}
	if len(stored) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No messages.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tSENDER\tEPISODE\tCONTENT")
	for _, msg := range storage.ToTranscript(stored) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			msg.ID, msg.CreatedAt.Local().Format(time.DateTime), msg.Role, msg.RLEpisodeID, oneLine(msg.Text(), 60))
	}
	return w.Flush()
}

func runPurge(cmd *cobra.Command, args []string) error {
	uid, collection := args[0], args[1]
	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete every message in %s for user %s? [y/N] ", collection, uid)
		var answer string
		_, _ = fmt.Fscanln(cmd.InOrStdin(), &answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
			return nil
		}
	}

	ctx := cmd.Context()
	store, _, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	n, err := store.Purge(ctx, uid, collection)
	if err != nil {
		return err
	}
	logging.Infow("collection purged", "uid", uid, "collection", collection, "deleted", n)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d messages from %s for user %s.\n", n, collection, uid)
	return nil
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return s
}
