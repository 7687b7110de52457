package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/grnvsctl/internal/journal"
	"github.com/danmuck/grnvsctl/internal/logging"
	"github.com/danmuck/grnvsctl/internal/transfer"
)

func main() {
	logging.ConfigureRuntime()

	rootCmd := &cobra.Command{
		Use:          "grnvsctl",
		Short:        "Client for the GRNVS transfer protocol",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		sendCmd(),
		historyCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// sendCmd
// ---------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var (
		port        int
		message     string
		file        string
		configPath  string
		journalPath string
		noJournal   bool
	)

	cmd := &cobra.Command{
		Use:   "send NICK DESTINATION",
		Short: "Transfer one message to a GRNVS server",
		Long: "Runs one full session against the server at DESTINATION (an IPv6\n" +
			"address): control handshake, data channel call-back, message push,\n" +
			"delivery confirmation. The message comes from --message or, taking\n" +
			"precedence, the full contents of --file.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			nick := args[0]
			dest, err := netip.ParseAddr(args[1])
			if err != nil {
				return fmt.Errorf("destination %q: %w", args[1], err)
			}
			payload, err := resolvePayload(message, file)
			if err != nil {
				return err
			}

			cc, err := loadClientConfig(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cc.Transfer.Port = port
			}
			if journalPath != "" {
				cc.Journal = journalPath
			}

			sess, err := transfer.New(cc.Transfer, nick, dest, payload)
			if err != nil {
				return err
			}
			rec, runErr := sess.Run(cmd.Context())
			if !noJournal {
				recordRun(cc.Journal, rec)
			}
			if runErr != nil {
				return runErr
			}

			fmt.Printf("delivered %d bytes in %s; data token %q\n",
				rec.Bytes, rec.Duration.Round(time.Millisecond), rec.DataToken)
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", transfer.DefaultPort, "the port the client should connect to")
	cmd.Flags().StringVarP(&message, "message", "m", "", "the message to send, spaces might need to be quoted in the shell")
	cmd.Flags().StringVarP(&file, "file", "f", "", "a file to use as message, -m will be ignored")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML config file (default "+defaultConfigPath()+")")
	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database path (default "+defaultJournalPath()+")")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "do not record this transfer in the journal")

	return cmd
}

// resolvePayload picks the message source: a file wins over --message, and
// one of the two must be given. A file may legally be empty.
func resolvePayload(message, file string) ([]byte, error) {
	if file != "" {
		payload, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read message file: %w", err)
		}
		return payload, nil
	}
	if message != "" {
		return []byte(message), nil
	}
	return nil, errors.New("-m <message> or -f <file> must be given")
}

// recordRun journals one receipt, success or failure. Journaling is
// best-effort: a journal problem must not turn a delivered transfer into a
// failed command. An empty path disables the journal.
func recordRun(path string, rec transfer.Receipt) {
	if path == "" {
		return
	}
	store, err := journal.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("journal unavailable")
		return
	}
	defer store.Close()

	e := journal.Entry{
		ID:          rec.ID.String(),
		StartedAt:   rec.StartedAt,
		Nick:        rec.Nick,
		Destination: rec.Destination.String(),
		Port:        rec.Port,
		Bytes:       rec.Bytes,
		Duration:    rec.Duration,
		Outcome:     rec.Outcome,
		Error:       rec.Err,
		DataToken:   rec.DataToken,
	}
	if err := store.Record(context.Background(), e); err != nil {
		log.Warn().Err(err).Msg("journal write failed")
	}
}

// ---------------------------------------------------------------------------
// historyCmd
// ---------------------------------------------------------------------------

func historyCmd() *cobra.Command {
	var (
		limit       int
		journalPath string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transfers from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if journalPath == "" {
				journalPath = defaultJournalPath()
			}
			store, err := journal.Open(journalPath)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no transfers recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tNICK\tDESTINATION\tBYTES\tTOOK\tOUTCOME\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					e.StartedAt.Local().Format(time.DateTime),
					e.Nick,
					net.JoinHostPort(e.Destination, strconv.Itoa(e.Port)),
					e.Bytes,
					e.Duration.Round(time.Millisecond),
					e.Outcome,
					e.Error,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries to print")
	cmd.Flags().StringVar(&journalPath, "journal", "", "journal database path (default "+defaultJournalPath()+")")

	return cmd
}

// ---------------------------------------------------------------------------
// configCmd
// ---------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the grnvsctl config file",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = defaultConfigPath()
			}
			if err := writeConfigTemplate(path, force); err != nil {
				return err
			}
			fmt.Printf("wrote config template to %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "config file location (default "+defaultConfigPath()+")")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func configValidateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a config file parses and its values are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = defaultConfigPath()
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}
			cc, err := loadClientConfig(path)
			if err != nil {
				return err
			}
			if err := cc.Transfer.WithDefaults().Validate(); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "config file location (default "+defaultConfigPath()+")")

	return cmd
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "grnvsctl")
	}
	return filepath.Join(home, ".grnvsctl")
}

func defaultConfigPath() string { return filepath.Join(dataDir(), "config.toml") }

func defaultJournalPath() string { return filepath.Join(dataDir(), "journal.db") }
