package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/logging"
)

// --- Global flags and session ---
var (
	configPath string
	dbPath     string
	username   string
	logLevel   string

	cfg     *config.Config
	logger  *logrus.Logger
	manager *library.LibraryManager
	current *library.User

	rootCmd = &cobra.Command{
		Use:               "library",
		Short:             "Library circulation: catalog, users, loans and fines",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: openSession,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if manager != nil {
				manager.Close()
			}
		},
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and report its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := manager.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Printf("Database %s is at schema version %d\n", cfg.Database.Path, v)
			return nil
		},
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "library.yaml", "path to the YAML config file")
	pf.StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")
	pf.StringVarP(&username, "user", "u", "", "username to act as (defaults to LIBRARY_USER)")
	pf.StringVar(&logLevel, "log-level", "", "log level (overrides config)")

	rootCmd.AddCommand(migrateCmd, booksCmd, usersCmd, loansCmd, finesCmd, reportsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", library.KindOf(err), err)
		os.Exit(1)
	}
}

// openSession loads config, builds the logger, opens the database and makes
// sure an administrator exists.
func openSession(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	manager, err = library.NewLibraryManager(cfg.Database.Path, logger, library.WithPolicy(policy))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if _, err := manager.EnsureDefaultAdmin(cmd.Context(), cfg.AdminInput()); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	return nil
}

// readPassword securely reads a password with masking
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// login authenticates --user once per process. Without the flag the user
// comes from LIBRARY_USER, read after config loading so .env can supply it.
// The password comes from LIBRARY_PASSWORD or a terminal prompt.
func login(ctx context.Context) (library.Caller, error) {
	if current != nil {
		return current.Caller(), nil
	}
	if strings.TrimSpace(username) == "" {
		username = os.Getenv("LIBRARY_USER")
	}
	if strings.TrimSpace(username) == "" {
		return library.Caller{}, fmt.Errorf("%w: --user or LIBRARY_USER is required", library.ErrInvalidInput)
	}
	password, ok := os.LookupEnv("LIBRARY_PASSWORD")
	if !ok {
		var err error
		password, err = readPassword(fmt.Sprintf("Password for %s: ", username))
		if err != nil {
			return library.Caller{}, fmt.Errorf("failed to read password: %w", err)
		}
	}
	u, err := manager.Authenticate(ctx, username, password)
	if err != nil {
		return library.Caller{}, err
	}
	current = u
	return u.Caller(), nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s id %q", library.ErrInvalidInput, what, s)
	}
	return id, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", library.ErrInvalidAmount, s)
	}
	return d, nil
}

func formatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

func money(d decimal.Decimal) string { return d.StringFixed(2) }
