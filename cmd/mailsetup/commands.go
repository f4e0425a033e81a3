package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mailsetup/internal/account"
	"github.com/nhle/mailsetup/internal/credential"
	"github.com/nhle/mailsetup/internal/discovery"
	"github.com/nhle/mailsetup/internal/logging"
	"github.com/nhle/mailsetup/internal/model"
	"github.com/nhle/mailsetup/internal/push"
	"github.com/nhle/mailsetup/internal/server"
	"github.com/nhle/mailsetup/internal/setup"
	"github.com/nhle/mailsetup/internal/source/email"
	"github.com/nhle/mailsetup/internal/store"
	"github.com/nhle/mailsetup/internal/ui/wizard"
)

// Global flags
var (
	configPath string
	logLevel   string
	logFile    string
	userFlag   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", model.DefaultConfigPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().StringVar(&userFlag, "user", "", "User the accounts belong to (default: current OS user)")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(configCmd)
}

// app holds the shared collaborators of every command.
type app struct {
	cfg      *model.AppConfig
	logger   *zap.Logger
	store    *store.SQLiteStore
	creator  *account.Creator
	discover *discovery.Service
	tester   *email.Tester
}

func openApp() (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := logLevel
	if level == "" {
		level = cfg.Log.Level
	}
	var paths []string
	if logFile != "" {
		paths = []string{logFile}
	}
	if err := logging.Initialize(level, paths...); err != nil {
		return nil, err
	}
	logger := logging.GetLogger()

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	creds, err := credential.Open(model.DefaultCredentialDir())
	if err != nil {
		st.Close()
		return nil, err
	}

	opts := discovery.OptionsFromConfig(cfg.Discovery)
	opts.Cache = st
	opts.Logger = logger.Named("discovery")

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		creator:  account.NewCreator(st, creds, logger.Named("account")),
		discover: discovery.NewService(opts),
		tester:   email.NewTester(cfg.Connection.Timeout(), email.WithLogger(logger.Named("imap"))),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
}

// setupOptions is the workflow template shared by the wizard and the server.
func (a *app) setupOptions() setup.Options {
	return setup.Options{
		Discoverer:      a.discover,
		Tester:          a.tester,
		Creator:         a.creator,
		DiscoverTimeout: a.cfg.Discovery.Timeout(),
		TestTimeout:     a.cfg.Connection.Timeout(),
		Logger:          a.logger.Named("setup"),
	}
}

func currentUser() string {
	if userFlag != "" {
		return userFlag
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a mail account with the interactive wizard",
	RunE:  runAdd,
}

func runAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n := wizard.NewNotifier()
	opts := a.setupOptions()
	opts.UserID = currentUser()
	opts.OnChange = n.OnChange

	wf := setup.NewWorkflow(opts)
	defer wf.Close()

	acc, err := wizard.Run(cmd.Context(), wf, n)
	if errors.Is(err, wizard.ErrCancelled) {
		fmt.Println("No account was added.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("running wizard: %w", err)
	}

	fmt.Printf("Added %s (%s) on %s\n", acc.Name, acc.FromHeader(), acc.Server.ProtocolURL)
	return nil
}

// --- serve ---

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the setup HTTP API",
	Long: `Run the HTTP API used by graphical front ends.

The caller's identity is taken from the X-User-ID header, which an
authenticating proxy in front of this server is expected to set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	srv := server.New(server.Config{
		Addr:            addr,
		Setup:           a.setupOptions(),
		Accounts:        a.store,
		Remover:         a.creator,
		Hub:             push.NewHub(a.logger.Named("push")),
		EventsPerMinute: a.cfg.RateLimit.EventsPerMinute,
		Burst:           a.cfg.RateLimit.Burst,
		Logger:          a.logger.Named("http"),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	fmt.Printf("Listening on %s\n", addr)

	select {
	case err := <-errCh:
		srv.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// --- accounts ---

var jsonOutput bool

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List configured accounts",
	RunE:  runAccounts,
}

var accountsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an account and its stored password",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsDelete,
}

var accountsTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Sign in to an account's server with its saved password",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountsTest,
}

func init() {
	accountsCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print accounts as JSON")
	accountsCmd.AddCommand(accountsDeleteCmd)
	accountsCmd.AddCommand(accountsTestCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.store.GetAccounts(cmd.Context(), store.AccountFilter{UserID: currentUser()})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(accounts)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts configured. Run 'mailsetup add' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFROM\tSERVER\tFOUND VIA")
	for _, acc := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			acc.ID, acc.Name, acc.FromHeader(), acc.Server.ProtocolURL, acc.Server.DiscoveryMethod)
	}
	return w.Flush()
}

func runAccountsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.creator.Delete(cmd.Context(), currentUser(), args[0]); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no account with id %s", args[0])
		}
		return err
	}
	fmt.Printf("Deleted account %s\n", args[0])
	return nil
}

func runAccountsTest(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Connection.Timeout())
	defer cancel()

	res, err := a.creator.Verify(ctx, a.tester, currentUser(), args[0])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no account with id %s", args[0])
		}
		return err
	}
	if !res.Success {
		return fmt.Errorf("connection failed: %s", res.Message)
	}
	fmt.Println(res.Message)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current settings to the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := model.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if err := model.SaveConfig(configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", configPath)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
}
