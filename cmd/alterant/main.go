package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
	_ "modernc.org/sqlite"

	"github.com/verran-io/alterant"
	"github.com/verran-io/alterant/change"
	"github.com/verran-io/alterant/config"
	"github.com/verran-io/alterant/driver"
	"github.com/verran-io/alterant/driver/mysql"
	"github.com/verran-io/alterant/driver/sqlite"
	"github.com/verran-io/alterant/passwd"
	"github.com/verran-io/alterant/plan"
	"github.com/verran-io/alterant/purge"
	"github.com/verran-io/alterant/report"
)

var (
	configPath string
	verbose    bool
	assumeYes  bool
	password   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "alterant",
	Short: "Idempotent schema changes and admin chores for the survey database",
	Long: `alterant applies additive schema changes from a YAML plan. Every
change carries its own presence check, so a plan can be re-run at any
time: whatever is already in place is skipped, whatever is missing is
applied in its own transaction, and the run stops at the first failure.

It also bundles the recurring admin chores around the same database:
preserve-list bulk deletion, activity reporting and password resets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which plan changes are pending without applying anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, changes, err := loadConfigAndPlan()
		if err != nil {
			return err
		}

		conn, drv, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		result, err := alterant.New(changes, drv, alterant.WithLogger(logger)).Validate(cmd.Context())
		if err != nil {
			return err
		}

		for _, chg := range result.Changes {
			marker := "pending"
			if chg.Status == change.Skipped {
				marker = "satisfied"
			}
			fmt.Printf("%-10s %s\n", marker, chg.Name)
		}
		fmt.Printf("\n%d pending, %d satisfied\n", result.PendingCount, result.SatisfiedCount)
		return nil
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply all pending plan changes, fail-fast",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, changes, err := loadConfigAndPlan()
		if err != nil {
			return err
		}

		conn, drv, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		runReport, err := alterant.New(changes, drv, alterant.WithLogger(logger)).Apply(cmd.Context())
		if runReport != nil {
			fmt.Printf("%d applied, %d skipped\n", runReport.AppliedCount, runReport.SkippedCount)
		}
		if err != nil {
			return fmt.Errorf("run incomplete: %w", err)
		}

		fmt.Println("all changes are in place")
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete all rows outside the configured preserve lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}

		if !assumeYes {
			tables := make([]string, 0, len(cfg.Purge))
			for _, target := range cfg.Purge {
				tables = append(tables, target.Table)
			}
			if !confirm(fmt.Sprintf("About to purge tables: %s. Proceed?", strings.Join(tables, ", "))) {
				fmt.Println("purge cancelled")
				return nil
			}
		}

		conn, _, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		summary, err := purge.Run(cmd.Context(), conn, cfg.Purge,
			purge.WithProgress(os.Stderr),
			purge.WithLogger(logger))
		if summary != nil {
			for table, count := range summary.Deleted {
				fmt.Printf("%s: %d rows deleted\n", table, count)
			}
		}
		return err
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print survey activity per user and overall completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}

		conn, _, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		counts, err := report.ResponseCounts(cmd.Context(), conn, cfg.Report)
		if err != nil {
			return err
		}
		for _, activity := range counts {
			fmt.Printf("%-30s %d\n", activity.UserID, activity.Responses)
		}

		summary, err := report.Completion(cmd.Context(), conn, cfg.Report)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d users, %d respondents, %d responses\n",
			summary.Users, summary.Respondents, summary.Responses)
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Password maintenance",
}

var passwdResetCmd = &cobra.Command{
	Use:   "reset [user-id]",
	Short: "Reset one user's password",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}

		plaintext, err := readPassword()
		if err != nil {
			return err
		}

		conn, _, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err = passwd.Reset(cmd.Context(), conn, cfg.Passwd, args[0], plaintext); err != nil {
			return err
		}

		fmt.Printf("password reset for %q\n", args[0])
		return nil
	},
}

var passwdFillCmd = &cobra.Command{
	Use:   "fill",
	Short: "Set a fallback password for every user without one",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}

		plaintext, err := readPassword()
		if err != nil {
			return err
		}

		conn, _, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		affected, err := passwd.FillMissing(cmd.Context(), conn, cfg.Passwd, plaintext)
		if err != nil {
			return err
		}

		fmt.Printf("%d passwords set\n", affected)
		return nil
	},
}

// ---

func loadConfigAndPlan() (*config.Config, []change.Change, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	changes, err := plan.LoadFile(cfg.Plan)
	if err != nil {
		return nil, nil, err
	}

	return cfg, changes, nil
}

func openDatabase(cfg *config.Config) (*sql.DB, driver.Driver, error) {
	conn, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to reach database: %w", err)
	}

	var drv driver.Driver
	switch cfg.Database.Driver {
	case config.DriverMysql:
		drv = mysql.NewDriver(conn, mysql.DriverConfig{DatabaseName: cfg.Database.Schema})
	case config.DriverSqlite:
		drv = sqlite.NewDriver(conn)
	}

	return conn, drv, nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s (y/N): ", prompt)
	var input string
	fmt.Scanln(&input)
	return input == "y" || input == "Y"
}

func readPassword() (string, error) {
	if password != "" {
		return password, nil
	}

	fmt.Print("New password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(raw), nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "alterant.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	purgeCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation prompt")
	passwdResetCmd.Flags().StringVar(&password, "password", "", "password to set (prompted when omitted)")
	passwdFillCmd.Flags().StringVar(&password, "password", "", "password to set (prompted when omitted)")

	passwdCmd.AddCommand(passwdResetCmd, passwdFillCmd)
	rootCmd.AddCommand(statusCmd, applyCmd, purgeCmd, reportCmd, passwdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
