package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"nexumdb/pkg/client"
	"nexumdb/pkg/config"
	"nexumdb/pkg/core"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	configPath string
	dataPath   string
	inMemory   bool
)

var rootCmd = &cobra.Command{
	Use:   "nexum",
	Short: "NexumDB interactive SQL shell",
	Long: "Runs an embedded database by default. With --addr it connects to a\n" +
		"running nexum-server over the binary protocol instead.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, target, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Printf("NexumDB shell (%s)\n", target)
		fmt.Println("Type 'help' for commands. Statements end with ';'.")
		return runShell(newShell(s, os.Stdout))
	},
}

func init() {
	rootCmd.Flags().StringVar(&serverAddr, "addr", "", "connect to a NexumDB TCP server instead of opening a local database")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to config file (embedded mode)")
	rootCmd.Flags().StringVar(&dataPath, "data", "", "data directory (embedded mode, overrides config)")
	rootCmd.Flags().BoolVar(&inMemory, "memory", false, "keep everything in memory (embedded mode)")
}

func openSession() (session, string, error) {
	if serverAddr != "" {
		c, err := client.Dial(serverAddr)
		if err != nil {
			return nil, "", fmt.Errorf("connect %s: %w (is nexum-server running?)", serverAddr, err)
		}
		return &remote{c: c}, "remote " + serverAddr, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if dataPath != "" {
		cfg.Storage.Path = dataPath
	}
	if inMemory {
		cfg.Storage.InMemory = true
	}
	logger, err := cfg.NewLogger(true)
	if err != nil {
		return nil, "", err
	}
	db, err := core.Open(cfg, logger)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	target := "embedded " + cfg.Storage.Path
	if cfg.Storage.InMemory {
		target = "embedded, in-memory"
	}
	return &embedded{db: db}, target, nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nexum_history")
}

func runShell(sh *shell) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(complete)

	hist := historyFile()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(hist); err == nil {
				line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	for {
		input, err := line.Prompt(sh.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				// Ctrl-C drops a half-typed statement
				sh.pending.Reset()
				continue
			}
			if errors.Is(err, io.EOF) {
				sh.flush()
				fmt.Println()
				return nil
			}
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if !sh.handle(input) {
			return nil
		}
	}
}

var completions = []string{
	".tables", ".cache", ".policy", ".save", ".clear", "help", "exit",
	"SELECT ", "INSERT INTO ", "UPDATE ", "DELETE FROM ", "CREATE TABLE ",
	"DROP TABLE ", "DESCRIBE ", "SHOW TABLES;",
}

func complete(input string) []string {
	var out []string
	for _, c := range completions {
		if strings.HasPrefix(strings.ToLower(c), strings.ToLower(input)) {
			out = append(out, c)
		}
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
