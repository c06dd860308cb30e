package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/utils/fsutil"
)

func (a *app) newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage launchpad configuration",
		Long:  "View and check launchpad settings loaded from defaults and LAUNCHPAD_* environment variables",
	}

	cmd.AddCommand(
		a.newConfigShowCommand(),
		a.newConfigPathsCommand(),
		a.newConfigValidateCommand(),
	)

	return cmd
}

func (a *app) newConfigShowCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			switch format {
			case "json":
				_, _ = fmt.Fprintln(a.stdout, cfg.ToJSON())
				return nil
			case "table":
				return displayConfigTable(a.stdout, cfg)
			default:
				return usageError("unknown format %q: use table or json", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func (a *app) newConfigPathsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show all storage paths",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PATH TYPE\tLOCATION\tSTATUS")
			_, _ = fmt.Fprintln(w, "---------\t--------\t------")
			for _, p := range configPaths(cfg) {
				checkPath(w, p.name, p.path)
			}
			return w.Flush()
		},
	}
}

func (a *app) newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Long:  "Check that the configuration is valid and the directories launchpad writes to are writable",
		Args:  noArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			_, _ = fmt.Fprintln(a.stdout, "✓ Configuration is valid")
			_, _ = fmt.Fprintln(a.stdout, "\nChecking directory permissions...")

			problems := 0
			for _, dir := range []struct{ name, path string }{
				{"Data Directory", cfg.DataDir},
				{"Artifact Directory", cfg.Artifacts.WorkDir},
				{"Source Directory", cfg.Artifacts.Sources},
			} {
				if err := checkDirWritable(dir.path); err != nil {
					_, _ = fmt.Fprintf(a.stdout, "✗ %s (%s): %v\n", dir.name, dir.path, err)
					problems++
					continue
				}
				_, _ = fmt.Fprintf(a.stdout, "✓ %s (%s): writable\n", dir.name, dir.path)
			}
			if cfg.Inventory.Path != "" {
				if _, err := os.Stat(cfg.Inventory.Path); err != nil {
					_, _ = fmt.Fprintf(a.stdout, "✗ Inventory (%s): %v\n", cfg.Inventory.Path, err)
					problems++
				} else {
					_, _ = fmt.Fprintf(a.stdout, "✓ Inventory (%s): readable\n", cfg.Inventory.Path)
				}
			}

			if problems > 0 {
				return fmt.Errorf("found %d configuration errors", problems)
			}
			_, _ = fmt.Fprintln(a.stdout, "\n✓ All configuration checks passed")
			return nil
		},
	}
}

type configPath struct {
	name string
	path string
}

func configPaths(cfg *config.ServerConfig) []configPath {
	paths := []configPath{
		{"Data Directory", cfg.DataDir},
		{"Artifact Directory", cfg.Artifacts.WorkDir},
		{"Source Directory", cfg.Artifacts.Sources},
	}
	if cfg.Registry.Type == "sqlite" || cfg.Runs.Type == "sqlite" {
		paths = append(paths, configPath{"Database", cfg.Database})
	}
	if cfg.Inventory.Path != "" {
		paths = append(paths, configPath{"Inventory", cfg.Inventory.Path})
	}
	if !cfg.SSH.Insecure {
		paths = append(paths, configPath{"Known Hosts", cfg.SSH.KnownHosts})
	}
	paths = append(paths,
		configPath{"PID File", cfg.PIDFile},
		configPath{"Daemon Log", filepath.Join(cfg.DataDir, "server.log")},
	)
	return paths
}

func displayConfigTable(w io.Writer, cfg *config.ServerConfig) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SETTING\tVALUE")
	_, _ = fmt.Fprintln(tw, "-------\t-----")

	sanitized := cfg.GetSanitized()
	keys := make([]string, 0, len(sanitized))
	for k := range sanitized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "%s\t%v\n", k, sanitized[k])
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}

	_, _ = fmt.Fprintln(w, "\nEnvironment Variables:")
	printEnvironmentVariables(w, cfg)
	return nil
}

type envVar struct {
	name        string
	description string
}

// printEnvironmentVariables lists every variable declared by an env tag
func printEnvironmentVariables(w io.Writer, cfg *config.ServerConfig) {
	vars := collectEnvVars(reflect.TypeOf(*cfg))

	maxLen := 0
	for _, v := range vars {
		if len(v.name) > maxLen {
			maxLen = len(v.name)
		}
	}
	for _, v := range vars {
		_, _ = fmt.Fprintf(w, "  %-*s - %s\n", maxLen, v.name, v.description)
	}
}

// collectEnvVars walks nested structs collecting env and desc tags
func collectEnvVars(t reflect.Type) []envVar {
	var vars []envVar
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if name := field.Tag.Get("env"); name != "" {
			desc := field.Tag.Get("desc")
			if desc == "" {
				desc = strings.Join(camelCaseToWords(field.Name), " ")
			}
			vars = append(vars, envVar{name: name, description: desc})
		}
		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() == t.PkgPath() {
			vars = append(vars, collectEnvVars(field.Type)...)
		}
	}
	return vars
}

// camelCaseToWords converts CamelCase to space-separated words
func camelCaseToWords(s string) []string {
	var words []string
	var currentWord []rune

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			if len(currentWord) > 0 {
				words = append(words, string(currentWord))
			}
			currentWord = []rune{r}
		} else {
			currentWord = append(currentWord, r)
		}
	}
	if len(currentWord) > 0 {
		words = append(words, string(currentWord))
	}
	return words
}

func checkPath(w io.Writer, name, path string) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintf(w, "%s\t%s\tNOT FOUND\n", name, path)
		} else {
			_, _ = fmt.Fprintf(w, "%s\t%s\tERROR: %v\n", name, path, err)
		}
		return
	}

	if info.IsDir() {
		_, _ = fmt.Fprintf(w, "%s\t%s\tEXISTS (dir)\n", name, path)
	} else {
		_, _ = fmt.Fprintf(w, "%s\t%s\tEXISTS (file, %d bytes)\n", name, path, info.Size())
	}
}

// checkDirWritable performs a non-creating check on a directory
func checkDirWritable(path string) error {
	if !fsutil.DirExists(path) {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("exists but is not a directory")
		}
		return fmt.Errorf("does not exist")
	}
	if !fsutil.IsWritable(path) {
		return fmt.Errorf("not writable")
	}
	return nil
}
