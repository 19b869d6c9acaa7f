// Package cli implements the recalld command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const helpJSONFlag = "help-json"

// FlagSchema describes one flag in --help-json output.
type FlagSchema struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Default   string `json:"default,omitempty"`
	Usage     string `json:"usage,omitempty"`
	Required  bool   `json:"required"`
	Inherited bool   `json:"inherited,omitempty"`
}

// CommandSchema is the machine-readable form of a command and its children,
// used by agents that drive recalld without parsing help text.
type CommandSchema struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Use         string          `json:"use,omitempty"`
	Short       string          `json:"short,omitempty"`
	Long        string          `json:"long,omitempty"`
	Aliases     []string        `json:"aliases,omitempty"`
	Flags       []FlagSchema    `json:"flags,omitempty"`
	Subcommands []CommandSchema `json:"subcommands,omitempty"`
}

func describe(cmd *cobra.Command) CommandSchema {
	s := CommandSchema{
		Name:    cmd.Name(),
		Path:    cmd.CommandPath(),
		Use:     cmd.Use,
		Short:   cmd.Short,
		Long:    cmd.Long,
		Aliases: cmd.Aliases,
	}

	collect := func(inherited bool) func(*pflag.Flag) {
		return func(f *pflag.Flag) {
			if f.Hidden || f.Name == "help" || f.Name == helpJSONFlag {
				return
			}
			_, required := f.Annotations[cobra.BashCompOneRequiredFlag]
			s.Flags = append(s.Flags, FlagSchema{
				Name:      f.Name,
				Shorthand: f.Shorthand,
				Type:      f.Value.Type(),
				Default:   f.DefValue,
				Usage:     f.Usage,
				Required:  required,
				Inherited: inherited,
			})
		}
	}
	cmd.LocalFlags().VisitAll(collect(false))
	cmd.InheritedFlags().VisitAll(collect(true))

	for _, sub := range cmd.Commands() {
		if sub.Hidden || sub.Name() == "help" || sub.Name() == "completion" {
			continue
		}
		s.Subcommands = append(s.Subcommands, describe(sub))
	}
	return s
}

// HelpJSON writes the schema of the command addressed by args when args
// contain --help-json. It runs before cobra parses args so that commands
// with positional requirements can still be described.
func HelpJSON(root *cobra.Command, args []string, w io.Writer) (bool, error) {
	i := slices.Index(args, "--"+helpJSONFlag)
	if i < 0 {
		return false, nil
	}

	target := root
	if found, _, err := root.Find(args[:i]); err == nil && found != nil {
		target = found
	}

	out, err := json.MarshalIndent(describe(target), "", "  ")
	if err != nil {
		return true, fmt.Errorf("encode command schema: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return true, err
}

func addHelpJSONFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().Bool(helpJSONFlag, false, "Print the command schema as JSON")
}
