package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// flagValue reads a flag registered in init(). A lookup error is a wiring bug
// in this package, so it panics instead of reaching the user.
func flagValue[T any](cmd *cobra.Command, name string, get func(*pflag.FlagSet, string) (T, error)) T {
	val, err := get(cmd.Flags(), name)
	if err != nil {
		panic(fmt.Sprintf("rhodesli: flag --%s on %q: %v", name, cmd.CommandPath(), err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return flagValue(cmd, name, (*pflag.FlagSet).GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return flagValue(cmd, name, (*pflag.FlagSet).GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return flagValue(cmd, name, (*pflag.FlagSet).GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return flagValue(cmd, name, (*pflag.FlagSet).GetFloat64)
}

func mustGetStringSlice(cmd *cobra.Command, name string) []string {
	return flagValue(cmd, name, (*pflag.FlagSet).GetStringSlice)
}

// actor is the name recorded in identity history for this invocation.
func actor(cmd *cobra.Command) string {
	if a := strings.TrimSpace(mustGetString(cmd, "actor")); a != "" {
		return a
	}
	return defaultActor()
}
