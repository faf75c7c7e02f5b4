package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"agentcoord/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "agentcoord:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "agentcoord",
		Short:         "Multi-agent coordination service",
		Long:          "agentcoord keeps a registry of agents and hands them messages, shared state,\nresources and dependency-ordered tasks.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd(), newCurriculumCmd())
	return cmd
}

func newCurriculumCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "curriculum",
		Short: "Print the onboarding curriculum",
		Long:  "Loads the onboarding curriculum (the built-in one unless --file is given), validates it and prints it as YAML.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			steps, err := config.LoadCurriculum(path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer func() {
				_ = enc.Close()
			}()
			return enc.Encode(map[string]any{"steps": steps})
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "curriculum YAML file")
	return cmd
}
