package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List imported traces",
		Run:   runTraces,
	}

	cmd.Flags().Bool("ids-only", false, "Only output trace ids")

	RootCmd.AddCommand(cmd)
}

func runTraces(cmd *cobra.Command, args []string) {
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	traces, err := s.ListTraces(cmd.Context())
	if err != nil {
		exitErr("list traces", err)
	}

	switch {
	case idsOnly:
		for _, t := range traces {
			fmt.Fprintln(stdout, t.ID)
		}
	case textOutput():
		renderTraces(stdout, traces)
	default:
		printJSON(traces)
	}
}
