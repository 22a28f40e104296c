package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/furrow-sh/furrow/pkg/modules"
	"github.com/furrow-sh/furrow/pkg/plan"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>...",
		Short: "Validate plan files without running them",
		Long: `Parse each plan file, resolve its imports, and run the full
semantic validation: required fields, handler references, known
assertion kinds, import cycles. Nothing is executed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := plan.NewLoader(modules.DefaultRegistry().Kinds())

			for _, path := range args {
				plans, err := loader.LoadComposite(path)
				if err != nil {
					return invalid(err)
				}
				tasks := 0
				for _, p := range plans {
					tasks += len(p.Tasks)
				}
				fmt.Printf("%s: ok (%d plans, %d tasks)\n", path, len(plans), tasks)
			}
			return nil
		},
	}
	return cmd
}
