package cmd

import (
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/stratum/internal/template"
)

func newCheckCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "check [template]",
		Short: "Report every syntax error in a template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := rt.templatePath(args[0])
			if err != nil {
				return err
			}
			data, err := template.NewLoader(osfs.New("/")).ReadFile(p)
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			out := cmd.OutOrStdout()
			errs := template.SyntaxErrors(data, p)
			if len(errs) == 0 {
				// Formats without a grammar, and problems the grammar
				// accepts, surface through the decoder.
				if _, err := template.Parse(data, p); err != nil {
					var perr *template.ParseError
					if !errors.As(err, &perr) {
						return err
					}
					errs = append(errs, *perr)
				}
			}
			for _, e := range errs {
				fmt.Fprintln(out, e.Error())
			}
			if len(errs) > 0 {
				return fmt.Errorf("%s: %d syntax error(s)", p, len(errs))
			}
			fmt.Fprintf(out, "%s: ok\n", p)
			return nil
		},
	}
}
