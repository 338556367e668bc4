package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sweet-James-Lannon/ai-check-validation-system/internal/naming"
)

var namingCmd = &cobra.Command{
	Use:   "naming",
	Short: "Parse check file names and plan suffixes",
}

var parseCmd = &cobra.Command{
	Use:   "parse FILE...",
	Short: "Parse check file names",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		type parsed struct {
			File   string `json:"file"`
			Batch  string `json:"batch"`
			Check  string `json:"check_number"`
			Suffix string `json:"suffix"`
			Legacy bool   `json:"legacy,omitempty"`
		}
		out := make([]parsed, 0, len(args))
		for _, a := range args {
			n, err := naming.Parse(a)
			if err != nil {
				return err
			}
			out = append(out, parsed{File: a, Batch: n.Batch, Check: n.CheckNumber, Suffix: n.Suffix.String(), Legacy: n.Suffix.IsLegacy()})
		}
		return printJSON(cmd, out)
	},
}

var planCmd = &cobra.Command{
	Use:   "plan FAMILY_FILE...",
	Short: "Show the suffixes a split of the first file would produce",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := naming.Parse(args[0])
		if err != nil {
			return err
		}
		tr := naming.PlanSplit(target.Suffix, args, target.Batch, target.CheckNumber)
		orig := naming.Name{Batch: target.Batch, CheckNumber: target.CheckNumber, Suffix: tr.Original}
		created := naming.Name{Batch: target.Batch, CheckNumber: target.CheckNumber, Suffix: tr.New}
		return printJSON(cmd, map[string]string{"original": orig.FileName(), "new": created.FileName()})
	},
}

var migrateNamesCmd = &cobra.Command{
	Use:   "migrate FILE...",
	Short: `Show how legacy "-1" names would be rewritten`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		families := map[string][]naming.Name{}
		var order []string
		for _, a := range args {
			n, err := naming.Parse(a)
			if err != nil {
				return err
			}
			if _, ok := families[n.Family()]; !ok {
				order = append(order, n.Family())
			}
			families[n.Family()] = append(families[n.Family()], n)
		}
		var out []map[string]string
		for _, f := range order {
			before := families[f]
			after := naming.MigrateLegacy(before)
			for i := range before {
				if before[i] != after[i] {
					out = append(out, map[string]string{"from": before[i].FileName(), "to": after[i].FileName()})
				}
			}
		}
		if len(out) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "no legacy names")
		}
		return printJSON(cmd, out)
	},
}

func init() {
	namingCmd.AddCommand(parseCmd, planCmd, migrateNamesCmd)
	rootCmd.AddCommand(namingCmd)
}
