package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect the learned skill library",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List learned skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrapForInspection(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			names := rt.agent.Skills().ListSkills()
			sort.Strings(names)
			if len(names) == 0 {
				fmt.Println("No skills learned yet.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show a skill's code and description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrapForInspection(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			skill, ok := rt.agent.Skills().GetSkill(args[0])
			if !ok {
				return fmt.Errorf("skill %q not found", args[0])
			}
			fmt.Printf("# %s\n\n%s\n\nDescription:\n%s\n", args[0], skill.Code, skill.Description)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Search skills by name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrapForInspection(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			codes, err := rt.agent.Skills().RetrieveSkills(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if len(codes) == 0 {
				fmt.Println("No matching skills.")
				return nil
			}
			fmt.Println(strings.Join(codes, "\n\n"))
			return nil
		},
	})

	return cmd
}

// bootstrapForInspection builds the stack with resume forced on so the
// persisted library is visible.
func bootstrapForInspection(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.Agent.Resume = true
	return bootstrap(cmd.Context(), cfg)
}
