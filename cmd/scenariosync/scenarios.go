package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zenibako/scenario-sync/messages"
	"github.com/zenibako/scenario-sync/scenario"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List scenarios, or the options of a container scenario",
	Example: `  scenariosync list
  scenariosync list --limit 20 --offset 40
  scenariosync list --parent abc123`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if parent, _ := cmd.Flags().GetString("parent"); parent != "" {
			options, err := a.cache.Children(cmd.Context(), parent)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(options))
			for _, o := range options {
				rows = append(rows, []string{o.ShortID, o.Title, truncate(o.Prompt, 50)})
			}
			printTitle(out, "Options of %s", parent)
			renderTable(out, []string{"ID", "Title", "Prompt"}, rows)
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		scenarios, err := a.cache.ListScenarios(cmd.Context(), limit, offset)
		if err != nil {
			return err
		}
		rows := make([][]string, 0, len(scenarios))
		for i, s := range scenarios {
			mirrored := ""
			if a.workspace.Has(s.ShortID) {
				mirrored = "✓"
			}
			rows = append(rows, []string{strconv.Itoa(offset + i + 1), s.ShortID, s.Title, mirrored})
		}
		renderTable(out, []string{"#", "ID", "Title", "Mirrored"}, rows)
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull [shortId...]",
	Short: "Mirror scenarios into the local directory",
	Long: `Pull writes one file per script slot with server content plus scenario.json.
Files with unsaved local edits are left untouched. Without arguments every
scenario already in the directory is pulled again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		ids := args
		if len(ids) == 0 {
			if ids, err = a.workspace.Scenarios(); err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("no scenarios in %s; pass a scenario id", a.workspace.Dir())
			}
		}

		results, err := a.workspace.Pull(cmd.Context(), ids...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range results {
			printSuccess(out, "%s: %d file(s) written to %s", r.ShortID, len(r.Written), filepath.Join(a.workspace.Dir(), r.ShortID))
			for _, file := range r.Skipped {
				printWarn(out, "kept unsaved %s", file)
			}
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <shortId> <slot|scenario.json>",
	Short: "Save one mirrored file to the server",
	Long: `Push saves one script slot. Other scripts of the scenario with unsaved local
edits are saved in the same request after confirmation. Pushing scenario.json
keeps the document as a local override until it is saved from a form panel.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		shortID, name := args[0], args[1]

		var file string
		if slot, ok := scenario.ParseScriptSlot(name); ok {
			file = a.workspace.ScriptFile(shortID, slot)
		} else if name == messages.ScenarioJSONName {
			file = a.workspace.DocumentFile(shortID)
		} else {
			return fmt.Errorf("unknown resource %q: want one of %v or %s", name, scenario.ScriptSlots, messages.ScenarioJSONName)
		}

		saved, err := a.workspace.Push(cmd.Context(), file)
		if err != nil {
			return err
		}
		if !saved {
			printWarn(cmd.OutOrStdout(), "nothing saved for %s/%s", shortID, name)
			return nil
		}
		printSuccess(cmd.OutOrStdout(), "saved %s/%s", shortID, name)
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <shortId>",
	Short: "Reload a scenario from the server, discarding local edits after confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		shortID := args[0]
		out := cmd.OutOrStdout()

		result, err := a.refresh.Refresh(cmd.Context(), shortID)
		if err != nil {
			return err
		}
		if !result.Proceeded {
			printWarn(out, "refresh of %s cancelled", shortID)
			return nil
		}
		if a.workspace.Has(shortID) {
			if _, err := a.workspace.Pull(cmd.Context(), shortID); err != nil {
				return err
			}
		}
		printSuccess(out, "refreshed %s (%d story cards)", shortID, len(result.StoryCards))
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 50, "Page size")
	listCmd.Flags().Int("offset", 0, "Page offset")
	listCmd.Flags().String("parent", "", "List the options of this container scenario")

	rootCmd.AddCommand(listCmd, pullCmd, pushCmd, refreshCmd)
}
