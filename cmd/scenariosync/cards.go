package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenibako/scenario-sync/scenario"
	"github.com/zenibako/scenario-sync/templates"
)

var cardsCmd = &cobra.Command{
	Use:   "cards <shortId>",
	Short: "List a scenario's story cards",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		cards, err := a.cache.GetStoryCardsForTree(cmd.Context(), args[0], scenario.StoryCardQuery{
			Force:        force,
			RetryIfEmpty: true,
		})
		if err != nil {
			return err
		}

		rows := make([][]string, 0, len(cards))
		for _, c := range cards {
			rows = append(rows, []string{c.ID, c.Type, c.Title, truncate(c.Keys, 30), truncate(c.Value, 40)})
		}
		printTitle(cmd.OutOrStdout(), "%d story card(s) on %s", len(cards), args[0])
		renderTable(cmd.OutOrStdout(), []string{"ID", "Type", "Title", "Keys", "Value"}, rows)
		return nil
	},
}

var addCardCmd = &cobra.Command{
	Use:   "add-card <shortId> <type>",
	Short: "Create a story card from a type template",
	Long: "Create a story card from a type template.\n\nTypes: " +
		strings.Join(templates.CardTypes(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		fields := templates.CardFields{Type: args[1]}
		if title, _ := cmd.Flags().GetString("title"); title != "" {
			fields.Title = title
		}
		if keys, _ := cmd.Flags().GetString("keys"); keys != "" {
			fields.Keys = keys
		}

		// Loads the authoring context sent with the create request
		if _, err := a.cache.GetEditorJSON(cmd.Context(), args[0]); err != nil {
			return err
		}
		card, err := a.cache.CreateStoryCard(cmd.Context(), args[0], fields)
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "created %s %q (%s)", card.Type, card.Title, card.ID)
		return nil
	},
}

var deleteCardCmd = &cobra.Command{
	Use:   "delete-card <shortId> <cardId>",
	Short: "Delete a story card",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if err := a.cache.DeleteStoryCard(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "deleted %s", args[1])
		return nil
	},
}

var copyCardCmd = &cobra.Command{
	Use:   "copy-card <sourceId> <cardId> <targetId>",
	Short: "Copy a story card to another scenario",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		if _, err := a.cache.GetEditorJSON(cmd.Context(), args[2]); err != nil {
			return err
		}
		card, err := a.cache.CopyStoryCardBetweenScenarios(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		printSuccess(cmd.OutOrStdout(), "copied %q to %s as %s", card.Title, args[2], card.ID)
		return nil
	},
}

func init() {
	cardsCmd.Flags().Bool("force", false, "Skip local state and refetch from the server")
	addCardCmd.Flags().String("title", "", "Card title (default from template)")
	addCardCmd.Flags().String("keys", "", "Comma-separated trigger keys")

	rootCmd.AddCommand(cardsCmd, addCardCmd, deleteCardCmd, copyCardCmd)
}
