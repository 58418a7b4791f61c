package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"otakushelf/internal/session"
	"otakushelf/pkg/models"
)

func categoryArg(s string) (models.Category, error) {
	c, ok := models.ParseCategory(s)
	if !ok {
		return "", fmt.Errorf("unknown list %q (watching, completed, planned, dropped)", s)
	}
	return c, nil
}

func addList(topLevel *cobra.Command, a *app) {
	var grouped bool

	cmd := &cobra.Command{
		Use:   "list [category]",
		Short: "Show the list, newest activity first",
		Example: `
otakushelf list
otakushelf list completed --grouped
`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"watching", "completed", "planned", "dropped"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cats := models.Categories
			if len(args) == 1 {
				c, err := categoryArg(args[0])
				if err != nil {
					return err
				}
				cats = []models.Category{c}
			}

			s, release, err := a.openSession(cmd.Context(), sessionOpts{})
			if err != nil {
				return err
			}
			defer release()

			for _, c := range cats {
				if grouped {
					printGrouped(a.out, c, s.Groups(c))
				} else {
					printFlat(a.out, c, s.Sorted(c))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&grouped, "grouped", "g", false, "section entries by month")
	topLevel.AddCommand(cmd)
}

func addShow(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one entry with AniList details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, release, err := a.openSession(cmd.Context(), sessionOpts{})
			if err != nil {
				return err
			}
			defer release()

			id, err := resolveID(s, args[0])
			if err != nil {
				return err
			}
			d, _ := s.Details(cmd.Context(), id)
			printDetails(a.out, d)
			return nil
		},
	}
	topLevel.AddCommand(cmd)
}

// resolveID accepts a full entry id or an unambiguous prefix of one.
func resolveID(s *session.Session, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if _, _, ok := s.Find(arg); ok {
		return arg, nil
	}

	var matches []string
	for _, c := range models.Categories {
		for _, e := range s.Entries(c) {
			if strings.HasPrefix(e.ID, arg) {
				matches = append(matches, e.ID)
			}
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no entry matches %q", arg)
	case 1:
		return matches[0], nil
	}
	return "", fmt.Errorf("%q matches %d entries, use more of the id", arg, len(matches))
}
