package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"otakushelf/internal/mutator"
	"otakushelf/internal/session"
	"otakushelf/pkg/models"
)

// edit opens a session, resolves the entry and runs fn against it.
func (a *app) edit(ctx context.Context, arg string, fn func(s *session.Session, id string) error) error {
	s, release, err := a.openSession(ctx, sessionOpts{})
	if err != nil {
		return err
	}
	defer release()

	id, err := resolveID(s, arg)
	if err != nil {
		return err
	}
	if err := fn(s, id); err != nil {
		return explain(err)
	}

	if e, c, ok := s.Find(id); ok {
		fmt.Fprintf(a.out, "%s  %s  %s  %s\n", idColor.Sprint(shortID(e.ID)), e.Title, c, episodes(e))
	}
	return nil
}

func addEdit(topLevel *cobra.Command, a *app) {
	status := &cobra.Command{
		Use:     "status <id> <category>",
		Aliases: []string{"move"},
		Short:   "Move an entry to another list",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := categoryArg(args[1])
			if err != nil {
				return err
			}
			return a.edit(cmd.Context(), args[0], func(s *session.Session, id string) error {
				return s.ChangeStatus(cmd.Context(), id, c)
			})
		},
	}

	inc := &cobra.Command{
		Use:   "inc <id>",
		Short: "Mark the next episode watched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.edit(cmd.Context(), args[0], func(s *session.Session, id string) error {
				return s.IncrementEpisode(cmd.Context(), id)
			})
		},
	}

	rate := &cobra.Command{
		Use:   "rate <id> <1-5>",
		Short: "Rate an entry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be a number: %w", mutator.ErrInvalidRating)
			}
			return a.edit(cmd.Context(), args[0], func(s *session.Session, id string) error {
				return s.ChangeRating(cmd.Context(), id, n)
			})
		},
	}

	var yes bool
	remove := &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove an entry after confirmation",
		Args:    cobra.ExactArgs(1),
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
			removed, err := s.Remove(cmd.Context(), id, a.confirmRemove(yes))
			if err != nil {
				return explain(err)
			}
			if removed {
				fmt.Fprintln(a.out, "removed")
			} else {
				fmt.Fprintln(a.out, "kept")
			}
			return nil
		},
	}
	remove.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	topLevel.AddCommand(status, inc, rate, remove)
}

func (a *app) confirmRemove(yes bool) mutator.ConfirmFunc {
	return func(_ context.Context, e models.AnimeEntry) bool {
		return yes || a.confirm(fmt.Sprintf("Remove %q from your list?", e.Title))
	}
}

func addAdd(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "add <anilist-id> <category>",
		Short: "Add an AniList title to a list",
		Example: `
otakushelf add 154587 watching
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			externalID, err := strconv.Atoi(args[0])
			if err != nil || externalID <= 0 {
				return fmt.Errorf("invalid AniList id %q", args[0])
			}
			c, err := categoryArg(args[1])
			if err != nil {
				return err
			}

			return a.addToList(cmd.Context(), externalID, c)
		},
	}
	topLevel.AddCommand(cmd)
}

// addToList puts AniList media externalID on list c and reports the title.
func (a *app) addToList(ctx context.Context, externalID int, c models.Category) error {
	s, release, err := a.openSession(ctx, sessionOpts{})
	if err != nil {
		return err
	}
	defer release()

	if err := s.Add(ctx, externalID, c); err != nil {
		return explain(err)
	}
	for _, e := range s.Entries(c) {
		if e.ExternalID == externalID {
			fmt.Fprintf(a.out, "added %s to %s\n", e.Title, c)
			return nil
		}
	}
	fmt.Fprintf(a.out, "added to %s\n", c)
	return nil
}
