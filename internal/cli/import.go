package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"otakushelf/internal/progress"
	"otakushelf/pkg/models"
)

// importWait bounds how long import waits for the server to finish after
// the upload was accepted.
const importWait = 10 * time.Minute

func addImport(topLevel *cobra.Command, a *app) {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a MyAnimeList XML export",
		Long: "Import a MyAnimeList XML export (plain or gzipped). Entries are merged into\n" +
			"the list unless --replace is given, which clears the list first.",
		Example: `
otakushelf import ~/Downloads/animelist.xml.gz
otakushelf import animelist.xml --replace
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := homedir.Expand(args[0])
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("open export: %w", err)
			}
			mode := models.ImportMerge
			if replace {
				mode = models.ImportReplace
			}
			return a.runImport(cmd.Context(), path, mode)
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "clear the existing list before importing")
	topLevel.AddCommand(cmd)
}

func (a *app) runImport(ctx context.Context, path string, mode models.ImportMode) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	// Buffered so the tracker never blocks on a slow terminal.
	states := make(chan models.ImportJobState, 64)
	cleared := make(chan struct{})
	var once sync.Once
	onChange := func(st models.ImportJobState, ok bool) {
		if !ok {
			once.Do(func() { close(cleared) })
			return
		}
		select {
		case states <- st:
		default:
		}
	}

	s, release, err := a.openSession(ctx, sessionOpts{progress: true, onChange: onChange})
	if err != nil {
		return err
	}
	defer release()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.Import(gctx, models.PickedFile{URI: path, Name: filepath.Base(path)}, mode)
		if err != nil && !res.Success && res.Message == "" {
			return explain(err)
		}
		if !res.Success {
			if res.Message == "" {
				return errors.New("the server rejected the import")
			}
			return errors.New(res.Message)
		}
		fmt.Fprintln(a.out, res.Message)
		return nil
	})
	g.Go(func() error {
		timeout := time.NewTimer(importWait)
		defer timeout.Stop()

		var last models.ImportJobState
		for {
			select {
			case st := <-states:
				if st != last {
					printProgress(a.out, st)
					last = st
				}
			case <-cleared:
				for drained := false; !drained; {
					select {
					case st := <-states:
						if st != last {
							printProgress(a.out, st)
							last = st
						}
					default:
						drained = true
					}
				}
				if last.Error != "" {
					return errors.New(last.Error)
				}
				return nil
			case <-gctx.Done():
				return gctx.Err()
			case <-timeout.C:
				return errors.New("gave up waiting for the import to finish; check `otakushelf list` later")
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	for _, c := range models.Categories {
		fmt.Fprintf(a.out, "%-10s %d\n", c, s.Counts()[c])
	}
	return nil
}

func addWatch(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print import progress events as they arrive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := readCredentials(a.cfg.TokenPath)
			if err != nil {
				return err
			}
			endpoint, err := progress.ChannelURL(a.cfg.APIURL, creds.UserID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			l := a.progressListener(endpoint, creds.Token)
			events, unsubscribe := l.Subscribe()
			defer unsubscribe()
			if err := l.Connect(ctx); err != nil {
				return fmt.Errorf("connect progress channel: %w", err)
			}
			defer l.Close()

			fmt.Fprintln(a.out, faint.Sprint("waiting for import progress, ctrl-c to stop"))
			for {
				select {
				case ev, ok := <-events:
					if !ok {
						fmt.Fprintln(a.out, color.YellowString("progress channel closed"))
						return nil
					}
					printEvent(a, ev)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	topLevel.AddCommand(cmd)
}

func printEvent(a *app, ev progress.Event) {
	st := models.ImportJobState{Current: ev.Current, Total: ev.Total, Completed: ev.Completed, Error: ev.Error}
	printProgress(a.out, st)
	if ev.Message != "" && ev.Error == "" {
		fmt.Fprintln(a.out, faint.Sprint(ev.Message))
	}
}
