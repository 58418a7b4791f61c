// Package cli is the otakushelf command tree.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"otakushelf/internal/anilist"
	"otakushelf/internal/importer"
	"otakushelf/internal/listapi"
	"otakushelf/internal/progress"
	"otakushelf/internal/session"
	"otakushelf/pkg/config"
	"otakushelf/pkg/logging"
)

type app struct {
	apiURL  string
	verbose bool

	cfg    config.Client
	logger *zap.Logger
	in     *bufio.Reader
	out    io.Writer
	tty    bool
}

func New() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "otakushelf",
		Short:         "Keep your anime list on the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&a.apiURL, "api", "", "list service base URL (overrides api_url)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	addAuth(cmd, a)
	addList(cmd, a)
	addShow(cmd, a)
	addEdit(cmd, a)
	addAdd(cmd, a)
	addSearch(cmd, a)
	addImport(cmd, a)
	addWatch(cmd, a)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = strings.TrimRight(a.apiURL, "/")
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if a.verbose {
		level = "debug"
	}
	if a.logger, err = logging.New(level, logging.FormatConsole); err != nil {
		return err
	}
	a.in = bufio.NewReader(cmd.InOrStdin())
	a.tty = terminal(cmd.InOrStdin())
	a.out = cmd.OutOrStdout()
	return nil
}

func (a *app) listClient(token string) *listapi.Client {
	return listapi.New(a.cfg.APIURL,
		listapi.WithToken(token),
		listapi.WithTimeouts(listapi.Timeouts{
			Read:   a.cfg.Timeouts.Read,
			Write:  a.cfg.Timeouts.Write,
			Import: a.cfg.Timeouts.Import,
		}),
		listapi.WithLogger(a.logger),
	)
}

type sessionOpts struct {
	progress bool
	onChange importer.ChangeFunc
}

// openSession loads the signed-in user's list. The returned func releases
// the session and the metadata cache.
func (a *app) openSession(ctx context.Context, so sessionOpts) (*session.Session, func(), error) {
	creds, err := readCredentials(a.cfg.TokenPath)
	if err != nil {
		return nil, nil, err
	}

	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithImportClearDelay(a.cfg.ImportClearDelay),
	}

	catalog, err := a.catalog()
	if err != nil {
		a.logger.Warn("metadata provider disabled", zap.Error(err))
	} else {
		opts = append(opts, session.WithCatalog(catalog))
	}

	if so.progress {
		endpoint, err := progress.ChannelURL(a.cfg.APIURL, creds.UserID)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, session.WithChannel(a.progressListener(endpoint, creds.Token)))
	}
	if so.onChange != nil {
		opts = append(opts, session.OnImportChange(so.onChange))
	}

	s := session.New(creds.UserID, a.listClient(creds.Token), opts...)
	release := func() {
		_ = s.Close()
		if catalog != nil {
			catalog.Close()
		}
	}
	if err := s.Start(ctx); err != nil {
		release()
		return nil, nil, explain(err)
	}
	return s, release, nil
}

func (a *app) catalog() (*anilist.Client, error) {
	return anilist.New(
		anilist.WithEndpoint(a.cfg.AniListURL),
		anilist.WithTimeout(a.cfg.Timeouts.Metadata),
		anilist.WithCacheTTL(a.cfg.AniListCacheTTL),
		anilist.WithLogger(a.logger),
	)
}

func (a *app) progressListener(endpoint, token string) *progress.Listener {
	return progress.NewListener(endpoint,
		progress.WithDialer(&websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: a.cfg.Timeouts.Read,
		}),
		progress.WithToken(token),
		progress.WithLogger(a.logger),
	)
}

// explain turns transport errors into something a user can act on.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case session.NeedsLogin(err):
		return fmt.Errorf("your session has expired, run `otakushelf login`: %w", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("the list service did not answer in time: %w", err)
	}
	if reason := listapi.Reason(err); reason != "" {
		return errors.New(reason)
	}
	return err
}
