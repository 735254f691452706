package command

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/cli/output"
	"github.com/yndnr/tabsession-go/internal/core/domain"
	"github.com/yndnr/tabsession-go/internal/core/session"
	"github.com/yndnr/tabsession-go/internal/oauth"
)

// CallbackCommand returns the callback command.
func CallbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "callback",
		Usage:     "Complete a login from the URL the provider redirected to",
		ArgsUsage: "REDIRECT_URL",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 30 * time.Second,
				Usage: "How long to wait for the code exchange",
			},
		},
		Action: runCallback,
	}
}

func runCallback(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("callback takes exactly one argument, the redirect URL")
	}
	location, err := url.Parse(c.Args().First())
	if err != nil {
		return fmt.Errorf("parse redirect URL: %w", err)
	}
	if _, _, ok := oauth.CallbackParams(location); !ok {
		return fmt.Errorf("redirect URL carries no code and state")
	}

	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}

	ctrl, err := e.newController(t, printRedirect(c.App.Writer, "Redirecting to:"),
		session.WithLocation(location))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	spinner := output.NewSpinner(c.App.ErrWriter, "Exchanging authorization code")
	spinner.Start()
	state, err := firstState(ctx, ctrl)
	switch {
	case err != nil:
		spinner.Fail("no answer from the token endpoint")
		return err
	case state == nil:
		spinner.Fail("login failed")
		return errors.New("login failed: the code or state was rejected, see the log for details")
	}
	spinner.Success("logged in")

	return render(c, newSessionView(state, time.Now()))
}

// firstState waits for the controller's first resolved state.
func firstState(ctx context.Context, ctrl *session.Controller) (*domain.SessionState, error) {
	resolved := make(chan *domain.SessionState, 1)
	unsubscribe := ctrl.Subscribe(func(s *domain.SessionState) {
		select {
		case resolved <- s:
		default:
		}
	})
	defer unsubscribe()

	select {
	case s := <-resolved:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
