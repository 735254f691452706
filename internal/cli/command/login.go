package command

import "github.com/urfave/cli/v2"

// LoginCommand returns the login command.
func LoginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "Start a login and print the authorization URL",
		Action: runLogin,
	}
}

func runLogin(c *cli.Context) error {
	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}

	ctrl, err := e.newController(t, printRedirect(c.App.Writer, "Open this URL to sign in:"))
	if err != nil {
		return err
	}
	return ctrl.Login(c.Context)
}
