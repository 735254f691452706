package command

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// LogoutCommand returns the logout command.
func LogoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Clear the session in every tab and print the end-session URL",
		Action: runLogout,
	}
}

func runLogout(c *cli.Context) error {
	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}

	ctrl, err := e.newController(t, printRedirect(c.App.Writer, "Open this URL to finish signing out:"))
	if err != nil {
		return err
	}
	if err := ctrl.Logout(c.Context); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}
