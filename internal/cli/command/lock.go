package command

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/tabsession-go/internal/infra/shutdown"
)

// LockCommand returns the lock subcommand group.
func LockCommand() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "Use the cross-process lock",
		Subcommands: []*cli.Command{
			{
				Name:      "acquire",
				Usage:     "Acquire a lock and hold it until interrupted or the claim lapses",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "hold",
						Usage: "Release after this long (default: when the claim lapses)",
					},
				},
				Action: lockAcquire,
			},
			{
				Name:      "release",
				Usage:     "Clear a lock slot",
				ArgsUsage: "KEY",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "force",
						Aliases: []string{"f"},
						Usage:   "Clear the slot even if a live claim holds it",
					},
				},
				Action: lockRelease,
			},
			{
				Name:      "status",
				Usage:     "Show the claim in a lock slot",
				ArgsUsage: "KEY",
				Action:    lockStatus,
			},
		},
	}
}

// lockView is the printable form of a lock slot.
type lockView struct {
	Key       string     `json:"key" yaml:"key"`
	Held      bool       `json:"held" yaml:"held"`
	Holder    int64      `json:"holder,omitempty" yaml:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
}

func lockKeyArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 || c.Args().First() == "" {
		return "", fmt.Errorf("%s takes exactly one argument, the lock key", c.Command.Name)
	}
	return c.Args().First(), nil
}

func lockAcquire(c *cli.Context) error {
	key, err := lockKeyArg(c)
	if err != nil {
		return err
	}

	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}
	l, err := e.newLock(t)
	if err != nil {
		return err
	}

	ok, err := l.Acquire(c.Context, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock %q is held by another tab", key)
	}

	rec := l.Record(key)
	if rec == nil {
		return fmt.Errorf("lock %q was taken over right after acquisition", key)
	}
	fmt.Fprintf(c.App.Writer, "Acquired lock %q as holder %d\n", key, rec.Holder)

	hold := c.Duration("hold")
	if rec.ExpiresAt > 0 {
		if lapse := time.Until(time.UnixMilli(rec.ExpiresAt)); hold <= 0 || lapse < hold {
			hold = lapse
		}
	}
	ctx := c.Context
	if hold > 0 || rec.ExpiresAt > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hold)
		defer cancel()
	}

	handler := shutdown.NewHandler(5 * time.Second)
	handler.OnShutdown(func(context.Context) error { return l.Release(key) })
	if err := handler.WaitContext(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Released lock %q\n", key)
	return nil
}

func lockRelease(c *cli.Context) error {
	key, err := lockKeyArg(c)
	if err != nil {
		return err
	}

	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}
	l, err := e.newLock(t)
	if err != nil {
		return err
	}

	rec := l.Record(key)
	switch {
	case rec == nil:
		fmt.Fprintf(c.App.Writer, "Lock %q is free\n", key)
		return nil
	case rec.Live(time.Now()) && !c.Bool("force"):
		return fmt.Errorf("lock %q is held by holder %d; pass --force to clear it", key, rec.Holder)
	}

	if err := t.store.Delete(e.cfg.Lock.KeyPrefix + key); err != nil {
		return fmt.Errorf("clear lock %q: %w", key, err)
	}
	fmt.Fprintf(c.App.Writer, "Cleared lock %q\n", key)
	return nil
}

func lockStatus(c *cli.Context) error {
	key, err := lockKeyArg(c)
	if err != nil {
		return err
	}

	e := newEnv(c)
	defer e.Close()

	t, err := e.openTab(c.Context, tabID(c))
	if err != nil {
		return err
	}
	l, err := e.newLock(t)
	if err != nil {
		return err
	}

	view := &lockView{Key: key}
	if rec := l.Record(key); rec.Live(time.Now()) {
		view.Held = true
		view.Holder = rec.Holder
		if rec.ExpiresAt > 0 {
			at := time.UnixMilli(rec.ExpiresAt)
			view.ExpiresAt = &at
		}
	}
	return render(c, view)
}
