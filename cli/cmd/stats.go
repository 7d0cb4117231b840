package cmd

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ferret/cli/render"
	"github.com/justapithecus/ferret/types"
)

// StatsCommand returns the stats command with subcommands.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics",
		Subcommands: []*cli.Command{
			statsDomainCommand(),
		},
	}
}

func statsDomainCommand() *cli.Command {
	return &cli.Command{
		Name:      "domain",
		Usage:     "Show learned per-engine statistics for a domain",
		ArgsUsage: "<domain>",
		Flags:     ReadOnlyFlags(),
		Action:    statsDomainAction,
	}
}

func statsDomainAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.NArg() < 1 {
		return cli.Exit("usage: ferret stats domain <domain>", 1)
	}
	arg := c.Args().First()
	if !strings.Contains(arg, "://") {
		arg = "https://" + arg
	}
	domain := types.NormalizeDomain(arg)
	if domain == "" {
		return cli.Exit(fmt.Sprintf("invalid domain %q", c.Args().First()), 1)
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GetDomainStats(ctx, domain)
	if err != nil {
		return err
	}
	config, err := st.GetDomainConfig(ctx, domain)
	if err != nil {
		return err
	}

	return r.Render(struct {
		Domain  string              `json:"domain"`
		Config  *types.DomainConfig `json:"config,omitempty"`
		Engines []types.DomainStats `json:"engines"`
	}{domain, config, stats})
}

// SessionsCommand returns the sessions command with subcommands.
func SessionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "sessions",
		Usage: "Inspect and retire pooled browser sessions",
		Subcommands: []*cli.Command{
			sessionsListCommand(),
			sessionsRetireCommand(),
		},
	}
}

func sessionsListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "Show pool occupancy per domain",
		Flags:  ReadOnlyFlags(),
		Action: sessionsListAction,
	}
}

func sessionsListAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	pool, err := sessionPool(cfg)
	if err != nil {
		return err
	}
	return r.Render(pool.Snapshot())
}

func sessionsRetireCommand() *cli.Command {
	return &cli.Command{
		Name:      "retire",
		Usage:     "Retire the pooled session for a domain and proxy identity",
		ArgsUsage: "<domain> [proxy-identity]",
		Flags:     ReadOnlyFlags(),
		Action:    sessionsRetireAction,
	}
}

func sessionsRetireAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.NArg() < 1 {
		return cli.Exit("usage: ferret sessions retire <domain> [proxy-identity]", 1)
	}
	key := types.SessionKey{
		Domain:        c.Args().Get(0),
		ProxyIdentity: c.Args().Get(1),
	}

	pool, err := sessionPool(cfg)
	if err != nil {
		return err
	}
	pool.Retire(key)

	return r.Render(struct {
		Domain  string `json:"domain"`
		Retired bool   `json:"retired"`
	}{key.Domain, true})
}
