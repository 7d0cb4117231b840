package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ferret/cli/render"
	"github.com/justapithecus/ferret/events"
	"github.com/justapithecus/ferret/intervention"
	"github.com/justapithecus/ferret/log"
)

// InterventionsCommand returns the interventions command with
// subcommands for the human side of the queue.
func InterventionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "interventions",
		Aliases: []string{"iv"},
		Usage:   "List and resolve human intervention tasks",
		Subcommands: []*cli.Command{
			interventionsListCommand(),
			interventionsResolveCommand(),
			interventionsCancelCommand(),
		},
	}
}

func interventionsListCommand() *cli.Command {
	return &cli.Command{
		Name:   "list",
		Usage:  "List open intervention tasks, most urgent first",
		Flags:  ReadOnlyFlags(),
		Action: interventionsListAction,
	}
}

func interventionsListAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := st.ListOpenInterventions(ctx)
	if err != nil {
		return err
	}
	return r.Render(tasks)
}

func interventionsResolveCommand() *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Resolve a task and re-enqueue its run",
		ArgsUsage: "<intervention-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "file",
				Usage: "Path to a JSON resolution payload (selectors, session material, ...)",
			},
			&cli.StringFlag{
				Name:  "by",
				Usage: "Resolver identity recorded on the task",
				Value: "operator",
			},
		),
		Action: interventionsResolveAction,
	}
}

func interventionsResolveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "usage: ferret interventions resolve <intervention-id>")
	if err != nil {
		return err
	}

	resolution := map[string]any{}
	if path := c.String("file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read resolution: %w", err)
		}
		if err := json.Unmarshal(data, &resolution); err != nil {
			return fmt.Errorf("invalid resolution JSON: %w", err)
		}
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Session material in the resolution lands in the pool so the
	// re-enqueued run can pick it up.
	pool, err := sessionPool(cfg)
	if err != nil {
		return err
	}
	client, err := redisClient(cfg)
	if err != nil {
		return err
	}

	eng := intervention.New(st, intervention.Options{
		Sessions: pool,
		Events:   events.New(st, client, log.NewNop()),
		TTL:      cfg.Intervention.TTLFor,
	})
	done, err := eng.Resolve(ctx, id, resolution, c.String("by"))
	if err != nil {
		return err
	}
	if !done {
		return cli.Exit(fmt.Sprintf("intervention %s is already closed", id), 1)
	}

	return r.Render(struct {
		InterventionID string `json:"intervention_id"`
		Resolved       bool   `json:"resolved"`
		By             string `json:"resolved_by"`
	}{id.String(), true, c.String("by")})
}

func interventionsCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Close a task without resuming its run",
		ArgsUsage: "<intervention-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "by",
				Usage: "Resolver identity recorded on the task",
				Value: "operator",
			},
		),
		Action: interventionsCancelAction,
	}
}

func interventionsCancelAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "usage: ferret interventions cancel <intervention-id>")
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng := intervention.New(st, intervention.Options{TTL: cfg.Intervention.TTLFor})
	done, err := eng.Cancel(ctx, id, c.String("by"))
	if err != nil {
		return err
	}
	if !done {
		return cli.Exit(fmt.Sprintf("intervention %s is already closed", id), 1)
	}

	return r.Render(struct {
		InterventionID string `json:"intervention_id"`
		Cancelled      bool   `json:"cancelled"`
	}{id.String(), true})
}
