package cmd

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/ferret/cli/render"
	"github.com/justapithecus/ferret/config"
	"github.com/justapithecus/ferret/events"
	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/types"
)

// RunCommand returns the run command with subcommands.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Enqueue and inspect runs",
		Subcommands: []*cli.Command{
			runEnqueueCommand(),
			runShowCommand(),
			runEventsCommand(),
		},
	}
}

func runEnqueueCommand() *cli.Command {
	return &cli.Command{
		Name:      "enqueue",
		Usage:     "Queue a new run for a job",
		ArgsUsage: "<job-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:  "engine",
				Usage: "Override the job's engine mode for this run (auto, http, browser, provider)",
			},
		),
		Action: runEnqueueAction,
	}
}

func runEnqueueAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	jobID, err := parseID(c, "usage: ferret run enqueue <job-id>")
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	mode := job.EngineMode
	if m := c.String("engine"); m != "" {
		mode = types.EngineMode(m)
		if err := mode.Validate(); err != nil {
			return err
		}
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = config.DefaultMaxAttempts
	}

	run := &types.Run{
		ID:            uuid.New(),
		JobID:         job.ID,
		Status:        types.RunStatusQueued,
		Attempt:       1,
		MaxAttempts:   maxAttempts,
		RequestedMode: mode,
	}
	if err := st.CreateRun(ctx, run, time.Time{}); err != nil {
		return err
	}

	return r.Render(struct {
		RunID  string `json:"run_id"`
		JobID  string `json:"job_id"`
		Status string `json:"status"`
		Mode   string `json:"engine_mode"`
	}{run.ID.String(), job.ID.String(), string(run.Status), string(mode)})
}

func runShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a run and its engine attempts",
		ArgsUsage: "<run-id>",
		Flags:     ReadOnlyFlags(),
		Action:    runShowAction,
	}
}

func runShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "usage: ferret run show <run-id>")
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(ctx, id)
	if err != nil {
		return err
	}
	attempts, err := st.ListEngineAttempts(ctx, id)
	if err != nil {
		return err
	}
	records, err := st.CountRecords(ctx, id)
	if err != nil {
		return err
	}

	return r.Render(struct {
		Run      *types.Run            `json:"run"`
		Attempts []types.EngineAttempt `json:"attempts"`
		Records  int                   `json:"records"`
	}{run, attempts, records})
}

func runEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Show a run's timeline, optionally following live",
		ArgsUsage: "<run-id>",
		Flags: append(ReadOnlyFlags(),
			&cli.Int64Flag{
				Name:  "after",
				Usage: "Only events with a sequence greater than this",
			},
			&cli.BoolFlag{
				Name:  "follow",
				Usage: "Stream live events until interrupted (requires redis_url)",
			},
		),
		Action: runEventsAction,
	}
}

func runEventsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "usage: ferret run events <run-id>")
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if !c.Bool("follow") {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		evs, err := st.ListEvents(ctx, id, c.Int64("after"))
		if err != nil {
			return err
		}
		return r.Render(evs)
	}

	client, err := redisClient(cfg)
	if err != nil {
		return err
	}
	emitter := events.New(st, client, log.NewNop())
	ch, err := emitter.Follow(ctx, id, c.Int64("after"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}
