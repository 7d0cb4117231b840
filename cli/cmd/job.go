package cmd

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/ferret/cli/render"
	"github.com/justapithecus/ferret/config"
	"github.com/justapithecus/ferret/types"
)

// jobSpec is the YAML shape operators write for `job create`.
type jobSpec struct {
	Name          string      `yaml:"name"`
	URL           string      `yaml:"url"`
	Engine        string      `yaml:"engine"` // auto, http, browser, provider
	Mode          string      `yaml:"mode"`   // single, list
	RequiresAuth  bool        `yaml:"requires_auth"`
	ProxyIdentity string      `yaml:"proxy_identity"`
	MaxAttempts   int         `yaml:"max_attempts"`
	List          *listSpec   `yaml:"list"`
	Fields        []fieldSpec `yaml:"fields"`
}

type listSpec struct {
	ItemLinks  selectorSpec  `yaml:"item_links"`
	Pagination *selectorSpec `yaml:"pagination"`
	MaxPages   int           `yaml:"max_pages"`
	MaxItems   int           `yaml:"max_items"`
}

type fieldSpec struct {
	Name     string `yaml:"name"`
	CSS      string `yaml:"css"`
	Attr     string `yaml:"attr"`
	All      bool   `yaml:"all"`
	Regex    string `yaml:"regex"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

type selectorSpec struct {
	CSS  string `yaml:"css"`
	Attr string `yaml:"attr"`
	All  bool   `yaml:"all"`
}

// JobCommand returns the job command with subcommands.
func JobCommand() *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Manage scrape jobs",
		Subcommands: []*cli.Command{
			jobCreateCommand(),
			jobShowCommand(),
		},
	}
}

func jobCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a job and its field map from a YAML spec",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to the job spec YAML",
				Required: true,
			},
		),
		Action: jobCreateAction,
	}
}

func jobCreateAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.String("file"))
	if err != nil {
		return fmt.Errorf("read job spec: %w", err)
	}
	var spec jobSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("invalid job spec: %w", err)
	}

	job, fieldMap, err := spec.build(cfg)
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateJob(ctx, job); err != nil {
		return err
	}
	if err := st.CreateFieldMap(ctx, fieldMap); err != nil {
		return err
	}

	return r.Render(struct {
		JobID  string `json:"job_id"`
		Name   string `json:"name"`
		Domain string `json:"domain"`
		Fields int    `json:"fields"`
	}{job.ID.String(), job.Name, job.Domain(), len(fieldMap.Fields)})
}

// build converts the YAML spec into validated domain objects.
func (s *jobSpec) build(cfg *config.Config) (*types.Job, *types.FieldMap, error) {
	mode := types.EngineMode(s.Engine)
	if s.Engine == "" {
		mode = types.EngineModeAuto
	}
	crawl := types.CrawlMode(s.Mode)
	if s.Mode == "" {
		crawl = types.CrawlModeSingle
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = cfg.Engines.MaxAttempts
	}
	if maxAttempts == 0 {
		maxAttempts = config.DefaultMaxAttempts
	}

	job := &types.Job{
		ID:            uuid.New(),
		Name:          s.Name,
		TargetURL:     s.URL,
		EngineMode:    mode,
		CrawlMode:     crawl,
		RequiresAuth:  s.RequiresAuth,
		ProxyIdentity: s.ProxyIdentity,
		MaxAttempts:   maxAttempts,
	}
	if s.List != nil {
		job.List = &types.ListConfig{
			ItemLinks: types.SelectorRef{CSS: s.List.ItemLinks.CSS, Attr: s.List.ItemLinks.Attr, All: s.List.ItemLinks.All},
			MaxPages:  s.List.MaxPages,
			MaxItems:  s.List.MaxItems,
		}
		if p := s.List.Pagination; p != nil {
			job.List.Pagination = &types.SelectorRef{CSS: p.CSS, Attr: p.Attr, All: p.All}
		}
	}
	if err := job.Validate(); err != nil {
		return nil, nil, err
	}

	fieldMap := &types.FieldMap{
		ID:      uuid.New(),
		JobID:   job.ID,
		Version: 1,
	}
	for _, f := range s.Fields {
		fieldMap.Fields = append(fieldMap.Fields, types.SelectorSpec{
			Name:     f.Name,
			CSS:      f.CSS,
			Attr:     f.Attr,
			All:      f.All,
			Regex:    f.Regex,
			Type:     types.FieldType(f.Type),
			Required: f.Required,
		})
	}
	if len(fieldMap.Fields) == 0 {
		return nil, nil, fmt.Errorf("job spec: at least one field is required")
	}
	if err := fieldMap.Validate(); err != nil {
		return nil, nil, err
	}
	return job, fieldMap, nil
}

func jobShowCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a job and its field map",
		ArgsUsage: "<job-id>",
		Flags:     ReadOnlyFlags(),
		Action:    jobShowAction,
	}
}

func jobShowAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "usage: ferret job show <job-id>")
	if err != nil {
		return err
	}

	ctx := c.Context
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.GetJob(ctx, id)
	if err != nil {
		return err
	}
	fieldMap, err := st.GetFieldMap(ctx, id)
	if err != nil {
		return err
	}

	return r.Render(struct {
		Job      *types.Job      `json:"job"`
		FieldMap *types.FieldMap `json:"field_map"`
	}{job, fieldMap})
}
