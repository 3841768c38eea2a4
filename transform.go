package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"sort"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Model is a dbt model found in a compiled manifest.
type Model struct {
	UniqueID  string   `json:"unique_id"`
	Name      string   `json:"name"`
	Tags      []string `json:"tags"`
	DependsOn []string `json:"depends_on"`
}

type manifest struct {
	Nodes map[string]struct {
		Name         string   `json:"name"`
		ResourceType string   `json:"resource_type"`
		Tags         []string `json:"tags"`
		DependsOn    struct {
			Nodes []string `json:"nodes"`
		} `json:"depends_on"`
	} `json:"nodes"`
}

// DiscoverModels returns the models tagged with tag in the dbt manifest at
// path, sorted by unique id. A missing manifest yields no models.
func DiscoverModels(path, tag string) ([]Model, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return []Model{}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("failed to open manifest %s: %w", path, err)
	}
	defer f.Close()

	return parseManifest(f, tag)
}

func parseManifest(r io.Reader, tag string) ([]Model, error) {
	var m manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return nil, xerrors.Errorf("failed to decode manifest: %w", err)
	}

	models := []Model{}

	for id, n := range m.Nodes {
		if n.ResourceType != "model" || !hasTag(n.Tags, tag) {
			continue
		}

		models = append(models, Model{
			UniqueID:  id,
			Name:      n.Name,
			Tags:      n.Tags,
			DependsOn: n.DependsOn.Nodes,
		})
	}

	sort.Slice(models, func(i, j int) bool { return models[i].UniqueID < models[j].UniqueID })

	return models, nil
}

func hasTag(tags []string, tag string) bool {
	if tag == "" {
		return true
	}

	for _, t := range tags {
		if t == tag {
			return true
		}
	}

	return false
}

// commandRunner starts an external command and streams its combined output.
type commandRunner func(ctx context.Context, name string, args []string, out io.Writer) error

func execCommand(ctx context.Context, name string, args []string, out io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// Transformer builds dbt models through the dbt CLI.
type Transformer struct {
	// Executable is the dbt binary, "dbt" when empty.
	Executable  string
	ProjectDir  string
	ProfilesDir string
	Target      string

	run commandRunner
}

// Args returns the dbt command line arguments to build models.
func (t *Transformer) Args(models []Model) []string {
	profiles := t.ProfilesDir
	if profiles == "" {
		profiles = t.ProjectDir
	}

	args := []string{"build", "--project-dir", t.ProjectDir, "--profiles-dir", profiles}
	if t.Target != "" {
		args = append(args, "--target", t.Target)
	}

	args = append(args, "--select")
	for _, m := range models {
		args = append(args, m.Name)
	}

	return args
}

// Build runs dbt for models. Nothing runs when models is empty.
func (t *Transformer) Build(ctx context.Context, models []Model) error {
	l := log.Ctx(ctx)

	if len(models) == 0 {
		l.Info().Msg("no transformation models to build")
		return nil
	}

	exe := t.Executable
	if exe == "" {
		exe = "dbt"
	}

	run := t.run
	if run == nil {
		run = execCommand
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		s := bufio.NewScanner(pr)
		for s.Scan() {
			l.Info().Str("tool", "dbt").Msg(s.Text())
		}
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := run(ctx, exe, t.Args(models), pw)
	pw.Close()
	<-done

	if err != nil {
		return xerrors.Errorf("failed to build %d models: %w", len(models), err)
	}

	l.Info().Int("models", len(models)).Msg("transformation models built")

	return nil
}
