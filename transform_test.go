package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const testManifest = `{
  "nodes": {
    "model.analytics.stg_user_events": {
      "name": "stg_user_events",
      "resource_type": "model",
      "tags": ["dagster", "staging"],
      "depends_on": {"nodes": ["source.analytics.raw.raw_user_events"]}
    },
    "model.analytics.daily_active_users": {
      "name": "daily_active_users",
      "resource_type": "model",
      "tags": ["dagster"],
      "depends_on": {"nodes": ["model.analytics.stg_user_events"]}
    },
    "model.analytics.scratch": {
      "name": "scratch",
      "resource_type": "model",
      "tags": []
    },
    "test.analytics.not_null_user_id": {
      "name": "not_null_user_id",
      "resource_type": "test",
      "tags": ["dagster"]
    }
  }
}`

func TestParseManifest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		tag    string
		expect []string
	}{
		{name: "tagged", tag: "dagster", expect: []string{"daily_active_users", "stg_user_events"}},
		{name: "other tag", tag: "staging", expect: []string{"stg_user_events"}},
		{name: "no tag", tag: "", expect: []string{"daily_active_users", "scratch", "stg_user_events"}},
		{name: "unknown tag", tag: "marts", expect: []string{}},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			models, err := parseManifest(strings.NewReader(testManifest), c.tag)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			names := []string{}
			for _, m := range models {
				names = append(names, m.Name)
			}
			if !reflect.DeepEqual(names, c.expect) {
				t.Errorf("models should be %v, but %v", c.expect, names)
			}
		})
	}
}

func TestParseManifest_dependsOn(t *testing.T) {
	t.Parallel()

	models, err := parseManifest(strings.NewReader(testManifest), "staging")
	if err != nil {
		t.Fatal(err)
	}

	expect := []string{"source.analytics.raw.raw_user_events"}
	if !reflect.DeepEqual(models[0].DependsOn, expect) {
		t.Errorf("DependsOn should be %v, but %v", expect, models[0].DependsOn)
	}
}

func TestDiscoverModels_missing(t *testing.T) {
	t.Parallel()

	models, err := DiscoverModels(filepath.Join(t.TempDir(), "manifest.json"), "dagster")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if models == nil || len(models) != 0 {
		t.Errorf("models should be an empty list, but %#v", models)
	}
}

func TestTransformer_Args(t *testing.T) {
	t.Parallel()

	tr := &Transformer{ProjectDir: "/opt/analytics/dbt", Target: "prod"}
	models := []Model{{Name: "stg_user_events"}, {Name: "daily_active_users"}}

	expect := []string{
		"build",
		"--project-dir", "/opt/analytics/dbt",
		"--profiles-dir", "/opt/analytics/dbt",
		"--target", "prod",
		"--select", "stg_user_events", "daily_active_users",
	}
	if got := tr.Args(models); !reflect.DeepEqual(got, expect) {
		t.Errorf("Args should be %v, but %v", expect, got)
	}
}

func TestTransformer_Build(t *testing.T) {
	t.Parallel()

	var (
		calls   int
		gotName string
		gotArgs []string
	)
	tr := &Transformer{
		ProjectDir: "/opt/analytics/dbt",
		run: func(_ context.Context, name string, args []string, out io.Writer) error {
			calls++
			gotName = name
			gotArgs = args
			fmt.Fprintln(out, "Running with dbt=1.7.0")
			fmt.Fprintln(out, "Completed successfully")
			return nil
		},
	}

	if err := tr.Build(context.Background(), nil); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("runner should not be called without models, but called %d times", calls)
	}

	if err := tr.Build(context.Background(), []Model{{Name: "stg_user_events"}}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("runner should be called once, but %d", calls)
	}
	if gotName != "dbt" {
		t.Errorf(`executable should be "dbt", but %q`, gotName)
	}
	if gotArgs[len(gotArgs)-1] != "stg_user_events" {
		t.Errorf("args should select the model, but %v", gotArgs)
	}
}

func TestTransformer_Build_failure(t *testing.T) {
	t.Parallel()

	errExit := errors.New("exit status 1")
	tr := &Transformer{
		run: func(context.Context, string, []string, io.Writer) error { return errExit },
	}

	err := tr.Build(context.Background(), []Model{{Name: "stg_user_events"}})
	if !errors.Is(err, errExit) {
		t.Errorf("error should wrap the runner error, but %v", err)
	}
}
