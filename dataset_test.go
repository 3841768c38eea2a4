package pipeline

import (
	"context"
	"net/http"
	"testing"

	"google.golang.org/api/googleapi"
)

func TestDatasetProvisioner_Ensure_existing(t *testing.T) {
	t.Parallel()

	wh := newTestWarehouse(newTestObjectStore())
	wh.datasets["analytics_data"] = true
	p := &DatasetProvisioner{Dataset: "analytics_data", Location: "asia-southeast1", wh: wh}

	for i := 0; i < 2; i++ {
		created, err := p.Ensure(context.Background())
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if created {
			t.Error("created should be false for an existing dataset")
		}
	}

	if wh.createCalls != 0 {
		t.Errorf("createCalls should be 0, but %d", wh.createCalls)
	}
	if wh.metadataCalls != 2 {
		t.Errorf("metadataCalls should be 2, but %d", wh.metadataCalls)
	}
}

func TestDatasetProvisioner_Ensure_missing(t *testing.T) {
	t.Parallel()

	wh := newTestWarehouse(newTestObjectStore())
	p := &DatasetProvisioner{Dataset: "analytics_data", Location: "asia-southeast1", wh: wh}

	created, err := p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !created {
		t.Error("created should be true for a missing dataset")
	}
	if !wh.datasets["analytics_data"] {
		t.Error("dataset should exist after Ensure")
	}

	created, err = p.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if created {
		t.Error("second Ensure should not create the dataset again")
	}
	if wh.createCalls != 1 {
		t.Errorf("createCalls should be 1, but %d", wh.createCalls)
	}
}

func TestDatasetProvisioner_Ensure_errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		createErr error
		expectErr bool
	}{
		{
			name:      "created concurrently",
			createErr: &googleapi.Error{Code: http.StatusConflict, Message: "Already Exists"},
			expectErr: false,
		},
		{
			name:      "permission denied",
			createErr: &googleapi.Error{Code: http.StatusForbidden, Message: "Access Denied"},
			expectErr: true,
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			wh := newTestWarehouse(newTestObjectStore())
			wh.createErr = c.createErr
			p := &DatasetProvisioner{Dataset: "analytics_data", wh: wh}

			created, err := p.Ensure(context.Background())
			if c.expectErr && err == nil {
				t.Error("expected error but no error occurred")
			}
			if !c.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if created {
				t.Error("created should be false when the create call failed")
			}
		})
	}
}
