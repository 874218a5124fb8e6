package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ragstack-dev/ragctl/internal/deploy"
)

func TestExitCodePerFailureClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"preflight", &deploy.PreflightError{Capability: "kubectl"}, exitPreflight},
		{"provision", &deploy.ProvisionError{Resource: "pg", Err: errors.New("boom")}, exitProvision},
		{"readiness", &deploy.ReadinessError{Dependency: "pg", Err: errors.New("timeout")}, exitReadinessTimeout},
		{"render", &deploy.RenderError{Err: errors.New("bad spec")}, exitRenderValidation},
		{"wrapped", fmt.Errorf("deploy: %w", &deploy.PreflightError{Capability: "docker"}), exitPreflight},
		{"other", errors.New("unexpected"), exitFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}
