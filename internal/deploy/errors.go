// Package deploy sequences preflight, provisioning, rendering, apply and
// readiness into a single forward-only pipeline with explicit failure states.
package deploy

import (
	"fmt"
	"sort"
	"strings"
)

// PreflightError reports a fatal missing capability. It is raised before any
// external mutation, so a re-run after fixing the input is always safe.
type PreflightError struct {
	// Capability is the failed capability name.
	Capability string
	// Reason explains the failure.
	Reason string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight failed: %s: %s", e.Capability, e.Reason)
}

// ProvisionError reports that the platform rejected a create, start or
// post-create configuration step. Already provisioned resources are left in
// place for inspection and later teardown.
type ProvisionError struct {
	// Resource is the resource being provisioned.
	Resource string
	// Err is the underlying platform error.
	Err error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning %q failed: %v", e.Resource, e.Err)
}

// Unwrap returns the underlying platform error.
func (e *ProvisionError) Unwrap() error { return e.Err }

// RenderError reports a manifest validation or encoding failure. It is raised
// before apply, so nothing has been mutated by this stage.
type RenderError struct {
	// Err is the underlying validation error.
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render failed: %v", e.Err) }

// Unwrap returns the underlying validation error.
func (e *RenderError) Unwrap() error { return e.Err }

// ReadinessError reports that a dependency never became healthy within its
// probe window. Provisioned resources are left in place.
type ReadinessError struct {
	// Dependency is the probed dependency name.
	Dependency string
	// Err is the timeout error carrying the last observed probe failure.
	Err error
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("dependency %q failed readiness: %v", e.Dependency, e.Err)
}

// Unwrap returns the underlying timeout error.
func (e *ReadinessError) Unwrap() error { return e.Err }

// TeardownError reports that some but not all managed resources were removed.
// Teardown continues past individual failures so one stuck resource does not
// block the rest.
type TeardownError struct {
	// Failures maps resource names to their removal errors.
	Failures map[string]error
}

func (e *TeardownError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", name, e.Failures[name]))
	}
	return fmt.Sprintf("teardown incomplete (%d failure(s)): %s", len(e.Failures), strings.Join(parts, "; "))
}
