package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/ragstack-dev/ragctl/internal/config"
	"github.com/ragstack-dev/ragctl/internal/preflight"
	"github.com/ragstack-dev/ragctl/internal/provision"
	"github.com/ragstack-dev/ragctl/internal/readiness"
	"github.com/ragstack-dev/ragctl/internal/render"
)

// State is the sequencer's position in the pipeline. Transitions are forward
// only: a failed run never retries a stage within the same invocation.
type State string

const (
	// StateIdle is the initial state.
	StateIdle State = "idle"
	// StatePreflighting runs capability checks.
	StatePreflighting State = "preflighting"
	// StateProvisioning ensures infrastructure resources.
	StateProvisioning State = "provisioning"
	// StateRendering validates and renders manifests.
	StateRendering State = "rendering"
	// StateAwaiting polls dependencies for readiness.
	StateAwaiting State = "awaiting"
	// StateReady is the terminal success state.
	StateReady State = "ready"
	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// Checker runs preflight capability checks.
type Checker interface {
	Run(ctx context.Context, req preflight.Requirements) (preflight.Report, error)
}

// ResourceProvisioner ensures and destroys external resources.
type ResourceProvisioner interface {
	Ensure(ctx context.Context, res provision.Resource) (provision.Handle, error)
	Destroy(ctx context.Context, h provision.Handle) error
}

// Applier submits rendered manifests to a cluster. Unused by the local target.
type Applier interface {
	Apply(ctx context.Context, yaml []byte) error
}

// Backends bundles the side-effecting dependencies the sequencer drives.
// Fields a target does not use may be nil; tests substitute fakes.
type Backends struct {
	Checker     Checker
	Provisioner ResourceProvisioner
	Applier     Applier
	// Exec runs a command inside a managed container (model pulls).
	Exec func(ctx context.Context, container string, cmd []string) error
	// DeploymentCheck builds a readiness check for a cluster Deployment.
	DeploymentCheck func(namespace, name string) func(ctx context.Context) error
	// HTTPClient performs HTTP readiness probes.
	HTTPClient *http.Client
	// Wait overrides the polling primitive; nil uses the real one.
	Wait func(ctx context.Context, logger *slog.Logger, probe readiness.Probe) error
}

// Record is the durable outcome of one deploy: what preflight saw, what was
// ensured, and what was rendered.
type Record struct {
	// State is the terminal sequencer state.
	State State
	// Report is the preflight report; zero when preflight was skipped.
	Report preflight.Report
	// Handles lists every ensured resource in order.
	Handles []provision.Handle
	// Compose is the rendered compose document (local target).
	Compose []byte
	// Manifests are the rendered cluster manifests (cluster targets).
	Manifests []render.Manifest
}

// Options tunes a single Deploy invocation.
type Options struct {
	// SkipPreflight bypasses capability checks. The model server then runs
	// in CPU mode since GPU visibility was never established.
	SkipPreflight bool
	// DryRun stops after rendering; nothing is provisioned or applied.
	DryRun bool
}

// Sequencer drives one deployment through the pipeline. It is single-use:
// construct a new one per invocation.
type Sequencer struct {
	logger *slog.Logger
	// planFn builds the plan once GPU availability is known.
	planFn func(gpuAvailable bool) (*Plan, error)
	b      Backends
	state  State
}

// NewSequencer constructs a Sequencer around a plan builder and its backends.
func NewSequencer(logger *slog.Logger, planFn func(gpuAvailable bool) (*Plan, error), backends Backends) *Sequencer {
	return &Sequencer{logger: logger, planFn: planFn, b: backends, state: StateIdle}
}

// State reports the sequencer's current pipeline state.
func (s *Sequencer) State() State { return s.state }

// Deploy runs the pipeline to completion. The returned record is valid even
// on failure and describes everything that happened before the failing stage.
// Resources ensured before a failure are left in place for inspection.
func (s *Sequencer) Deploy(ctx context.Context, opts Options) (*Record, error) {
	rec := &Record{}

	plan, err := s.runPreflight(ctx, rec, opts)
	if err != nil {
		return rec, s.fail(rec, err)
	}

	if !opts.DryRun {
		s.transition(StateProvisioning)
		if err := s.provision(ctx, rec, plan.Infra); err != nil {
			return rec, s.fail(rec, err)
		}
	}

	s.transition(StateRendering)
	if err := s.renderPlan(rec, plan); err != nil {
		return rec, s.fail(rec, err)
	}
	if opts.DryRun {
		rec.State = s.state
		s.log().Info("dry run complete, nothing provisioned or applied")
		return rec, nil
	}

	if err := s.apply(ctx, rec, plan); err != nil {
		return rec, s.fail(rec, err)
	}

	s.transition(StateAwaiting)
	if err := s.await(ctx, plan); err != nil {
		return rec, s.fail(rec, err)
	}

	s.transition(StateReady)
	rec.State = s.state
	s.log().Info("stack ready",
		"target", plan.Target,
		"resources", len(rec.Handles),
		"reused", countReused(rec.Handles),
	)
	return rec, nil
}

func (s *Sequencer) runPreflight(ctx context.Context, rec *Record, opts Options) (*Plan, error) {
	// Requirements do not depend on GPU visibility, so the pre-GPU plan is
	// good enough to drive the checks.
	plan, err := s.planFn(false)
	if err != nil {
		return nil, err
	}

	if opts.SkipPreflight {
		s.log().Warn("preflight skipped by request")
		return plan, nil
	}

	s.transition(StatePreflighting)
	report, err := s.b.Checker.Run(ctx, plan.Requirements)
	if err != nil {
		return nil, err
	}
	rec.Report = report
	if fatal, ok := report.FirstFatal(); ok {
		return nil, &PreflightError{Capability: fatal.Capability, Reason: fatal.Status.Reason}
	}

	if report.GPUAvailable() {
		return s.planFn(true)
	}
	return plan, nil
}

func (s *Sequencer) provision(ctx context.Context, rec *Record, resources []provision.Resource) error {
	for _, res := range resources {
		if err := s.stageFiles(res); err != nil {
			return &ProvisionError{Resource: res.Name, Err: err}
		}
		h, err := s.b.Provisioner.Ensure(ctx, res)
		if err != nil {
			return &ProvisionError{Resource: res.Name, Err: err}
		}
		rec.Handles = append(rec.Handles, h)
	}
	return nil
}

// stageFiles writes bind-mounted file contents to their host paths before a
// local container run. Cluster targets project files through ConfigMaps
// instead and have no host-path mounts.
func (s *Sequencer) stageFiles(res provision.Resource) error {
	if res.Kind != provision.KindContainer || res.Container == nil {
		return nil
	}
	for _, m := range res.Container.Mounts {
		if m.HostPath == "" || res.Container.Files == nil {
			continue
		}
		content, ok := res.Container.Files[m.HostPath]
		if !ok {
			continue
		}
		if err := os.WriteFile(m.HostPath, []byte(content), 0o600); err != nil {
			return fmt.Errorf("stage file %q: %w", m.HostPath, err)
		}
	}
	return nil
}

func (s *Sequencer) renderPlan(rec *Record, plan *Plan) error {
	var err error
	switch plan.Target {
	case config.TargetLocal:
		rec.Compose, err = render.Compose(plan.Render)
	default:
		rec.Manifests, err = render.Kubernetes(plan.Render)
	}
	if err != nil {
		return &RenderError{Err: err}
	}
	return nil
}

func (s *Sequencer) apply(ctx context.Context, rec *Record, plan *Plan) error {
	if plan.Target == config.TargetLocal {
		return s.provision(ctx, rec, plan.Apps)
	}
	if err := s.b.Applier.Apply(ctx, render.MultiDocument(rec.Manifests)); err != nil {
		return &ProvisionError{Resource: "manifests", Err: err}
	}
	return nil
}

func (s *Sequencer) await(ctx context.Context, plan *Plan) error {
	wait := s.b.Wait
	if wait == nil {
		wait = readiness.Wait
	}

	for _, target := range plan.Probes {
		probe, err := s.probeFor(target, plan)
		if err != nil {
			return err
		}
		if err := wait(ctx, s.log(), probe); err != nil {
			var timeout *readiness.TimeoutError
			if errors.As(err, &timeout) {
				return &ReadinessError{Dependency: target.Name, Err: err}
			}
			return err
		}
		s.log().Info("dependency ready", "name", target.Name)

		if plan.ModelPull != nil && plan.ModelPull.AfterProbe == target.Name {
			if err := s.pullModel(ctx, plan.ModelPull); err != nil {
				return err
			}
		}
	}
	return nil
}

// pullModel fetches the embedding model inside the model-server container.
// The pull is idempotent on the server side; re-pulling a present model is a
// fast no-op.
func (s *Sequencer) pullModel(ctx context.Context, pull *ModelPull) error {
	s.log().Info("pulling embedding model", "container", pull.Container, "model", pull.Model)
	if err := s.b.Exec(ctx, pull.Container, []string{"ollama", "pull", pull.Model}); err != nil {
		return &ProvisionError{Resource: pull.Container, Err: fmt.Errorf("pull model %q: %w", pull.Model, err)}
	}
	return nil
}

func (s *Sequencer) probeFor(target ProbeTarget, plan *Plan) (readiness.Probe, error) {
	probe := readiness.Probe{
		Name:        target.Name,
		Interval:    plan.ProbeDefaults.IntervalOr(readiness.DefaultInterval),
		Timeout:     plan.ProbeDefaults.TimeoutOr(readiness.DefaultTimeout),
		MaxAttempts: plan.ProbeDefaults.AttemptsOr(readiness.DefaultMaxAttempts),
	}
	switch target.Kind {
	case ProbeHTTP:
		probe.Check = readiness.HTTPCheck(s.b.HTTPClient, target.URL)
	case ProbeTCP:
		probe.Check = readiness.TCPCheck(target.Addr)
	case ProbeDeployment:
		probe.Check = s.b.DeploymentCheck(plan.Namespace, target.Deployment)
	default:
		return probe, fmt.Errorf("unknown probe kind %q for %q", target.Kind, target.Name)
	}
	return probe, nil
}

// Teardown removes every managed resource in reverse provisioning order.
// Externally owned resources are preserved and returned; removal failures are
// collected so one stuck resource does not shield the rest. Teardown does not
// require a prior Deploy in the same process.
func (s *Sequencer) Teardown(ctx context.Context) (preserved []provision.Handle, err error) {
	plan, err := s.planFn(false)
	if err != nil {
		return nil, err
	}

	resources := append(append([]provision.Resource{}, plan.Infra...), plan.Apps...)
	failures := make(map[string]error)

	// A namespace inside a cluster this pass deletes goes away with the
	// cluster, and on a repeat teardown the cluster's API server is already
	// gone. Either way there is nothing to ask it to remove.
	ownsCluster := false
	for _, res := range resources {
		if res.Kind == provision.KindCluster && !res.External {
			ownsCluster = true
		}
	}

	for i := len(resources) - 1; i >= 0; i-- {
		res := resources[i]
		h := provision.Handle{Name: res.Name, Kind: res.Kind, External: res.External}

		if res.Kind == provision.KindNamespace && ownsCluster {
			s.log().Debug("namespace removed with its cluster", "name", res.Name)
			continue
		}

		if res.External {
			preserved = append(preserved, h)
			s.log().Info("preserving externally owned resource", "name", res.Name, "kind", res.Kind)
			continue
		}

		switch err := s.b.Provisioner.Destroy(ctx, h); {
		case err == nil:
			s.log().Info("resource removed", "name", res.Name, "kind", res.Kind)
		case errors.Is(err, provision.ErrPreserved):
			h.External = true
			preserved = append(preserved, h)
			s.log().Warn("resource preserved", "name", res.Name, "reason", err)
		default:
			failures[res.Name] = err
			s.log().Error("resource removal failed", "name", res.Name, "error", err)
		}
	}

	if len(failures) > 0 {
		return preserved, &TeardownError{Failures: failures}
	}
	return preserved, nil
}

func (s *Sequencer) transition(next State) {
	s.log().Debug("pipeline state change", "from", s.state, "to", next)
	s.state = next
}

func (s *Sequencer) fail(rec *Record, err error) error {
	s.state = StateFailed
	rec.State = s.state
	s.log().Error("deployment failed", "state", StateFailed, "error", err)
	return err
}

func (s *Sequencer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func countReused(handles []provision.Handle) int {
	n := 0
	for _, h := range handles {
		if h.Reused {
			n++
		}
	}
	return n
}
