// Package preflight verifies required external tools, daemons and credentials
// before the pipeline mutates anything. A broken prerequisite must never leave
// partial provisioning behind.
package preflight

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// StatusKind classifies the outcome of one capability check.
type StatusKind string

const (
	// StatusOK means the capability is present and usable.
	StatusOK StatusKind = "ok"
	// StatusMissing means the capability is absent or unusable; fatal for
	// required capabilities.
	StatusMissing StatusKind = "missing"
	// StatusDegraded means the capability is absent but the deployment can
	// proceed in a reduced mode (e.g. CPU-only without a GPU).
	StatusDegraded StatusKind = "degraded"
)

// Status is the result of a single capability check.
type Status struct {
	// Kind is the check outcome.
	Kind StatusKind
	// Reason explains a Missing or Degraded outcome.
	Reason string
}

// Result pairs a capability name with its check outcome.
type Result struct {
	// Capability is the checked capability name.
	Capability string
	// Fatal marks capabilities whose absence aborts the plan.
	Fatal bool
	// Status is the check outcome.
	Status Status
}

// Report aggregates all capability results for one preflight run.
type Report struct {
	// Results lists per-capability outcomes in check order.
	Results []Result
}

// FirstFatal returns the first fatal failed capability, if any.
func (r Report) FirstFatal() (Result, bool) {
	for _, res := range r.Results {
		if res.Fatal && res.Status.Kind == StatusMissing {
			return res, true
		}
	}
	return Result{}, false
}

// GPUAvailable reports whether the GPU capability checked out OK.
func (r Report) GPUAvailable() bool {
	for _, res := range r.Results {
		if res.Capability == CapabilityGPU {
			return res.Status.Kind == StatusOK
		}
	}
	return false
}

// Capability names used in reports.
const (
	CapabilityGPU        = "gpu"
	CapabilityDocker     = "docker-daemon"
	CapabilityCredential = "llm-credential"
)

// Requirements describes what a deployment target needs checked.
type Requirements struct {
	// Binaries lists tool names that must be present on PATH.
	Binaries []string
	// Daemon requires the container runtime daemon to be reachable.
	Daemon bool
	// Credential triggers a liveness call against the LLM API when set.
	Credential *CredentialCheck
	// GPU probes for GPU visibility; absence is degraded, never fatal.
	GPU bool
}

// CredentialCheck describes the outbound liveness call validating an API key.
type CredentialCheck struct {
	// BaseURL is the API base URL; the models listing endpoint is probed.
	BaseURL string
	// APIKey is the bearer token under test.
	APIKey string
}

// Checker runs capability checks. The function fields exist so tests can
// substitute the host interactions.
type Checker struct {
	logger *slog.Logger

	// LookPath resolves a binary on PATH; defaults to exec.LookPath.
	LookPath func(name string) (string, error)
	// PingDaemon checks container runtime reachability.
	PingDaemon func(ctx context.Context) error
	// RunGPUQuery invokes the GPU driver query tool.
	RunGPUQuery func(ctx context.Context) error
	// HTTPClient performs the credential liveness call.
	HTTPClient *http.Client
}

// NewChecker constructs a Checker with host-backed defaults. pingDaemon may
// be nil when the requirements will not include a daemon check.
func NewChecker(logger *slog.Logger, pingDaemon func(ctx context.Context) error) *Checker {
	return &Checker{
		logger:     logger,
		LookPath:   exec.LookPath,
		PingDaemon: pingDaemon,
		RunGPUQuery: func(ctx context.Context) error {
			return exec.CommandContext(ctx, "nvidia-smi", "-L").Run()
		},
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Run executes every requested check and returns the full report. Run itself
// only errors on malformed requirements; callers decide fatality from the
// report so that all failures are visible at once.
func (c *Checker) Run(ctx context.Context, req Requirements) (Report, error) {
	var report Report

	for _, bin := range req.Binaries {
		report.Results = append(report.Results, c.checkBinary(bin))
	}
	if req.Daemon {
		report.Results = append(report.Results, c.checkDaemon(ctx))
	}
	if req.Credential != nil {
		res, err := c.checkCredential(ctx, *req.Credential)
		if err != nil {
			return report, err
		}
		report.Results = append(report.Results, res)
	}
	if req.GPU {
		report.Results = append(report.Results, c.checkGPU(ctx))
	}

	for _, res := range report.Results {
		switch res.Status.Kind {
		case StatusOK:
			c.log().Info("preflight check ok", "capability", res.Capability)
		case StatusDegraded:
			c.log().Warn("preflight check degraded", "capability", res.Capability, "reason", res.Status.Reason)
		case StatusMissing:
			c.log().Error("preflight check failed", "capability", res.Capability, "reason", res.Status.Reason)
		}
	}

	return report, nil
}

func (c *Checker) checkBinary(name string) Result {
	res := Result{Capability: name, Fatal: true}
	if _, err := c.LookPath(name); err != nil {
		res.Status = Status{Kind: StatusMissing, Reason: fmt.Sprintf("%s not found in PATH", name)}
		return res
	}
	res.Status = Status{Kind: StatusOK}
	return res
}

func (c *Checker) checkDaemon(ctx context.Context) Result {
	res := Result{Capability: CapabilityDocker, Fatal: true}
	if c.PingDaemon == nil {
		res.Status = Status{Kind: StatusMissing, Reason: "container runtime client unavailable"}
		return res
	}
	if err := c.PingDaemon(ctx); err != nil {
		res.Status = Status{Kind: StatusMissing, Reason: fmt.Sprintf("container runtime daemon unreachable: %v", err)}
		return res
	}
	res.Status = Status{Kind: StatusOK}
	return res
}

// checkCredential performs one outbound liveness call. An authentication
// status from the API is reported distinctly from a transport failure so the
// operator knows whether the key or the network is suspect.
func (c *Checker) checkCredential(ctx context.Context, cred CredentialCheck) (Result, error) {
	res := Result{Capability: CapabilityCredential, Fatal: true}

	url := strings.TrimSuffix(cred.BaseURL, "/") + "/models"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return res, fmt.Errorf("build credential check request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		res.Status = Status{Kind: StatusMissing, Reason: fmt.Sprintf("API endpoint unreachable (network problem, not the key): %v", err)}
		return res, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		res.Status = Status{Kind: StatusMissing, Reason: fmt.Sprintf("API rejected the key (HTTP %d); check the credential, not the network", resp.StatusCode)}
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		res.Status = Status{Kind: StatusOK}
	default:
		res.Status = Status{Kind: StatusMissing, Reason: fmt.Sprintf("API returned unexpected status %s", resp.Status)}
	}
	return res, nil
}

func (c *Checker) checkGPU(ctx context.Context) Result {
	res := Result{Capability: CapabilityGPU, Fatal: false}
	if _, err := c.LookPath("nvidia-smi"); err != nil {
		res.Status = Status{Kind: StatusDegraded, Reason: "nvidia-smi not found; continuing in CPU mode"}
		return res
	}
	if err := c.RunGPUQuery(ctx); err != nil {
		res.Status = Status{Kind: StatusDegraded, Reason: fmt.Sprintf("no GPU visible: %v; continuing in CPU mode", err)}
		return res
	}
	res.Status = Status{Kind: StatusOK}
	return res
}

func (c *Checker) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
