package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shiv248/collabide/pkg/logger"
)

// ErrorKind names one of the closed Executor error variants. TimedOut is
// deliberately not one of them: a timeout is a normal outcome reported via
// ExecutionResult.TimedOut, never returned as an error.
type ErrorKind string

const (
	ErrInvalidRequest      ErrorKind = "invalid_request"
	ErrImagePullFailed     ErrorKind = "image_pull_failed"
	ErrContainerCreateFail ErrorKind = "container_create_failed"
	ErrExecAttachFailed    ErrorKind = "exec_attach_failed"
	ErrInternal            ErrorKind = "internal"
)

// ExecutorError is a closed-variant error: callers branch on Kind, not on
// string matching the message.
type ExecutorError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("sandbox: %s: %s", e.Kind, e.Msg)
}

func newExecutorError(kind ErrorKind, format string, args ...interface{}) *ExecutorError {
	return &ExecutorError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

const maxCodeBytes = 100_000

// ExecutionRequest is one disposable, confined run of user-submitted code.
type ExecutionRequest struct {
	Code     string
	Language Language
	Stdin    string
	Args     []string
}

// ExecutionResult is the outcome of one ExecutionRequest. A non-zero
// ExitCode is not itself an error — callers inspect the field.
type ExecutionResult struct {
	Stdout          string
	Stderr          string
	ExitCode        int64
	ExecutionTimeMs uint64
	TimedOut        bool
}

// Executor orchestrates one execution end to end: create container, stream
// code in, invoke the per-language compile-and-run command, collect bounded
// output, enforce the wall-clock timeout, and always destroy the container.
type Executor struct {
	driver  ContainerDriver
	limiter *rate.Limiter
}

// NewExecutor builds an Executor over driver. maxConcurrent bounds the rate
// at which new executions are admitted past validation (MAX_CONCURRENT_EXECUTIONS):
// a burst of maxConcurrent refilling at maxConcurrent/sec, so a sustained
// flood of requests queues at Execute rather than each spawning its own
// container unbounded. maxConcurrent <= 0 disables the gate.
func NewExecutor(driver ContainerDriver, maxConcurrent int) *Executor {
	var limiter *rate.Limiter
	if maxConcurrent > 0 {
		limiter = rate.NewLimiter(rate.Limit(maxConcurrent), maxConcurrent)
	}
	return &Executor{driver: driver, limiter: limiter}
}

// Execute runs request under limits. It performs the strictly sequential
// steps of the sandbox state machine; any failure past container creation
// tears the container down before returning.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest, limits ResourceLimits) (ExecutionResult, error) {
	// Step 1: validate.
	trimmed := strings.TrimSpace(req.Code)
	if trimmed == "" {
		return ExecutionResult{}, newExecutorError(ErrInvalidRequest, "code is empty")
	}
	if len(req.Code) > maxCodeBytes {
		return ExecutionResult{}, newExecutorError(ErrInvalidRequest, "code exceeds %d bytes", maxCodeBytes)
	}

	lang, err := lookup(req.Language, req.Args)
	if err != nil {
		return ExecutionResult{}, newExecutorError(ErrInvalidRequest, "%v", err)
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return ExecutionResult{}, newExecutorError(ErrInternal, "admission: %v", err)
		}
	}

	if err := e.driver.EnsureImage(ctx, lang.Image); err != nil {
		return ExecutionResult{}, newExecutorError(ErrImagePullFailed, "%v", err)
	}

	start := time.Now()

	// Step 2: create container.
	containerID, err := e.driver.CreateContainer(ctx, lang.Image, limits)
	if err != nil {
		return ExecutionResult{}, newExecutorError(ErrContainerCreateFail, "%v", err)
	}
	defer e.teardown(containerID)

	// Step 3: write code, bounded to the request's own context.
	writeCmd := []string{"sh", "-c", fmt.Sprintf("cat > /code/%s", lang.SourceFilename())}
	writeGroup, writeCtx := errgroup.WithContext(ctx)
	writeGroup.Go(func() error {
		_, _, _, err := e.driver.AttachExec(writeCtx, containerID, writeCmd, strings.NewReader(req.Code), limits.MaxOutputBytes)
		return err
	})
	if err := writeGroup.Wait(); err != nil {
		return ExecutionResult{}, newExecutorError(ErrExecAttachFailed, "write code: %v", err)
	}

	// Step 4 + 5: run, racing the output collector against timeout_secs. The
	// run call and the wall-clock deadline share one errgroup context so a
	// parent cancellation and a timeout both unwind the same way.
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(limits.TimeoutSecs)*time.Second)
	defer cancel()

	var stdin io.Reader
	if req.Stdin != "" {
		stdin = strings.NewReader(req.Stdin)
	}

	var stdout, stderr []byte
	var exitCode int
	runGroup, runGroupCtx := errgroup.WithContext(runCtx)
	runGroup.Go(func() error {
		var err error
		stdout, stderr, exitCode, err = e.driver.AttachExec(runGroupCtx, containerID, lang.Command, stdin, limits.MaxOutputBytes)
		return err
	})
	runErr := runGroup.Wait()

	elapsed := time.Since(start)

	if errors.Is(runErr, context.DeadlineExceeded) {
		return ExecutionResult{
			Stdout:          "",
			Stderr:          "Execution timed out",
			ExitCode:        -1,
			ExecutionTimeMs: uint64(elapsed.Milliseconds()),
			TimedOut:        true,
		}, nil
	}
	if runErr != nil {
		return ExecutionResult{}, newExecutorError(ErrExecAttachFailed, "run: %v", runErr)
	}

	// Step 6 (bounding) already happened inside driver.AttachExec via the
	// bounded output buffers; nothing further to discard here.

	return ExecutionResult{
		Stdout:          string(stdout),
		Stderr:          string(stderr),
		ExitCode:        int64(exitCode),
		ExecutionTimeMs: uint64(elapsed.Milliseconds()),
		TimedOut:        false,
	}, nil
}

// teardown is step 7: stop with grace then force-remove. Errors here are
// logged only — they never alter the ExecutionResult already decided.
func (e *Executor) teardown(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.driver.RemoveContainer(ctx, containerID); err != nil {
		logger.Error("sandbox: teardown of container %s: %v", containerID, err)
	}
}
