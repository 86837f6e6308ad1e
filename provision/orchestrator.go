package provision

import (
	"context"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/R3E-Network/hsmclient/config"
	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/nonce"
	"github.com/R3E-Network/hsmclient/logging"
	"github.com/R3E-Network/hsmclient/retry"
	"github.com/R3E-Network/hsmclient/transport"
)

// UO is the fully provisioned user object record handed back once both
// provisioning stages succeed (spec.md §4.J: "{handle, comenc, commac,
// chosen endpoint}").
type UO struct {
	Handle   nonce.Handle
	CommEnc  []byte
	CommMac  []byte
	Endpoint string
}

// Request bundles everything Provision needs to run both stages.
type Request struct {
	Handle          nonce.Handle
	TemplateRequest config.TemplateRequest
	Keys            CallerKeys
	ObjectID        uint32
	Authorization   string
	Override        transport.Override
}

// Orchestrator runs the two-stage retrying GetUserObjectTemplate →
// CreateUserObject state machine (spec.md §4.J), composing the resulting
// UO the way infrastructure/globalsigner/client sequences its own
// derive-then-use calls over a single HTTP client.
type Orchestrator struct {
	client *transport.Client
	cfg    config.Configuration
	log    *logging.Logger
}

// NewOrchestrator builds an Orchestrator over client, using cfg.RetryPolicy
// for both stages (retry.NewHandler fills in a zero MaxAttempts or
// BaseInterval from retry.DefaultConfig).
func NewOrchestrator(client *transport.Client, cfg config.Configuration, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{client: client, cfg: cfg, log: log}
}

// Provision runs stage one (GetUserObjectTemplate), fills the returned
// template, then runs stage two (CreateUserObject), retrying each stage
// independently (spec.md §4.J). A failure that exhausts stage one's
// retries is tagged errors.PhaseTemplate; stage two, errors.PhaseImport.
// Cancelling ctx aborts the next scheduled attempt of whichever stage is
// running — an in-flight HTTP call is not interrupted, only discarded.
func (o *Orchestrator) Provision(ctx context.Context, req Request) (*UO, error) {
	attemptID := uuid.NewString()
	log := o.log.WithFields(map[string]interface{}{
		"attempt_id": attemptID,
		"handle":     req.Handle.String(),
	})

	tplHandler := retry.NewHandler(o.cfg.RetryPolicy)
	tpl, err := runStage(ctx, tplHandler, func() (*transport.Template, error) {
		nonceHex, nerr := freshNonce()
		if nerr != nil {
			return nil, nerr
		}
		return o.client.GetUserObjectTemplate(context.WithoutCancel(ctx), req.Handle, nonceHex, req.TemplateRequest, req.Override, transport.Hooks{})
	})
	if err != nil {
		log.Warn("provisioning stage one (GetUserObjectTemplate) failed")
		return nil, taggedError(err, hsmerrors.PhaseTemplate)
	}

	filled, err := Fill(tpl, req.Keys, req.ObjectID)
	if err != nil {
		return nil, taggedError(err, hsmerrors.PhaseTemplate)
	}

	createHandler := retry.NewHandler(o.cfg.RetryPolicy)
	createReq := transport.CreateUserObjectRequest{
		ObjectID:      tpl.ObjectID,
		ImportKey:     filled.ImportKeyID,
		Object:        hex.EncodeToString(filled.Blob),
		Authorization: req.Authorization,
	}
	resp, err := runStage(ctx, createHandler, func() (*transport.CreateUserObjectResponse, error) {
		nonceHex, nerr := freshNonce()
		if nerr != nil {
			return nil, nerr
		}
		return o.client.CreateUserObject(context.WithoutCancel(ctx), req.Handle, nonceHex, createReq, req.Override, transport.Hooks{})
	})
	if err != nil {
		log.Warn("provisioning stage two (CreateUserObject) failed")
		return nil, taggedError(err, hsmerrors.PhaseImport)
	}

	handle, err := nonce.ParseHandle(resp.Handle)
	if err != nil {
		return nil, taggedError(err, hsmerrors.PhaseImport)
	}

	log.Info("provisioning succeeded")
	endpoint, _, _ := transport.EffectiveRequest(req.Override, "", "", o.cfg.EndpointProcess, o.cfg)
	return &UO{
		Handle:   handle,
		CommEnc:  req.Keys.CommEnc,
		CommMac:  req.Keys.CommMac,
		Endpoint: endpoint,
	}, nil
}

// stageOutcome carries one attempt's result across the channel runStage
// uses to bridge retry.Handler's timer-scheduled callback back to the
// caller's blocking goroutine.
type stageOutcome[T any] struct {
	value T
	err   error
}

// runStage drives attempt through h's backoff schedule until it succeeds,
// a non-retryable error occurs, the retry budget is exhausted, or ctx is
// cancelled. Only errors.Connection and errors.Corrupt are retried;
// errors.Invalid and errors.ResponseFailed surface immediately (spec.md §7).
func runStage[T any](ctx context.Context, h *retry.Handler, attempt func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for {
		if ctx.Err() != nil {
			return zero, hsmerrors.RetryCancelled()
		}

		done := make(chan stageOutcome[T], 1)
		h.Retry(func() {
			v, err := attempt()
			done <- stageOutcome[T]{value: v, err: err}
		})

		select {
		case <-ctx.Done():
			h.Cancel()
			return zero, hsmerrors.RetryCancelled()
		case out := <-done:
			if out.err == nil {
				return out.value, nil
			}
			lastErr = out.err
			if !isRetryable(out.err) || h.LimitReached() {
				return zero, lastErr
			}
		}
	}
}

func isRetryable(err error) bool {
	return hsmerrors.Is(err, hsmerrors.Connection) || hsmerrors.Is(err, hsmerrors.Corrupt)
}

// taggedError attaches phase to err if it's one of ours; errors from
// outside the taxonomy (e.g. a bug) pass through unchanged.
func taggedError(err error, phase hsmerrors.Phase) error {
	if e := hsmerrors.As(err); e != nil {
		return e.WithPhase(phase)
	}
	return err
}

func freshNonce() (string, error) {
	n, err := nonce.Generate()
	if err != nil {
		return "", err
	}
	return nonce.EncodeHex(n), nil
}
