package policy

import (
	"context"
	"log/slog"

	"github.com/haasonsaas/conductor/pkg/models"
)

// DecisionReader exposes persisted decisions to the judge. Manager implements it.
type DecisionReader interface {
	Snapshot(ctx context.Context) (map[string]models.PermissionLevel, error)
}

// ReadOnlyDetector classifies unannotated tool requests as read-only. It
// returns the names of the tools it considers free of side effects.
type ReadOnlyDetector interface {
	DetectReadOnly(ctx context.Context, requests []models.ToolRequest) ([]string, error)
}

// JudgeInput carries one batch of standard tool requests.
type JudgeInput struct {
	Requests []models.ToolRequest

	// ReadOnly holds tools annotated as read-only.
	ReadOnly NameSet

	// Unannotated holds tools that declare no annotations at all.
	Unannotated NameSet

	Mode TrustMode
}

// Judgement partitions the requests of a JudgeInput. Every input request
// appears in exactly one list, in input order.
type Judgement struct {
	Approved          []models.ToolRequest
	Denied            []models.ToolRequest
	NeedsConfirmation []models.ToolRequest
}

// Judge decides whether each standard tool request runs, is denied, or needs
// the user's confirmation.
type Judge struct {
	decisions DecisionReader
	detector  ReadOnlyDetector
	logger    *slog.Logger
}

// NewJudge creates a judge. decisions and detector may be nil.
func NewJudge(decisions DecisionReader, detector ReadOnlyDetector, logger *slog.Logger) *Judge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Judge{
		decisions: decisions,
		detector:  detector,
		logger:    logger.With("component", "permission-judge"),
	}
}

type verdict int

const (
	verdictConfirm verdict = iota
	verdictApprove
	verdictDeny
	verdictDetect
)

// Check classifies in.Requests. The decision order per request is: read-only
// annotation, persisted always-allow, persisted always-deny, auto mode, smart
// detection for unannotated tools, then confirmation. At most one detector
// call is made per batch, and the decision store is never written.
func (j *Judge) Check(ctx context.Context, in JudgeInput) Judgement {
	var stored map[string]models.PermissionLevel
	if j.decisions != nil && len(in.Requests) > 0 {
		snapshot, err := j.decisions.Snapshot(ctx)
		if err != nil {
			j.logger.Warn("permission store unavailable, treating as empty", "error", err)
		} else {
			stored = snapshot
		}
	}

	verdicts := make([]verdict, len(in.Requests))
	var candidates []models.ToolRequest
	for i, req := range in.Requests {
		v := j.decide(req.Name(), in, stored)
		verdicts[i] = v
		if v == verdictDetect {
			candidates = append(candidates, req)
		}
	}

	if len(candidates) > 0 {
		detected := j.detect(ctx, candidates)
		for i, req := range in.Requests {
			if verdicts[i] != verdictDetect {
				continue
			}
			if detected.Has(req.Name()) {
				verdicts[i] = verdictApprove
			} else {
				verdicts[i] = verdictConfirm
			}
		}
	}

	var out Judgement
	for i, req := range in.Requests {
		switch verdicts[i] {
		case verdictApprove:
			out.Approved = append(out.Approved, req)
		case verdictDeny:
			out.Denied = append(out.Denied, req)
		default:
			out.NeedsConfirmation = append(out.NeedsConfirmation, req)
		}
	}
	return out
}

func (j *Judge) decide(name string, in JudgeInput, stored map[string]models.PermissionLevel) verdict {
	if name != "" && in.ReadOnly.Has(name) {
		return verdictApprove
	}
	switch stored[NormalizeTool(name)] {
	case models.PermissionLevelAlwaysAllow:
		return verdictApprove
	case models.PermissionLevelAlwaysDeny:
		return verdictDeny
	}
	if in.Mode == ModeAuto {
		return verdictApprove
	}
	if in.Mode == ModeSmartApprove && j.detector != nil && name != "" && in.Unannotated.Has(name) {
		return verdictDetect
	}
	return verdictConfirm
}

func (j *Judge) detect(ctx context.Context, candidates []models.ToolRequest) NameSet {
	names, err := j.detector.DetectReadOnly(ctx, candidates)
	if err != nil {
		j.logger.Warn("read-only detection failed, requiring confirmation",
			"error", err,
			"candidates", len(candidates))
		return NameSet{}
	}
	return NewNameSet(names...)
}
