package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/repository"
)

var errSkip = errors.New("skip update")

// StateMachine is the only writer of build and project status, logs and
// artifact locations. Updates for one id are applied one at a time; the
// snapshot is published while the id is still held so subscribers see
// updates in persisted order.
type StateMachine struct {
	store    repository.Store
	resolver *BlobResolver
	notifier *StatusNotifier
	locks    *keyedMutex
}

func NewStateMachine(store repository.Store, resolver *BlobResolver, notifier *StatusNotifier) *StateMachine {
	return &StateMachine{
		store:    store,
		resolver: resolver,
		notifier: notifier,
		locks:    newKeyedMutex(),
	}
}

// ReportBuild applies a worker progress callback. Logs are appended, never
// replaced, so a repeated call appends twice.
func (m *StateMachine) ReportBuild(ctx context.Context, id string, req *model.BuildProgressRequest) (*model.Build, error) {
	var downloadURL *string
	if req.DownloadURL != nil && *req.DownloadURL != "" {
		raw, err := m.resolver.ToRawLocation(*req.DownloadURL)
		if err != nil {
			return nil, err
		}
		downloadURL = &raw
	}

	return m.updateBuild(ctx, id, func(b *model.Build) error {
		if b.Status.IsTerminal() {
			return fmt.Errorf("%w: build already %s", ErrInvalidTransition, b.Status)
		}
		if req.Status != nil && !b.Status.CanTransitionTo(*req.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, b.Status, *req.Status)
		}
		b.Logs += req.Append
		if req.Status != nil {
			b.Status = *req.Status
		}
		if downloadURL != nil {
			b.DownloadURL = downloadURL
		}
		return nil
	})
}

// FailBuild moves a non-terminal build to FAILED with a log line. A build
// that already finished is returned unchanged.
func (m *StateMachine) FailBuild(ctx context.Context, id, reason string) (*model.Build, error) {
	b, err := m.updateBuild(ctx, id, func(b *model.Build) error {
		if b.Status.IsTerminal() {
			return errSkip
		}
		b.Logs += reason
		b.Status = model.BuildStatusFailed
		return nil
	})
	if errors.Is(err, errSkip) {
		return m.getBuild(ctx, id)
	}
	return b, err
}

// ExpireBuild fails a build only if it is still in expected and has not
// been touched since cutoff. It reports whether the build was failed.
func (m *StateMachine) ExpireBuild(ctx context.Context, id string, expected model.BuildStatus, cutoff time.Time, reason string) (bool, error) {
	_, err := m.updateBuild(ctx, id, func(b *model.Build) error {
		if b.Status != expected || !b.UpdatedAt.Before(cutoff) {
			return errSkip
		}
		b.Logs += reason
		b.Status = model.BuildStatusFailed
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	return err == nil, err
}

// NoteRedispatch records another delivery attempt for a queued build and
// renews its lease.
func (m *StateMachine) NoteRedispatch(ctx context.Context, id, note string) (*model.Build, error) {
	b, err := m.updateBuild(ctx, id, func(b *model.Build) error {
		if b.Status != model.BuildStatusQueued {
			return errSkip
		}
		b.DispatchAttempts++
		b.Logs += note
		return nil
	})
	if errors.Is(err, errSkip) {
		return m.getBuild(ctx, id)
	}
	return b, err
}

// ClearBuildLogs is an administrative reset of the transcript. It is allowed
// in every status.
func (m *StateMachine) ClearBuildLogs(ctx context.Context, id string) (*model.Build, error) {
	return m.updateBuild(ctx, id, func(b *model.Build) error {
		b.Logs = ""
		return nil
	})
}

func (m *StateMachine) updateBuild(ctx context.Context, id string, fn func(*model.Build) error) (*model.Build, error) {
	unlock := m.locks.Lock(RoomBuild + ":" + id)
	defer unlock()

	b, err := m.store.UpdateBuild(ctx, id, fn)
	if err != nil {
		return nil, storeErr(err)
	}
	logging.Debug().Str("build_id", id).Str("status", string(b.Status)).Msg("build updated")
	m.notifier.BuildUpdated(b)
	return b, nil
}

func (m *StateMachine) getBuild(ctx context.Context, id string) (*model.Build, error) {
	b, err := m.store.GetBuild(ctx, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return b, nil
}

// ReportProject applies a decompile progress callback. Metadata fields are
// only overwritten with non-empty values.
func (m *StateMachine) ReportProject(ctx context.Context, id string, req *model.ProjectProgressRequest) (*model.Project, error) {
	var meta *model.ProjectMetadata
	if req.Metadata != nil {
		md := *req.Metadata
		for _, field := range []*string{&md.LogoURL, &md.SourceURL} {
			if *field == "" {
				continue
			}
			raw, err := m.resolver.ToRawLocation(*field)
			if err != nil {
				return nil, err
			}
			*field = raw
		}
		meta = &md
	}

	return m.updateProject(ctx, id, func(p *model.Project) error {
		if p.Status.IsTerminal() {
			return fmt.Errorf("%w: project already %s", ErrInvalidTransition, p.Status)
		}
		if req.Status != nil && !p.Status.CanTransitionTo(*req.Status) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, p.Status, *req.Status)
		}
		p.Logs += req.Append
		if req.Status != nil {
			p.Status = *req.Status
		}
		if meta != nil {
			applyMetadata(p, meta)
		}
		return nil
	})
}

func applyMetadata(p *model.Project, md *model.ProjectMetadata) {
	if md.PackageName != "" {
		p.PackageName = md.PackageName
	}
	if md.VersionName != "" {
		p.VersionName = md.VersionName
	}
	if md.VersionCode != 0 {
		p.VersionCode = md.VersionCode
	}
	if md.AppName != "" {
		p.AppName = md.AppName
	}
	if md.LogoURL != "" {
		p.LogoURL = md.LogoURL
	}
	if md.SourceURL != "" {
		p.SourceURL = md.SourceURL
	}
}

// FailProject moves a non-terminal project to FAILED.
func (m *StateMachine) FailProject(ctx context.Context, id, reason string) (*model.Project, error) {
	p, err := m.updateProject(ctx, id, func(p *model.Project) error {
		if p.Status.IsTerminal() {
			return errSkip
		}
		p.Logs += reason
		p.Status = model.ProjectStatusFailed
		return nil
	})
	if errors.Is(err, errSkip) {
		pr, gerr := m.store.GetProject(ctx, id)
		if gerr != nil {
			return nil, storeErr(gerr)
		}
		return pr, nil
	}
	return p, err
}

// RestartProject resets a FAILED project to PENDING for another decompile.
func (m *StateMachine) RestartProject(ctx context.Context, id string) (*model.Project, error) {
	return m.updateProject(ctx, id, func(p *model.Project) error {
		if p.Status != model.ProjectStatusFailed {
			return fmt.Errorf("%w: only failed projects can be retried", ErrInvalidTransition)
		}
		p.Status = model.ProjectStatusPending
		p.Logs += "Retrying decompilation...\n"
		return nil
	})
}

func (m *StateMachine) updateProject(ctx context.Context, id string, fn func(*model.Project) error) (*model.Project, error) {
	unlock := m.locks.Lock(RoomProject + ":" + id)
	defer unlock()

	p, err := m.store.UpdateProject(ctx, id, fn)
	if err != nil {
		return nil, storeErr(err)
	}
	logging.Debug().Str("project_id", id).Str("status", string(p.Status)).Msg("project updated")
	m.notifier.ProjectUpdated(p)
	return p, nil
}
