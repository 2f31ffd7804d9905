// Package upload validates selected files and drives their upload into the
// draft of a conversation.
package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/state"
)

const (
	// ProgressTick is how often the synthetic progress advances.
	ProgressTick = 120 * time.Millisecond
	// ProgressRamp is the time the synthetic progress needs to reach 1.0.
	ProgressRamp = 1200 * time.Millisecond
	// ProgressCeiling caps progress until the server confirms the upload.
	ProgressCeiling = 0.9
)

var (
	ErrTooLarge       = errors.New("file too large")
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// Rejection reports a file refused before any network call.
type Rejection struct {
	File model.File
	Err  error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.File.Name, r.Err)
}

func (r Rejection) Unwrap() error {
	return r.Err
}

// Selection is the outcome of one file selection. Accepted attachments are
// uploading; dropped files exceeded the remaining attachment quota.
type Selection struct {
	Accepted []model.Attachment
	Rejected []Rejection
	Dropped  []model.File
}

// Drafts is the part of the draft store the pipeline writes through.
type Drafts interface {
	Draft(conversationID string) model.Draft
	AddAttachment(ctx context.Context, conversationID string, att model.Attachment)
	ReplaceAttachment(ctx context.Context, conversationID, id string, att model.Attachment) bool
	RemoveAttachment(ctx context.Context, conversationID, id string) bool
}

// Options configures a Pipeline.
type Options struct {
	Limits config.Upload
	Clock  clock.Clock
}

// Pipeline uploads attachments.
type Pipeline struct {
	backend api.Backend
	state   *state.Store
	drafts  Drafts
	bus     *bus.Bus
	limits  config.Upload
	clock   clock.Clock
	logger  *zap.Logger
	newID   func() string
	wg      sync.WaitGroup
}

// NewPipeline creates an upload pipeline.
func NewPipeline(backend api.Backend, st *state.Store, drafts Drafts, b *bus.Bus, logger *zap.Logger, opts Options) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Pipeline{
		backend: backend,
		state:   st,
		drafts:  drafts,
		bus:     b,
		limits:  opts.Limits,
		clock:   opts.Clock,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Select validates files against the draft of conversationID and starts
// uploading the accepted ones. Files beyond the remaining quota are dropped;
// a file failing the size or type check is rejected on its own.
func (p *Pipeline) Select(ctx context.Context, conversationID string, files []model.File) Selection {
	var sel Selection
	if len(files) == 0 {
		return sel
	}

	if limit := p.limits.MaxFilesPerMessage; limit > 0 {
		remaining := limit - len(p.drafts.Draft(conversationID).Attachments)
		if remaining < 0 {
			remaining = 0
		}
		if len(files) > remaining {
			sel.Dropped = append(sel.Dropped, files[remaining:]...)
			files = files[:remaining]
			metrics.IncUpload(metrics.ResultDropped)
			p.logger.Debug("files over quota dropped",
				zap.String("conversation_id", conversationID), zap.Int("dropped", len(sel.Dropped)))
		}
	}

	// Uploads outlive the caller; there is no cancellation once started.
	uploadCtx := context.WithoutCancel(ctx)
	for _, f := range files {
		if err := p.validate(f); err != nil {
			sel.Rejected = append(sel.Rejected, Rejection{File: f, Err: err})
			metrics.IncUpload(metrics.ResultRejected)
			p.bus.Publish(bus.KindUploadRejected, bus.UploadRejected{
				ConversationID: conversationID,
				FileName:       f.Name,
				Reason:         err.Error(),
			})
			continue
		}

		att := model.Attachment{
			ID:    model.TempIDPrefix + p.newID(),
			Name:  f.Name,
			Size:  f.Size,
			Type:  f.Type,
			State: model.AttachmentUploading,
		}
		p.state.MutateLocal(func(tx *state.LocalTx) {
			tx.SetUploadProgress(att.ID, 0)
		})
		p.drafts.AddAttachment(ctx, conversationID, att)
		sel.Accepted = append(sel.Accepted, att)

		p.wg.Add(1)
		go p.upload(uploadCtx, conversationID, att, f)
	}
	return sel
}

// Wait blocks until every started upload has resolved.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) validate(f model.File) error {
	if p.limits.MaxFileSize > 0 && f.Size > p.limits.MaxFileSize {
		return ErrTooLarge
	}
	if len(p.limits.AllowedExtensions) == 0 {
		return nil
	}
	ext := normalizeExt(filepath.Ext(f.Name))
	for _, allowed := range p.limits.AllowedExtensions {
		if ext != "" && normalizeExt(allowed) == ext {
			return nil
		}
	}
	return ErrTypeNotAllowed
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func (p *Pipeline) upload(ctx context.Context, conversationID string, att model.Attachment, f model.File) {
	defer p.wg.Done()

	done := make(chan struct{})
	ticking := make(chan struct{})
	go p.progress(att.ID, p.clock.Now(), p.clock.Ticker(ProgressTick), done, ticking)

	committed, err := p.backend.UploadFile(ctx, f)
	close(done)
	<-ticking

	p.state.MutateLocal(func(tx *state.LocalTx) {
		tx.ClearUploadProgress(att.ID)
	})

	if err != nil {
		p.drafts.RemoveAttachment(ctx, conversationID, att.ID)
		metrics.IncUpload(metrics.ResultFailed)
		p.logger.Warn("upload failed",
			zap.Error(err), zap.String("conversation_id", conversationID), zap.String("file", f.Name))
		p.bus.Publish(bus.KindUploadFailed, bus.UploadFailed{
			ConversationID: conversationID,
			TempID:         att.ID,
			FileName:       f.Name,
			Err:            err.Error(),
		})
		return
	}

	committed.State = model.AttachmentCommitted
	if !p.drafts.ReplaceAttachment(ctx, conversationID, att.ID, committed) {
		p.logger.Debug("attachment removed before upload finished",
			zap.String("conversation_id", conversationID), zap.String("attachment_id", att.ID))
		return
	}
	metrics.IncUpload(metrics.ResultOK)
	p.logger.Info("upload committed",
		zap.String("conversation_id", conversationID), zap.String("attachment_id", committed.ID))
	p.bus.Publish(bus.KindUploadCommitted, bus.UploadCommitted{
		ConversationID: conversationID,
		TempID:         att.ID,
		Attachment:     committed,
	})
}

// progress advances the synthetic progress of an upload until done closes.
// The value only moves while the upload is still tracked.
func (p *Pipeline) progress(id string, start time.Time, ticker *clock.Ticker, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			v := float64(p.clock.Since(start)) / float64(ProgressRamp)
			if v > ProgressCeiling {
				v = ProgressCeiling
			}
			p.state.MutateLocal(func(tx *state.LocalTx) {
				if _, ok := tx.UploadProgress(id); ok {
					tx.SetUploadProgress(id, v)
				}
			})
		}
	}
}
