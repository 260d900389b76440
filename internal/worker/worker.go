package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/bobarin/cueframe/internal/annotation"
	"github.com/bobarin/cueframe/internal/compositor"
	"github.com/bobarin/cueframe/internal/models"
	"github.com/bobarin/cueframe/internal/pipeline"
	"github.com/bobarin/cueframe/internal/queue"
	"github.com/bobarin/cueframe/internal/services"
	"github.com/bobarin/cueframe/internal/timing"
	"github.com/google/uuid"
)

// Store is the persistence the worker needs. *db.DB implements it.
type Store interface {
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error
	SetRenderScript(ctx context.Context, id uuid.UUID, script, cleaned string) error
	UpdateRenderError(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) error
	CompleteRender(ctx context.Context, id uuid.UUID, outputPath string, durationSeconds float64, overlayCount int, metadata models.JSONB) error
	ReplaceCueOutcomes(ctx context.Context, renderID uuid.UUID, outcomes []models.CueOutcome) error
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	UpdateJobError(ctx context.Context, id uuid.UUID, errorMessage string) error
}

// JobSource hands out queued jobs. *queue.Queue implements it.
type JobSource interface {
	Dequeue(ctx context.Context, queueName string, timeout time.Duration) (*queue.Job, error)
}

// FileStore moves videos in and out of object storage. *storage.Storage implements it.
type FileStore interface {
	Localize(ctx context.Context, ref, dst string) (string, error)
	UploadFile(ctx context.Context, storagePath, localPath string, contentType string) error
	GenerateStoragePath(renderID uuid.UUID, filename string) string
}

// Compositor runs the cue pipeline. *pipeline.Pipeline implements it.
type Compositor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error)
}

type Worker struct {
	db        Store
	queue     JobSource
	storage   FileStore
	writer    services.ScriptWriter
	narrator  services.NarrationSynthesizer
	pipeline  Compositor
	mode      annotation.Mode
	workDir   string
	uploadSem chan struct{} // Limits concurrent Supabase uploads to prevent congestion
}

func New(
	database Store,
	q JobSource,
	stor FileStore,
	writer services.ScriptWriter,
	narrator services.NarrationSynthesizer,
	p Compositor,
	mode annotation.Mode,
	workDir string,
) *Worker {
	return &Worker{
		db:        database,
		queue:     q,
		storage:   stor,
		writer:    writer,
		narrator:  narrator,
		pipeline:  p,
		mode:      mode,
		workDir:   workDir,
		uploadSem: make(chan struct{}, 2), // Final videos are large; two at a time
	}
}

// uploadWithLimit wraps an upload call with a semaphore to prevent Supabase congestion.
func (w *Worker) uploadWithLimit(ctx context.Context, label string, fn func() error) error {
	log.Printf("[Upload] %s waiting for upload slot...", label)
	select {
	case w.uploadSem <- struct{}{}:
		// Acquired slot
	case <-ctx.Done():
		return fmt.Errorf("upload cancelled while waiting for slot: %w", ctx.Err())
	}
	defer func() { <-w.uploadSem }()

	log.Printf("[Upload] %s uploading...", label)
	return fn()
}

// Start runs concurrency render loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("[Worker] started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueRenderVideo, w.handleRender)
	}

	<-ctx.Done()
	log.Println("[Worker] shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Worker] Error dequeuing from %s: %v", queueName, err)
				time.Sleep(time.Second)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			w.runJob(ctx, job, handler)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job, handler func(context.Context, *queue.Job) error) {
	log.Printf("[Worker] Processing job %s (type: %s, render: %s)", job.ID, job.Type, job.RenderID)

	if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
		log.Printf("[Worker] Failed to update job status: %v", err)
	}

	if err := handler(ctx, job); err != nil {
		log.Printf("[Worker] Job %s failed: %v", job.ID, err)
		if err := w.db.UpdateJobError(ctx, job.ID, err.Error()); err != nil {
			log.Printf("[Worker] Failed to record job error: %v", err)
		}
		return
	}

	log.Printf("[Worker] Job %s completed successfully", job.ID)
	if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded); err != nil {
		log.Printf("[Worker] Failed to update job status: %v", err)
	}
}

// handleRender takes a render from script to uploaded video: write the script if
// needed, obtain the narration video, composite footage, upload, record outcomes.
func (w *Worker) handleRender(ctx context.Context, job *queue.Job) error {
	renderID := job.RenderID

	render, err := w.db.GetRender(ctx, renderID)
	if err != nil {
		return fmt.Errorf("failed to get render: %w", err)
	}

	// fail records the error on the render and hands it back for the job record
	fail := func(code string, err error) error {
		if dbErr := w.db.UpdateRenderError(ctx, renderID, code, err.Error()); dbErr != nil {
			log.Printf("[Worker] Failed to record render error: %v", dbErr)
		}
		return err
	}

	// 1. Script
	script, err := w.resolveScript(ctx, render)
	if err != nil {
		return fail("script_failed", err)
	}

	extracted, err := annotation.Extract(script, w.mode)
	if err != nil {
		return fail(errorCode(err), fmt.Errorf("invalid script: %w", err))
	}
	if err := w.db.SetRenderScript(ctx, renderID, script, extracted.Cleaned); err != nil {
		return fmt.Errorf("failed to store script: %w", err)
	}
	log.Printf("[Worker] Render %s: %d narration words, %d cues", renderID, extracted.WordCount, len(extracted.Annotations))

	// 2. Narration video
	basePath, cleanupBase, err := w.ensureBaseVideo(ctx, render, extracted.Cleaned)
	if err != nil {
		return fail("narration_failed", err)
	}
	defer cleanupBase()

	// 3. Composite
	if err := w.db.UpdateRenderStatus(ctx, renderID, models.RenderStatusCompositing); err != nil {
		log.Printf("[Worker] Failed to update render status: %v", err)
	}

	outputPath := filepath.Join(w.workDir, fmt.Sprintf("render_%s.mp4", renderID))
	defer os.Remove(outputPath)

	report, err := w.pipeline.Run(ctx, pipeline.Request{
		Script:        script,
		BaseVideoPath: basePath,
		OutputPath:    outputPath,
		Observer:      compositor.LogObserver("render " + renderID.String()[:8]),
	})
	if report != nil && report.Outcomes != nil {
		if dbErr := w.db.ReplaceCueOutcomes(ctx, renderID, report.Outcomes); dbErr != nil {
			log.Printf("[Worker] Failed to store cue outcomes: %v", dbErr)
		}
	}
	if err != nil {
		return fail(errorCode(err), err)
	}

	// 4. Upload
	storagePath := w.storage.GenerateStoragePath(renderID, "final.mp4")
	if err := w.uploadWithLimit(ctx, "final.mp4", func() error {
		return w.storage.UploadFile(ctx, storagePath, outputPath, "video/mp4")
	}); err != nil {
		return fail("upload_failed", fmt.Errorf("failed to upload video: %w", err))
	}

	counts := report.Counts()
	metadata := models.JSONB{
		"word_count":       report.WordCount,
		"cue_count":        len(report.Outcomes),
		"realized":         counts[models.ReasonNone],
		"resolution_miss":  counts[models.ReasonResolutionMiss],
		"fetch_failed":     counts[models.ReasonFetchFailed],
		"schedule_skipped": counts[models.ReasonScheduleSkipped],
		"byte_size":        report.Output.ByteSize,
	}
	if err := w.db.CompleteRender(ctx, renderID, storagePath, report.Output.DurationSeconds, report.Output.OverlayCount, metadata); err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}

	log.Printf("[Worker] Render %s completed: %d/%d cues realized, uploaded to %s",
		renderID, counts[models.ReasonNone], len(report.Outcomes), storagePath)
	return nil
}

func (w *Worker) resolveScript(ctx context.Context, render *models.Render) (string, error) {
	if render.Script != nil && *render.Script != "" {
		return *render.Script, nil
	}
	if render.Destination == nil || *render.Destination == "" {
		return "", fmt.Errorf("render has neither script nor destination")
	}
	if w.writer == nil {
		return "", fmt.Errorf("no script writer configured")
	}

	if err := w.db.UpdateRenderStatus(ctx, render.ID, models.RenderStatusScripting); err != nil {
		log.Printf("[Worker] Failed to update render status: %v", err)
	}

	language := ""
	if render.Language != nil {
		language = *render.Language
	}
	return w.writer.WriteScript(ctx, *render.Destination, language)
}

// ensureBaseVideo downloads the supplied narration video or synthesizes one. The
// returned cleanup removes whatever this call created.
func (w *Worker) ensureBaseVideo(ctx context.Context, render *models.Render, cleaned string) (string, func(), error) {
	noop := func() {}

	if render.BaseVideoURL != nil && *render.BaseVideoURL != "" {
		dst := filepath.Join(w.workDir, fmt.Sprintf("base_%s.mp4", render.ID))
		local, err := w.storage.Localize(ctx, *render.BaseVideoURL, dst)
		if err != nil {
			return "", noop, fmt.Errorf("failed to fetch base video: %w", err)
		}
		if local == dst {
			return local, func() { os.Remove(dst) }, nil
		}
		return local, noop, nil
	}

	if w.narrator == nil {
		return "", noop, fmt.Errorf("no narration provider configured")
	}

	if err := w.db.UpdateRenderStatus(ctx, render.ID, models.RenderStatusSynthesizing); err != nil {
		log.Printf("[Worker] Failed to update render status: %v", err)
	}

	path, err := w.narrator.Synthesize(ctx, cleaned, func(msg string) {
		log.Printf("[Worker] Render %s narration: %s", render.ID, msg)
	})
	if err != nil {
		return "", noop, fmt.Errorf("failed to synthesize narration: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}

// errorCode maps a failure to the code stored on the render.
func errorCode(err error) string {
	switch {
	case errors.Is(err, annotation.ErrMalformedAnnotation):
		return "malformed_annotation"
	case errors.Is(err, timing.ErrInvalidMapping):
		return "invalid_mapping"
	case errors.Is(err, compositor.ErrResourceNotFound):
		return "resource_not_found"
	case errors.Is(err, compositor.ErrDecode):
		return "decode_failed"
	case errors.Is(err, compositor.ErrRender):
		return "render_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "internal_error"
}
