package session

import (
	"context"
	"sync"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
)

type ImageStatus string

const (
	ImageLoading ImageStatus = "loading"
	ImageReady   ImageStatus = "ready"
	ImageFailed  ImageStatus = "failed"
)

// ImageTask generates one step's illustration. Its outcome never touches machine state,
// except that a rejected credential is cleared.
type ImageTask struct {
	Index int
	Step  domain.TutorialStep

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status ImageStatus
	image  domain.GeneratedImage
	err    error
}

func (t *ImageTask) Status() ImageStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *ImageTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task settles or ctx ends. Ending ctx does not cancel the task.
func (t *ImageTask) Wait(ctx context.Context) (domain.GeneratedImage, error) {
	select {
	case <-t.done:
	case <-ctx.Done():
		return domain.GeneratedImage{}, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.image, t.err
}

// Cancel abandons the task, e.g. when its step is no longer displayed.
func (t *ImageTask) Cancel() { t.cancel() }

func (t *ImageTask) finish(img domain.GeneratedImage, err error) {
	t.mu.Lock()
	if err != nil {
		t.status, t.err = ImageFailed, err
	} else {
		t.status, t.image = ImageReady, img
	}
	t.mu.Unlock()
	close(t.done)
}

// SpawnImage starts the image task for the step at index in the displayed (sorted) content.
// The task ends when ctx ends, the task is cancelled, or the machine closes.
func (m *Machine) SpawnImage(ctx context.Context, index int) (*ImageTask, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.cred.Empty() {
		m.mu.Unlock()
		return nil, ErrNoCredential
	}
	if !m.viewing || index < 0 || index >= len(m.steps) {
		m.mu.Unlock()
		return nil, ErrStepNotFound
	}
	step := m.steps[index]
	cred, gen := m.cred, m.credGen
	m.mu.Unlock()

	tctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.root, cancel)
	task := &ImageTask{
		Index:  index,
		Step:   step,
		cancel: func() { stop(); cancel() },
		done:   make(chan struct{}),
		status: ImageLoading,
	}
	go m.runImage(tctx, task, cred, gen)
	return task, nil
}

func (m *Machine) runImage(ctx context.Context, t *ImageTask, cred domain.Credential, gen uint64) {
	defer t.cancel()
	img, err := m.generateImage(ctx, cred, t.Step.ImagePrompt)
	t.finish(img, err)
	if err == nil {
		m.metrics.IncImageTask(string(ImageReady))
		return
	}
	m.metrics.IncImageTask(string(ImageFailed))
	m.log.Warn("step image failed", "step", t.Step.StepNumber, "error", err)
	if gateway.IsAuthDenied(err) {
		m.rejectGeneration(gen, err)
	}
}

func (m *Machine) generateImage(ctx context.Context, cred domain.Credential, prompt string) (domain.GeneratedImage, error) {
	if m.images != nil {
		if err := m.images.Acquire(ctx, 1); err != nil {
			return domain.GeneratedImage{}, err
		}
		defer m.images.Release(1)
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return m.gw.GenerateImage(ctx, cred, prompt)
}

// rejectGeneration clears the credential only if it is still the one the failed call used.
func (m *Machine) rejectGeneration(gen uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.cred.Empty() || m.credGen != gen {
		return
	}
	m.rejectCredentialLocked(cause)
	m.publishLocked()
}
