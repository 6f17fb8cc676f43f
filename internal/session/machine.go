package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/repairguide-backend/internal/domain"
	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/ctxutil"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

var (
	ErrEmptyCredential = errors.New("credential must not be empty")
	ErrNoCredential    = errors.New("no credential")
	ErrStepNotFound    = errors.New("step not found")
	ErrClosed          = errors.New("session closed")
)

const defaultStoreTimeout = 5 * time.Second

// Notifier receives every snapshot in mutation order. It is called with the machine
// lock held and must not block or call back into the machine.
type Notifier func(Snapshot)

type Options struct {
	SessionID string
	Gateway   gateway.Gateway
	Store     *CredentialStore
	Notify    Notifier
	// Images bounds concurrent image generation across machines. Nil means unbounded.
	Images      *semaphore.Weighted
	CallTimeout time.Duration
	Log         *logger.Logger
	Metrics     *observability.Metrics
}

// token identifies one fetch. A completion applies only while its token is current.
type token struct {
	seq uint64
	gen uint64
}

// Machine is the per-session state machine. All methods are safe for concurrent use.
type Machine struct {
	id      string
	gw      gateway.Gateway
	store   *CredentialStore
	notify  Notifier
	images  *semaphore.Weighted
	timeout time.Duration
	log     *logger.Logger
	metrics *observability.Metrics

	root   context.Context
	cancel context.CancelFunc

	// storeMu orders credential store writes. It is taken before mu, never while holding it.
	storeMu sync.Mutex

	mu             sync.Mutex
	closed         bool
	cred           domain.Credential
	credGen        uint64
	seq            uint64
	topics         domain.TopicList
	viewing        bool
	activeTopic    string
	steps          domain.TutorialContent
	loadingList    bool
	loadingContent bool
	lastError      string
	notice         string
	version        uint64

	listTok     token
	listCancel  context.CancelFunc
	stepsTok    token
	stepsCancel context.CancelFunc

	inflight int
	idle     chan struct{}
}

func NewMachine(opts Options) *Machine {
	log := opts.Log
	if log == nil {
		log = logger.NewNop()
	}
	root, cancel := context.WithCancel(ctxutil.WithRequestData(context.Background(), &ctxutil.RequestData{SessionID: opts.SessionID}))
	idle := make(chan struct{})
	close(idle)
	return &Machine{
		id:      opts.SessionID,
		gw:      opts.Gateway,
		store:   opts.Store,
		notify:  opts.Notify,
		images:  opts.Images,
		timeout: opts.CallTimeout,
		log:     log.With("component", "session", "session_id", opts.SessionID),
		metrics: opts.Metrics,
		root:    root,
		cancel:  cancel,
		topics:  domain.TopicList{},
		idle:    idle,
	}
}

func (m *Machine) ID() string { return m.id }

// SubmitCredential stores a non-empty key and starts the first topic fetch.
func (m *Machine) SubmitCredential(ctx context.Context, raw string) error {
	cred := domain.Credential(strings.TrimSpace(raw))
	if cred.Empty() {
		return ErrEmptyCredential
	}
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	if m.isClosed() {
		return ErrClosed
	}
	if err := m.store.Save(ctx, cred); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.setCredentialLocked(cred)
	m.refreshLocked()
	return nil
}

// ClearCredential returns to the credential prompt. Memory state is cleared even if the store fails.
func (m *Machine) ClearCredential(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.clearCredentialLocked("")
	m.publishLocked()
	m.mu.Unlock()

	return m.store.Clear(ctx)
}

// RefreshTopics refetches the topic list. Without a credential it does nothing.
func (m *Machine) RefreshTopics() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.cred.Empty() {
		return nil
	}
	m.refreshLocked()
	return nil
}

// SelectTopic opens the tutorial viewer for topic and requests its steps.
// Membership in the current topic list is not enforced.
func (m *Machine) SelectTopic(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.cred.Empty() {
		return ErrNoCredential
	}
	if m.stepsCancel != nil {
		m.stepsCancel()
	}
	m.seq++
	tok := token{seq: m.seq, gen: m.credGen}
	ctx, cancel := m.callContext()
	m.stepsTok, m.stepsCancel = tok, cancel

	m.viewing = true
	m.activeTopic = topic
	m.steps = nil
	m.loadingContent = true
	m.lastError = ""
	m.publishLocked()

	m.beginLocked()
	go m.fetchSteps(ctx, cancel, tok, m.cred, topic)
	return nil
}

// GoBack leaves the viewer. The topic list is kept and not refetched.
func (m *Machine) GoBack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.goBackLocked()
	m.publishLocked()
	return nil
}

// Retry runs the error panel's recovery: back while a topic is active, otherwise refetch topics.
func (m *Machine) Retry() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.viewing {
		m.goBackLocked()
		m.publishLocked()
		return nil
	}
	if !m.cred.Empty() {
		m.refreshLocked()
	}
	return nil
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Wait blocks until no fetch or credential store cleanup is in flight.
func (m *Machine) Wait(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.inflight == 0 {
			m.mu.Unlock()
			return nil
		}
		idle := m.idle
		m.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close cancels every in-flight call. Later actions return ErrClosed.
// The stored credential is kept.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Expire closes the machine and removes its stored credential.
func (m *Machine) Expire(ctx context.Context) error {
	m.storeMu.Lock()
	defer m.storeMu.Unlock()
	m.mu.Lock()
	m.closeLocked()
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

func (m *Machine) closeLocked() {
	if m.closed {
		return
	}
	m.closed = true
	m.cancel()
	gateway.Release(m.gw, m.cred)
}

func (m *Machine) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// restore installs a credential recovered from the store and fetches topics.
func (m *Machine) restore(cred domain.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || cred.Empty() {
		return
	}
	m.setCredentialLocked(cred)
	m.refreshLocked()
}

func (m *Machine) fetchTopics(ctx context.Context, cancel context.CancelFunc, tok token, cred domain.Credential) {
	defer cancel()
	topics, err := m.gw.ListTopics(ctx, cred)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endLocked()
	if m.closed || tok != m.listTok || tok.gen != m.credGen {
		m.log.Debug("dropping stale topic list", "seq", tok.seq)
		return
	}
	m.listCancel = nil
	m.loadingList = false
	switch {
	case err == nil:
		m.topics = topics.Clone()
		m.lastError = ""
	case gateway.IsAuthDenied(err):
		m.rejectCredentialLocked(err)
	default:
		m.log.Warn("topic list fetch failed", "error", err)
		m.lastError = MsgTopicsFailed
	}
	m.publishLocked()
}

func (m *Machine) fetchSteps(ctx context.Context, cancel context.CancelFunc, tok token, cred domain.Credential, topic string) {
	defer cancel()
	content, err := m.gw.GenerateSteps(ctx, cred, topic)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.endLocked()
	if m.closed || !m.viewing || tok != m.stepsTok || tok.gen != m.credGen {
		m.log.Debug("dropping stale tutorial steps", "seq", tok.seq, "topic", topic)
		return
	}
	m.stepsCancel = nil
	m.loadingContent = false
	switch {
	case err == nil:
		m.steps = content.Sorted()
	case gateway.IsAuthDenied(err):
		m.rejectCredentialLocked(err)
	default:
		m.log.Warn("tutorial steps fetch failed", "topic", topic, "error", err)
		m.lastError = MsgContentFailed
	}
	m.publishLocked()
}

func (m *Machine) refreshLocked() {
	if m.listCancel != nil {
		m.listCancel()
	}
	m.seq++
	tok := token{seq: m.seq, gen: m.credGen}
	ctx, cancel := m.callContext()
	m.listTok, m.listCancel = tok, cancel
	m.loadingList = true
	m.publishLocked()

	m.beginLocked()
	go m.fetchTopics(ctx, cancel, tok, m.cred)
}

func (m *Machine) goBackLocked() {
	m.cancelStepsLocked()
	m.viewing = false
	m.activeTopic = ""
	m.steps = nil
	m.loadingContent = false
	m.lastError = ""
}

func (m *Machine) setCredentialLocked(cred domain.Credential) {
	m.cancelListLocked()
	m.goBackLocked()
	if m.cred != cred {
		gateway.Release(m.gw, m.cred)
	}
	m.cred = cred
	m.credGen++
	m.loadingList = false
	m.notice = ""
}

func (m *Machine) clearCredentialLocked(notice string) {
	m.cancelListLocked()
	m.goBackLocked()
	gateway.Release(m.gw, m.cred)
	m.cred = ""
	m.credGen++
	m.topics = domain.TopicList{}
	m.loadingList = false
	m.notice = notice
}

// rejectCredentialLocked handles an authorization-denied failure from any fetch.
// The stored copy is removed in the background so the lock is never held across store I/O.
func (m *Machine) rejectCredentialLocked(cause error) {
	m.log.Warn("credential rejected by gateway", "error", cause)
	m.clearCredentialLocked(MsgKeyRejected)
	m.beginLocked()
	go m.forgetRejected(m.credGen)
}

// forgetRejected clears the store unless a newer credential was submitted since gen.
func (m *Machine) forgetRejected(gen uint64) {
	defer func() {
		m.mu.Lock()
		m.endLocked()
		m.mu.Unlock()
	}()
	m.storeMu.Lock()
	defer m.storeMu.Unlock()

	m.mu.Lock()
	current := m.credGen == gen
	m.mu.Unlock()
	if !current {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStoreTimeout)
	defer cancel()
	if err := m.store.Clear(ctx); err != nil {
		m.log.Error("clear rejected credential", "error", err)
	}
}

func (m *Machine) cancelListLocked() {
	if m.listCancel != nil {
		m.listCancel()
		m.listCancel = nil
	}
	m.listTok = token{}
}

func (m *Machine) cancelStepsLocked() {
	if m.stepsCancel != nil {
		m.stepsCancel()
		m.stepsCancel = nil
	}
	m.stepsTok = token{}
}

func (m *Machine) callContext() (context.Context, context.CancelFunc) {
	if m.timeout > 0 {
		return context.WithTimeout(m.root, m.timeout)
	}
	return context.WithCancel(m.root)
}

func (m *Machine) beginLocked() {
	if m.inflight == 0 {
		m.idle = make(chan struct{})
	}
	m.inflight++
}

func (m *Machine) endLocked() {
	m.inflight--
	if m.inflight == 0 {
		close(m.idle)
	}
}

func (m *Machine) publishLocked() {
	m.version++
	if m.notify != nil {
		m.notify(m.snapshotLocked())
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	hasCred := !m.cred.Empty()
	view, recovery := resolveView(hasCred, m.viewing, m.loadingList, m.loadingContent, m.lastError)
	steps := m.steps.Sorted()
	return Snapshot{
		Version:        m.version,
		Screen:         resolveScreen(hasCred, m.viewing),
		View:           view,
		Recovery:       recovery,
		HasCredential:  hasCred,
		Topics:         m.topics.Clone(),
		ActiveTopic:    m.activeTopic,
		Steps:          steps,
		LoadingList:    m.loadingList,
		LoadingContent: m.loadingContent,
		LastError:      m.lastError,
		Notice:         m.notice,
	}
}
