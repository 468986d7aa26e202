package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/roleplay/internal/analysis"
	"github.com/MrWong99/roleplay/internal/catalog"
	"github.com/MrWong99/roleplay/internal/observe"
	"github.com/MrWong99/roleplay/internal/scoring"
	"github.com/MrWong99/roleplay/pkg/channel"
	"github.com/MrWong99/roleplay/pkg/types"
)

// Defaults applied by [NewManager].
const (
	DefaultNoticeWindow = 5 * time.Second
	DefaultTickInterval = time.Second

	// TraineeIdentity is the participant name the trainee joins the room as.
	TraineeIdentity = "trainee"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in
	// the current phase.
	ErrInvalidTransition = errors.New("session: invalid transition")

	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = fmt.Errorf("%w: no active session", ErrInvalidTransition)

	// ErrScenarioRequired is returned by [Manager.Start] when neither a
	// scenario nor custom scenario text was given.
	ErrScenarioRequired = catalog.ErrScenarioRequired

	// ErrNotFound is returned for an unknown history id.
	ErrNotFound = errors.New("session: not found")

	// ErrNoChannel is returned by [Manager.Connect] when no media channel is
	// configured.
	ErrNoChannel = errors.New("session: no channel configured")

	// ErrConnectAborted is returned by a [Manager.Connect] whose dial was
	// superseded by Disconnect, End or a new session before it completed.
	ErrConnectAborted = fmt.Errorf("%w: connect aborted", ErrInvalidTransition)

	// ErrClosed is returned after [Manager.Close].
	ErrClosed = errors.New("session: manager closed")
)

// AnalysisStatus tracks the deep analysis of an ended session.
type AnalysisStatus string

const (
	AnalysisPending  AnalysisStatus = "pending"
	AnalysisComplete AnalysisStatus = "complete"
	AnalysisFailed   AnalysisStatus = "failed"
	AnalysisSkipped  AnalysisStatus = "skipped"
)

// SetupRequest is the setup wizard's selection.
type SetupRequest = catalog.Selection

// CredentialSource mints the URL and credential used to join a room.
type CredentialSource interface {
	Credential(room, participant string) (url, credential string, err error)
}

// Analyzer produces the deep analysis of a finished conversation.
type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (*analysis.Result, error)
}

// Config holds the dependencies of a [Manager]. Every field is optional.
type Config struct {
	Dialer      channel.Dialer
	Credentials CredentialSource
	Analyzer    Analyzer
	Scorer      *scoring.Scorer
	Repository  Repository
	Metrics     *observe.Metrics

	// AutoConnect dials the channel right after Start. A failed dial is
	// logged and leaves the session disconnected.
	AutoConnect bool

	// NoticeWindow is how long scoring notices stay visible.
	NoticeWindow time.Duration

	// TickInterval is the display timer period.
	TickInterval time.Duration

	// Now and NewID override the clock and the id generator in tests.
	Now   func() time.Time
	NewID func() string
}

// View is a presentation snapshot of the manager.
type View struct {
	Phase     Phase          `json:"phase"`
	Session   *Session       `json:"session,omitempty"`
	Elapsed   int            `json:"elapsed"`
	Connected bool           `json:"connected"`
	Notices   []Notice       `json:"notices"`
	Tips      []string       `json:"tips"`
	Analysis  AnalysisStatus `json:"analysis,omitempty"`
	Results   *Results       `json:"results,omitempty"`
}

// Manager drives the session lifecycle. All exported methods are safe for
// concurrent use.
type Manager struct {
	dialer      channel.Dialer
	creds       CredentialSource
	analyzer    Analyzer
	scorer      *scoring.Scorer
	repo        Repository
	metrics     *observe.Metrics
	autoConnect bool
	window      time.Duration
	interval    time.Duration
	now         func() time.Time
	newID       func() string
	hub         *hub

	mu         sync.Mutex
	phase      Phase
	cur        *Session
	state      scoring.State
	notices    []Notice
	timer      *ticker
	conn       channel.Conn
	connGen    uint64
	pumpDone   chan struct{}
	connected  bool

	// dialing is the id of the session an in-flight Connect dials for.
	// dialSeq identifies that attempt; bumping it discards the result.
	dialing string
	dialSeq uint64
	ending     bool
	status     AnalysisStatus
	cancel     context.CancelFunc
	closed     bool

	wg sync.WaitGroup
}

// NewManager returns a Manager in [PhaseSetup].
func NewManager(cfg Config) *Manager {
	m := &Manager{
		dialer:      cfg.Dialer,
		creds:       cfg.Credentials,
		analyzer:    cfg.Analyzer,
		scorer:      cfg.Scorer,
		repo:        cfg.Repository,
		metrics:     cfg.Metrics,
		autoConnect: cfg.AutoConnect,
		window:      cfg.NoticeWindow,
		interval:    cfg.TickInterval,
		now:         cfg.Now,
		newID:       cfg.NewID,
		hub:         newHub(),
		phase:       PhaseSetup,
	}
	if m.scorer == nil {
		m.scorer = scoring.New()
	}
	if m.repo == nil {
		m.repo = NewMemoryRepository()
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	if m.window <= 0 {
		m.window = DefaultNoticeWindow
	}
	if m.interval <= 0 {
		m.interval = DefaultTickInterval
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Repository returns the history repository.
func (m *Manager) Repository() Repository {
	return m.repo
}

// Start creates a new session from req and makes it active.
func (m *Manager) Start(ctx context.Context, req SetupRequest) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.phase != PhaseSetup {
		phase := m.phase
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: start from %s", ErrInvalidTransition, phase)
	}

	scenario, clientType, err := catalog.Resolve(req)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: start: %w", err)
	}

	s := &Session{
		ID:         m.newID(),
		Scenario:   scenario,
		ClientType: clientType,
		StartTime:  m.now(),
		Transcript: Transcript{},
		Feedback:   types.EmptyFeedback(),
	}
	m.cur = s
	m.phase = PhaseActive
	m.dialing = ""
	m.dialSeq++
	m.state = scoring.State{}
	m.notices = nil
	m.status = ""
	m.timer = startTicker(m.interval, m.onTick)
	m.publishLocked(EventPhase, PhaseData{Phase: PhaseActive})
	snapshot := s.Clone()
	m.mu.Unlock()

	m.metrics.SessionsStarted.Add(ctx, 1)
	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		"session_id", s.ID,
		"scenario", scenario,
		"client_type", clientType,
	)

	if m.autoConnect {
		if err := m.Connect(ctx); err != nil {
			slog.Warn("session: auto-connect failed", "session_id", s.ID, "err", err)
		}
	}
	return snapshot, nil
}

// Connect opens the media channel for the active session. It is a no-op
// while a connection is open or being opened for the same session. A failed
// attempt leaves the session active and disconnected; calling Connect again
// retries.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseActive || m.ending {
		m.mu.Unlock()
		return ErrNotActive
	}
	id := m.cur.ID
	if m.conn != nil || m.dialing == id {
		m.mu.Unlock()
		return nil
	}
	if m.dialer == nil || m.creds == nil {
		m.mu.Unlock()
		return ErrNoChannel
	}
	m.dialSeq++
	seq := m.dialSeq
	m.dialing = id
	m.mu.Unlock()

	conn, err := m.dial(ctx, id)
	m.metrics.RecordChannelConnect(ctx, err)

	m.mu.Lock()
	current := m.dialSeq == seq
	if current {
		m.dialing = ""
	}
	if err != nil {
		m.mu.Unlock()
		slog.Warn("session: connect failed", "session_id", id, "err", err)
		return err
	}
	if m.phase != PhaseActive || m.ending || m.cur == nil || m.cur.ID != id {
		m.mu.Unlock()
		_ = conn.Disconnect(ctx)
		return ErrNotActive
	}
	if !current {
		m.mu.Unlock()
		_ = conn.Disconnect(ctx)
		slog.Info("session: discarding superseded connection", "session_id", id)
		return ErrConnectAborted
	}
	m.connGen++
	gen := m.connGen
	done := make(chan struct{})
	m.conn = conn
	m.pumpDone = done
	m.connected = true
	m.publishLocked(EventConnection, ConnectionData{Connected: true})
	m.mu.Unlock()

	go m.pump(id, gen, conn, done)
	slog.Info("session: channel connected", "session_id", id)
	return nil
}

func (m *Manager) dial(ctx context.Context, id string) (channel.Conn, error) {
	url, credential, err := m.creds.Credential("roleplay-"+id, TraineeIdentity)
	if err != nil {
		return nil, fmt.Errorf("session: connect: credential: %w", err)
	}
	conn, err := m.dialer.Dial(ctx, url, credential)
	if err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}
	return conn, nil
}

// pump applies the events of one connection until its channel closes.
func (m *Manager) pump(id string, gen uint64, conn channel.Conn, done chan struct{}) {
	defer close(done)
	for ev := range conn.Events() {
		m.handleChannelEvent(id, gen, ev)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connGen == gen && m.conn == conn {
		m.conn = nil
		m.pumpDone = nil
		m.connected = false
		m.publishLocked(EventConnection, ConnectionData{Connected: false, Reason: "remote closed"})
		slog.Info("session: channel closed by remote", "session_id", id)
	}
}

func (m *Manager) handleChannelEvent(id string, gen uint64, ev channel.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Events from a superseded connection or session are dropped.
	if m.connGen != gen || m.phase != PhaseActive || m.cur == nil || m.cur.ID != id {
		return
	}

	switch ev.Type {
	case channel.EventTranscription:
		u := ev.Utterance
		if u.Timestamp == 0 {
			u.Timestamp = m.now().UnixMilli()
		}
		if err := u.Validate(); err != nil {
			slog.Debug("session: dropping invalid transcription", "session_id", id, "err", err)
			return
		}
		m.appendLocked(context.Background(), u)
	case channel.EventParticipantJoined:
		m.publishLocked(EventParticipant, ParticipantData{Identity: ev.Participant})
	case channel.EventTrackReceived:
		m.publishLocked(EventParticipant, ParticipantData{Identity: ev.Participant, Track: true})
	case channel.EventDisconnected:
		slog.Info("session: channel disconnected", "session_id", id, "reason", ev.Reason)
	}
}

// Disconnect closes the media channel and waits until its events are no
// longer applied. An in-flight Connect is aborted and its connection
// discarded. It is a no-op without an open or pending connection.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	conn, done := m.detachConnLocked()
	if conn != nil {
		m.publishLocked(EventConnection, ConnectionData{Connected: false})
	}
	m.mu.Unlock()
	return closeConn(ctx, conn, done)
}

// detachConnLocked forgets the current connection and any pending dial.
// Bumping the generation makes its pump drop whatever it still delivers.
func (m *Manager) detachConnLocked() (channel.Conn, chan struct{}) {
	conn, done := m.conn, m.pumpDone
	m.conn = nil
	m.pumpDone = nil
	m.connected = false
	m.connGen++
	m.dialing = ""
	m.dialSeq++
	return conn, done
}

func closeConn(ctx context.Context, conn channel.Conn, done chan struct{}) error {
	if conn == nil {
		return nil
	}
	err := conn.Disconnect(ctx)
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		}
	}
	if err != nil {
		return fmt.Errorf("session: disconnect: %w", err)
	}
	return nil
}

// Append adds u to the transcript of the active session and runs a scoring
// pass. A zero timestamp is set to the current time.
func (m *Manager) Append(ctx context.Context, u types.Utterance) error {
	if u.Timestamp == 0 {
		u.Timestamp = m.now().UnixMilli()
	}
	if err := u.Validate(); err != nil {
		return fmt.Errorf("session: append: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive || m.ending {
		return ErrNotActive
	}
	m.appendLocked(ctx, u)
	return nil
}

func (m *Manager) appendLocked(ctx context.Context, u types.Utterance) {
	s := m.cur
	s.Transcript = append(s.Transcript, u)

	next, pass := m.scorer.Update(m.state, s.Transcript[m.state.Seen:])
	m.state = next
	s.Scores = pass.Scores

	now := m.now()
	notices := make([]Notice, 0, len(pass.Notices))
	for _, text := range pass.Notices {
		notices = append(notices, Notice{Text: text, ExpiresAt: now.Add(m.window)})
	}
	m.notices = append(pruneNotices(m.notices, now), notices...)

	m.metrics.RecordUtterance(ctx, string(u.Speaker))
	if pass.Changed {
		m.metrics.ScorePasses.Add(ctx, 1)
	}

	m.publishLocked(EventUtterance, u)
	m.publishLocked(EventScores, ScoresData{Scores: pass.Scores, Notices: notices})
}

func pruneNotices(ns []Notice, now time.Time) []Notice {
	out := ns[:0]
	for _, n := range ns {
		if now.Before(n.ExpiresAt) {
			out = append(out, n)
		}
	}
	return out
}

// End stops the active session, archives it and requests the deep analysis
// in the background.
func (m *Manager) End(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.phase != PhaseActive || m.ending {
		m.mu.Unlock()
		return nil, ErrNotActive
	}
	m.ending = true
	timer := m.timer
	m.timer = nil
	conn, done := m.detachConnLocked()
	m.mu.Unlock()

	timer.Stop()
	if err := closeConn(ctx, conn, done); err != nil {
		slog.Warn("session: disconnect on end", "err", err)
	}

	m.mu.Lock()
	s := m.cur
	end := m.now()
	if end.Before(s.StartTime) {
		end = s.StartTime
	}
	s.EndTime = &end
	m.phase = PhaseEnded
	m.ending = false
	m.notices = nil
	archived := s.Clone()

	if m.analyzer == nil || m.closed {
		m.status = AnalysisSkipped
	} else {
		m.status = AnalysisPending
		actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		m.cancel = cancel
		req := analysis.Request{
			Transcript: archived.Transcript.Clone(),
			Scenario:   s.Scenario,
			ClientType: s.ClientType,
		}
		m.wg.Add(1)
		go m.runAnalysis(actx, s.ID, req)
	}
	if conn != nil {
		m.publishLocked(EventConnection, ConnectionData{Connected: false})
	}
	m.publishLocked(EventPhase, PhaseData{Phase: PhaseEnded})
	m.mu.Unlock()

	if err := m.repo.Save(ctx, archived); err != nil {
		slog.Error("session: archive failed", "session_id", s.ID, "err", err)
	}
	m.metrics.SessionsEnded.Add(ctx, 1)
	m.metrics.ActiveSessions.Add(ctx, -1)
	slog.Info("session ended",
		"session_id", s.ID,
		"utterances", len(archived.Transcript),
		"overall", archived.Scores.Overall,
		"duration", archived.Duration(),
	)
	return archived, nil
}

func (m *Manager) runAnalysis(ctx context.Context, id string, req analysis.Request) {
	defer m.wg.Done()
	res, err := m.analyzer.Analyze(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.phase != PhaseEnded || m.cur == nil || m.cur.ID != id {
		slog.Debug("session: dropping analysis for superseded session", "session_id", id)
		return
	}
	m.cancel = nil
	if err != nil {
		m.status = AnalysisFailed
		m.cur.Feedback = types.EmptyFeedback()
		slog.Error("session: analysis failed", "session_id", id, "err", err)
	} else {
		m.status = AnalysisComplete
		m.cur.Feedback = res.Feedback()
	}
	m.publishLocked(EventFeedback, FeedbackData{Status: m.status, Feedback: m.cur.Feedback.Clone()})
}

// Reset discards the ended session and returns to [PhaseSetup]. Pending
// analysis is cancelled. It is a no-op in [PhaseSetup].
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.phase {
	case PhaseSetup:
		return nil
	case PhaseActive:
		return fmt.Errorf("%w: reset while active", ErrInvalidTransition)
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	id := m.cur.ID
	m.cur = nil
	m.state = scoring.State{}
	m.status = ""
	m.phase = PhaseSetup
	m.publishLocked(EventPhase, PhaseData{Phase: PhaseSetup})
	slog.Debug("session reset", "session_id", id)
	return nil
}

// View returns a snapshot for presentation.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v := View{
		Phase:     m.phase,
		Connected: m.connected,
		Notices:   []Notice{},
		Tips:      []string{},
		Analysis:  m.status,
	}
	if m.cur == nil {
		return v
	}
	v.Session = m.cur.Clone()
	v.Elapsed = m.elapsedLocked(now)
	for _, n := range m.notices {
		if now.Before(n.ExpiresAt) {
			v.Notices = append(v.Notices, n)
		}
	}
	if tips := scoring.Tips(m.cur.Scores); tips != nil {
		v.Tips = tips
	}
	if m.phase == PhaseEnded {
		r := v.Session.Results()
		v.Results = &r
	}
	return v
}

func (m *Manager) elapsedLocked(now time.Time) int {
	end := now
	if m.cur.EndTime != nil {
		end = *m.cur.EndTime
	}
	if end.Before(m.cur.StartTime) {
		return 0
	}
	return int(end.Sub(m.cur.StartTime) / time.Second)
}

func (m *Manager) onTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActive || m.ending || m.cur == nil {
		return
	}
	now := m.now()
	m.notices = pruneNotices(m.notices, now)
	m.publishLocked(EventTick, TickData{Elapsed: m.elapsedLocked(now)})
}

// Subscribe returns a live event feed with the given buffer size and a
// function that cancels the subscription. A subscriber that falls behind
// misses events. The channel is closed by cancel or [Manager.Close].
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.hub.subscribe(buffer)
}

// DroppedEvents reports how many events slow subscribers missed.
func (m *Manager) DroppedEvents() int {
	return m.hub.droppedCount()
}

func (m *Manager) publishLocked(kind EventKind, data any) {
	ev := Event{Kind: kind, Time: m.now(), Data: data}
	if m.cur != nil {
		ev.SessionID = m.cur.ID
	}
	m.hub.publish(ev)
}

// Close tears the manager down: the timer stops, the channel disconnects,
// pending analysis is cancelled and subscriber feeds are closed. Further
// calls return nil.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	timer := m.timer
	m.timer = nil
	conn, done := m.detachConnLocked()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	wasActive := m.phase == PhaseActive && !m.ending
	m.mu.Unlock()

	timer.Stop()
	err := closeConn(ctx, conn, done)

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	if wasActive {
		m.metrics.ActiveSessions.Add(ctx, -1)
	}
	m.hub.close()
	return err
}
