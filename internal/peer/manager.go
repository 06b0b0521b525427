package peer

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/logging"
	"github.com/BioHazard786/studyroom/internal/signal"
	"github.com/pion/webrtc/v4"
)

// Config wires a Manager to its collaborators.
type Config struct {
	// Self is the local identity. It decides the polite side of a glare.
	Self    string
	NewConn func() (Conn, error)
	Sender  Sender
	Media   TrackSource
	// OnChange receives every new snapshot. It runs on the manager goroutine
	// and must not call Dispatch.
	OnChange func([]View)
	Logger   *slog.Logger
}

type session struct {
	id      string
	seq     uint64
	conn    Conn
	state   State
	sending map[webrtc.RTPCodecType]bool
	pending []webrtc.ICECandidateInit
	stream  *RemoteStream
}

// Manager owns every peer session. All state lives on one goroutine;
// callers and pion callbacks post commands to it.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	// Owned by the loop goroutine.
	sessions map[string]*session
	seq      uint64
	closed   bool

	snapshot     atomic.Pointer[[]View]
	dropped      atomic.Int64
	negotiations atomic.Int64
	failures     atomic.Int64
	malformed    atomic.Int64

	closeOnce sync.Once
}

// New starts a manager.
func New(cfg Config) *Manager {
	m := &Manager{
		cfg:      cfg,
		logger:   logging.Component(cfg.Logger, "peer"),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		sessions: make(map[string]*session),
	}
	empty := []View{}
	m.snapshot.Store(&empty)
	go m.loop()
	return m
}

func (m *Manager) loop() {
	defer close(m.done)
	for range m.wake {
		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				stop := m.stopped
				m.mu.Unlock()
				if stop {
					return
				}
				break
			}
			fn := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			m.mu.Unlock()
			fn()
		}
	}
}

// post queues fn without blocking. It reports false once the manager has
// stopped accepting work.
func (m *Manager) post(fn func()) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// run queues fn and waits for it.
func (m *Manager) run(fn func() error) error {
	result := make(chan error, 1)
	if !m.post(func() { result <- fn() }) {
		return errs.ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-m.done:
		return errs.ErrClosed
	}
}

// Dispatch applies env and waits. Negotiation failures of one peer are
// returned for that peer only; the manager keeps running.
func (m *Manager) Dispatch(env signal.Envelope) error {
	return m.run(func() error { return m.handle(env) })
}

// Handle queues env without waiting.
func (m *Manager) Handle(env signal.Envelope) {
	m.post(func() {
		if err := m.handle(env); err != nil {
			m.logger.Warn("envelope failed", "type", env.Type, "peer", env.Peer(), "err", err)
		}
	})
}

// Peers returns the latest snapshot, ordered by join sequence.
func (m *Manager) Peers() []View {
	return *m.snapshot.Load()
}

// Stats reports counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Peers:        len(m.Peers()),
		Dropped:      m.dropped.Load(),
		Negotiations: m.negotiations.Load(),
		Failures:     m.failures.Load(),
		Malformed:    m.malformed.Load(),
	}
}

// Traffic reports RTP packets received per peer. A closed manager reports
// nil.
func (m *Manager) Traffic() map[string]uint64 {
	out := make(map[string]uint64)
	err := m.run(func() error {
		for id, s := range m.sessions {
			out[id] = s.conn.PacketsReceived()
		}
		return nil
	})
	if err != nil {
		return nil
	}
	return out
}

// Close tears down every session and stops the manager. No envelope is sent
// afterwards. Safe to call more than once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.run(func() error {
			m.closed = true
			for id, s := range m.sessions {
				s.conn.Close()
				delete(m.sessions, id)
			}
			m.publish()
			return nil
		})

		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()
		select {
		case m.wake <- struct{}{}:
		default:
		}
		<-m.done
	})
}

func (m *Manager) handle(env signal.Envelope) error {
	if m.closed {
		return errs.ErrClosed
	}
	peer := env.Peer()
	if peer == "" || peer == m.cfg.Self {
		return nil
	}

	var err error
	switch env.Type {
	case signal.UserJoined:
		err = m.userJoined(peer)
	case signal.UserLeft:
		m.userLeft(peer)
	case signal.Offer:
		err = m.remoteOffer(peer, env)
	case signal.Answer:
		err = m.remoteAnswer(peer, env)
	case signal.ICECandidate:
		err = m.remoteCandidate(peer, env)
	default:
		err = errs.Malformed("dispatch", errors.New("unknown envelope type "+string(env.Type)))
	}

	if errors.Is(err, errs.ErrMalformedEnvelope) {
		m.malformed.Add(1)
		m.logger.Warn("dropping malformed envelope", "peer", peer, "err", err)
		return nil
	}
	return err
}

func (m *Manager) userJoined(peer string) error {
	if _, ok := m.sessions[peer]; ok {
		m.logger.Debug("peer already known", "peer", peer)
		return nil
	}

	m.seq++
	s, err := m.open(peer, m.seq)
	if err != nil {
		return err
	}
	m.sessions[peer] = s
	m.publish()

	return m.offer(s)
}

func (m *Manager) userLeft(peer string) {
	s, ok := m.sessions[peer]
	if !ok {
		return
	}
	s.conn.Close()
	delete(m.sessions, peer)
	m.logger.Info("peer left", "peer", peer)
	m.publish()
}

// polite reports whether the local side yields when both sides offer at once.
func (m *Manager) polite(peer string) bool {
	return m.cfg.Self > peer
}

func (m *Manager) remoteOffer(peer string, env signal.Envelope) error {
	sdp, err := env.Description()
	if err != nil {
		return err
	}

	s, ok := m.sessions[peer]
	switch {
	case !ok:
		m.seq++
		if s, err = m.open(peer, m.seq); err != nil {
			return err
		}
		m.sessions[peer] = s

	case s.state == OfferSent:
		if !m.polite(peer) {
			m.logger.Debug("ignoring colliding offer", "peer", peer)
			return nil
		}
		// Yield: drop the local offer by starting over on a fresh connection.
		m.logger.Debug("yielding to colliding offer", "peer", peer)
		fresh, err := m.open(peer, s.seq)
		if err != nil {
			m.drop(s)
			return err
		}
		fresh.pending = s.pending
		s.conn.Close()
		m.sessions[peer] = fresh
		s = fresh
	}

	m.negotiations.Add(1)
	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return m.fail(s, "set remote description", err)
	}
	s.state = AnswerPending
	m.publish()
	if err := m.flush(s); err != nil {
		return err
	}

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return m.fail(s, "create answer", err)
	}
	if err := s.conn.SetLocalDescription(answer); err != nil {
		return m.fail(s, "set local description", err)
	}
	m.send(signal.NewAnswer(peer, answer))

	s.state = Stable
	m.publish()
	return nil
}

func (m *Manager) remoteAnswer(peer string, env signal.Envelope) error {
	s, ok := m.sessions[peer]
	if !ok || s.state != OfferSent {
		m.logger.Debug("dropping unexpected answer", "peer", peer)
		return nil
	}
	sdp, err := env.Description()
	if err != nil {
		return err
	}

	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return m.fail(s, "set remote description", err)
	}
	s.state = Stable
	m.publish()
	return m.flush(s)
}

// remoteCandidate applies a candidate, or buffers it until the remote
// description is committed.
func (m *Manager) remoteCandidate(peer string, env signal.Envelope) error {
	s, ok := m.sessions[peer]
	if !ok {
		m.logger.Debug("dropping candidate for unknown peer", "peer", peer)
		return nil
	}
	c, err := env.Candidate()
	if err != nil {
		return err
	}

	if !s.conn.HasRemoteDescription() {
		s.pending = append(s.pending, c)
		return nil
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		return m.fail(s, "add ice candidate", err)
	}
	return nil
}

func (m *Manager) flush(s *session) error {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			return m.fail(s, "add ice candidate", err)
		}
	}
	return nil
}

// offer starts a locally initiated negotiation. Kinds without a local track
// get a receive-only transceiver so the offer still carries audio and video.
func (m *Manager) offer(s *session) error {
	m.negotiations.Add(1)
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if s.sending[kind] {
			continue
		}
		if err := s.conn.AddRecvOnly(kind); err != nil {
			return m.fail(s, "add transceiver", err)
		}
	}
	offer, err := s.conn.CreateOffer()
	if err != nil {
		return m.fail(s, "create offer", err)
	}
	if err := s.conn.SetLocalDescription(offer); err != nil {
		return m.fail(s, "set local description", err)
	}
	m.send(signal.NewOffer(s.id, offer))

	s.state = OfferSent
	m.publish()
	return nil
}

// open builds a connection for peer with the shared local tracks attached and
// the callbacks bound to the new session.
func (m *Manager) open(peer string, seq uint64) (*session, error) {
	conn, err := m.cfg.NewConn()
	if err != nil {
		m.failures.Add(1)
		return nil, errs.Negotiation("create connection", peer, err)
	}

	var tracks []webrtc.TrackLocal
	if m.cfg.Media != nil {
		tracks = m.cfg.Media.LocalTracks()
	}
	sending := map[webrtc.RTPCodecType]bool{}
	for _, t := range tracks {
		if err := conn.AddTrack(t); err != nil {
			conn.Close()
			m.failures.Add(1)
			return nil, errs.Negotiation("add track", peer, err)
		}
		sending[t.Kind()] = true
	}

	s := &session{id: peer, seq: seq, conn: conn, sending: sending}

	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		m.post(func() {
			if m.current(s) {
				m.send(signal.NewCandidate(peer, c))
			}
		})
	})
	conn.OnTrack(func(streamID, trackID string, kind webrtc.RTPCodecType) {
		m.post(func() {
			if m.current(s) {
				m.addRemoteTrack(s, streamID, trackID, kind)
			}
		})
	})
	conn.OnFailed(func() {
		m.post(func() {
			if m.current(s) {
				m.fail(s, "ice", errors.New("connection failed"))
			}
		})
	})

	m.logger.Info("peer session opened", "peer", peer, "tracks", len(tracks))
	return s, nil
}

// current reports whether s is still the registered session for its peer.
func (m *Manager) current(s *session) bool {
	return !m.closed && m.sessions[s.id] == s
}

func (m *Manager) addRemoteTrack(s *session, streamID, trackID string, kind webrtc.RTPCodecType) {
	next := &RemoteStream{ID: streamID}
	if s.stream != nil && s.stream.ID == streamID {
		for _, t := range s.stream.Tracks {
			if t.ID == trackID {
				return
			}
		}
		next.Tracks = append(next.Tracks, s.stream.Tracks...)
	}
	next.Tracks = append(next.Tracks, TrackInfo{ID: trackID, Kind: kind})
	s.stream = next
	m.publish()
}

// fail tears s down. Other peers are unaffected.
func (m *Manager) fail(s *session, op string, err error) error {
	m.failures.Add(1)
	s.state = Failed
	m.logger.Warn("negotiation failed", "peer", s.id, "op", op, "err", err)
	m.drop(s)
	return errs.Negotiation(op, s.id, err)
}

func (m *Manager) drop(s *session) {
	s.conn.Close()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
	}
	m.publish()
}

func (m *Manager) send(env signal.Envelope) {
	if m.closed || m.cfg.Sender == nil {
		m.dropped.Add(1)
		return
	}
	if err := m.cfg.Sender.Send(env); err != nil {
		m.dropped.Add(1)
		m.logger.Debug("signal dropped", "type", env.Type, "target", env.Target, "err", err)
	}
}

// publish replaces the snapshot; readers never see a partial update.
func (m *Manager) publish() {
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].seq < sessions[j].seq })

	views := make([]View, len(sessions))
	for i, s := range sessions {
		views[i] = View{PeerID: s.id, State: s.state, Stream: s.stream}
	}
	m.snapshot.Store(&views)

	if m.cfg.OnChange != nil {
		m.cfg.OnChange(views)
	}
}
