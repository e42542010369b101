package link

import (
	"errors"

	"github.com/hedi22/cosemlib/pkg/internal/logger"
)

// Station is the link state machine of one physical connection.
//
// A Station is not safe for concurrent use. Every method, including
// HandleTimeout, must be called from the single goroutine that owns the
// connection; callbacks and the FrameSender run on that goroutine too.
type Station struct {
	// Configuration
	cfg StationConfig

	// Collaborators
	send   FrameSender
	timers Scheduler
	stats  *Statistics
	logger logger.Logger

	// State
	state      LinkState
	vs         uint8   // V(S), next N(S) to send
	vr         uint8   // V(R), next N(S) expected
	window     *Window // Unacknowledged I-frames
	retryCount int
	peerBusy   bool      // RNR received, new I-frames held back
	timer      TimerKind // Timer currently running
	lastReject *Frame    // FRMR repeated while Rejected
}

// NewStation creates a station in the Disconnected state
func NewStation(cfg StationConfig, send FrameSender, timers Scheduler, log logger.Logger) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if send == nil || timers == nil {
		return nil, errors.New("station needs a frame sender and a scheduler")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Station{
		cfg:    cfg,
		send:   send,
		timers: timers,
		stats:  NewStatistics(),
		logger: log,
		state:  StateDisconnected,
		window: NewWindow(cfg.WindowSize),
		timer:  TimerNone,
	}, nil
}

// State returns current link state
func (s *Station) State() LinkState {
	return s.state
}

// IsConnected returns true if information transfer is possible
func (s *Station) IsConnected() bool {
	return s.state == StateConnected
}

// VS returns the send state variable
func (s *Station) VS() uint8 {
	return s.vs
}

// VR returns the receive state variable
func (s *Station) VR() uint8 {
	return s.vr
}

// Outstanding returns the number of unacknowledged I-frames
func (s *Station) Outstanding() int {
	return s.window.Len()
}

// RetryCount returns the number of consecutive timer expiries
func (s *Station) RetryCount() int {
	return s.retryCount
}

// PeerBusy reports whether the peer signalled receive-not-ready
func (s *Station) PeerBusy() bool {
	return s.peerBusy
}

// Timer returns the kind of timer currently running
func (s *Station) Timer() TimerKind {
	return s.timer
}

// Statistics returns the station's counters
func (s *Station) Statistics() *Statistics {
	return s.stats
}

// Connect sends SNRM and waits for UA
func (s *Station) Connect() error {
	switch s.state {
	case StateDisconnected, StateRejected:
	default:
		return ErrInvalidState
	}
	s.beginConnect()
	return nil
}

// Reset re-establishes the link from any state
func (s *Station) Reset() error {
	s.beginConnect()
	return nil
}

// Disconnect sends DISC and waits for UA
func (s *Station) Disconnect() error {
	s.stopTimer()
	s.window.Clear()
	s.peerBusy = false
	s.lastReject = nil
	s.retryCount = 0

	s.sendUnnumbered(KindDISC, true)
	s.setState(StateAwaitingDiscUA, nil)
	s.startTimer(TimerDisconnect)
	return nil
}

// SendData sends an I-frame carrying data.
// ErrWindowFull and ErrPeerBusy are backpressure: nothing was sent and the
// caller should retry after an acknowledgement.
func (s *Station) SendData(data []byte) error {
	if s.state != StateConnected {
		return ErrNotConnected
	}
	if len(data) > s.cfg.MaxInfoSize {
		return ErrFrameTooLong
	}
	if s.peerBusy {
		return ErrPeerBusy
	}
	if s.window.Full() {
		s.stats.WindowFull()
		return ErrWindowFull
	}

	info := make([]byte, len(data))
	copy(info, data)

	frame, err := NewIFrame(s.cfg.Address, s.vs, s.vr, false, info)
	if err != nil {
		return err
	}
	if err := s.window.Push(frame); err != nil {
		return err
	}
	s.vs = NextSeq(s.vs)

	s.transmit(frame)
	if s.timer != TimerRetransmit {
		s.startTimer(TimerRetransmit)
	}
	return nil
}

// SendUI sends an unnumbered information frame; allowed in any state
func (s *Station) SendUI(data []byte) error {
	if len(data) > s.cfg.MaxInfoSize {
		return ErrFrameTooLong
	}
	info := make([]byte, len(data))
	copy(info, data)

	frame, err := NewUnnumberedFrame(KindUI, s.cfg.Address, false, info)
	if err != nil {
		return err
	}
	s.transmit(frame)
	return nil
}

// Close tears the station down after the transport closed.
// No frame is emitted.
func (s *Station) Close() {
	s.stopTimer()
	s.window.Clear()
	s.peerBusy = false
	s.lastReject = nil
	s.setState(StateDisconnected, nil)
}

// Receive parses raw frame bytes and processes the frame.
// The returned error classifies dropped or rejected frames; the station has
// already handled it and callers only need it for logging.
func (s *Station) Receive(data []byte) error {
	frame, err := Parse(data)
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		// Silently dropped; the peer's timer recovers the frame
		s.stats.FCSError()
		return err
	case errors.Is(err, ErrInvalidControl):
		s.stats.FrameRx()
		s.stats.InvalidControl()
		if !s.addressed(frame) {
			return ErrAddressMismatch
		}
		s.reject(frame.Raw, ReasonInvalidControl)
		return err
	case err != nil:
		s.stats.BadFrame()
		return err
	}

	s.stats.FrameRx()
	return s.HandleFrame(frame)
}

// HandleFrame processes a decoded frame
func (s *Station) HandleFrame(f *Frame) error {
	if !s.addressed(f) {
		return ErrAddressMismatch
	}
	s.logger.Debug("Station: rx %s in %s", f, s.state)

	if f.Control.Kind == KindUI {
		if len(f.Info) > s.cfg.MaxInfoSize {
			return ErrFrameTooLong
		}
		s.deliver(s.cfg.UICallback, f.Info)
		return nil
	}

	if reason := s.checkInfo(f); reason != 0 {
		s.reject(f.Raw, reason)
		return ErrFrameRejected
	}

	switch s.state {
	case StateDisconnected:
		return s.handleDisconnected(f)
	case StateAwaitingUA:
		return s.handleAwaitingUA(f)
	case StateConnected:
		return s.handleConnected(f)
	case StateAwaitingDiscUA:
		return s.handleAwaitingDiscUA(f)
	case StateRejected:
		return s.handleRejected(f)
	default:
		return ErrInvalidState
	}
}

// HandleTimeout processes expiry of the running timer.
// Expiries for a timer that is no longer running are ignored.
func (s *Station) HandleTimeout(kind TimerKind) {
	if kind == TimerNone || kind != s.timer {
		return
	}
	s.timer = TimerNone
	s.stats.Timeout()

	switch kind {
	case TimerConnect:
		if s.state != StateAwaitingUA {
			return
		}
		s.retryCount++
		if s.retryCount >= s.cfg.MaxRetries {
			s.logger.Warn("Station: no UA after %d attempts", s.retryCount)
			s.fail(ErrLinkEstablishmentTimeout)
			return
		}
		s.logger.Debug("Station: connect timeout, resending SNRM (retry %d)", s.retryCount)
		s.sendUnnumbered(KindSNRM, true)
		s.startTimer(TimerConnect)

	case TimerRetransmit:
		if s.state != StateConnected || s.window.Len() == 0 {
			return
		}
		if s.retryCount >= s.cfg.MaxRetries {
			s.logger.Warn("Station: %d frames unacknowledged after %d retries", s.window.Len(), s.retryCount)
			s.fail(ErrRetransmissionExhausted)
			return
		}
		s.retryCount++
		s.retransmit()
		s.startTimer(TimerRetransmit)

	case TimerDisconnect:
		if s.state != StateAwaitingDiscUA {
			return
		}
		s.logger.Debug("Station: no UA for DISC, disconnecting")
		s.enterDisconnected(nil)
	}
}

func (s *Station) handleDisconnected(f *Frame) error {
	switch f.Control.Kind {
	case KindSNRM:
		s.acceptConnect(f)
	case KindDISC, KindI:
		s.sendUnnumbered(KindDM, f.Control.PollFinal)
	default:
		s.logger.Debug("Station: ignoring %s while disconnected", f.Control.Kind)
		return ErrUnexpectedFrame
	}
	return nil
}

func (s *Station) handleAwaitingUA(f *Frame) error {
	switch f.Control.Kind {
	case KindUA:
		s.resetSequence()
		s.stopTimer()
		s.setState(StateConnected, nil)
	case KindDM:
		s.fail(ErrConnectRefused)
	case KindSNRM:
		s.acceptConnect(f)
	case KindDISC:
		s.sendUnnumbered(KindDM, f.Control.PollFinal)
	default:
		return ErrUnexpectedFrame
	}
	return nil
}

func (s *Station) handleConnected(f *Frame) error {
	switch f.Control.Kind {
	case KindI:
		return s.handleInfo(f)
	case KindRR:
		if !s.acknowledge(f) {
			return ErrInvalidNR
		}
		s.peerBusy = false
	case KindRNR:
		if !s.acknowledge(f) {
			return ErrInvalidNR
		}
		s.peerBusy = true
	case KindSNRM:
		s.logger.Warn("Station: peer reset the link, %d frames discarded", s.window.Len())
		s.acceptConnect(f)
	case KindDISC:
		s.sendUnnumbered(KindUA, f.Control.PollFinal)
		s.enterDisconnected(nil)
	case KindDM:
		s.enterDisconnected(ErrPeerDisconnected)
	case KindFRMR:
		s.stats.RejectReceived()
		s.stopTimer()
		err := ErrFrameRejected
		if rej, perr := ParseFrameReject(f.Info); perr == nil {
			err = rej.Err()
		}
		s.logger.Warn("Station: peer rejected a frame: %v", err)
		s.setState(StateRejected, err)
	case KindUA:
		s.reject(f.Raw, ReasonInvalidControl)
		return ErrUnexpectedFrame
	}
	return nil
}

func (s *Station) handleAwaitingDiscUA(f *Frame) error {
	switch f.Control.Kind {
	case KindUA, KindDM:
		s.enterDisconnected(nil)
	case KindDISC:
		s.sendUnnumbered(KindUA, f.Control.PollFinal)
		s.enterDisconnected(nil)
	case KindSNRM:
		s.sendUnnumbered(KindDM, f.Control.PollFinal)
	default:
		return ErrUnexpectedFrame
	}
	return nil
}

func (s *Station) handleRejected(f *Frame) error {
	switch f.Control.Kind {
	case KindSNRM:
		s.acceptConnect(f)
	case KindFRMR:
		s.stats.RejectReceived()
	default:
		// DISC and DM included: only SNRM or a local reset leaves Rejected
		if s.lastReject != nil {
			s.transmit(s.lastReject)
		}
		return ErrFrameRejected
	}
	return nil
}

// handleInfo processes an I-frame while connected (go-back-N receiver)
func (s *Station) handleInfo(f *Frame) error {
	if !s.acknowledge(f) {
		return ErrInvalidNR
	}

	if f.Control.NS != s.vr {
		s.stats.OutOfSequence()
		s.logger.Debug("Station: N(S)=%d, expected %d, discarding", f.Control.NS, s.vr)
		s.sendSupervisory(KindRR, f.Control.PollFinal)
		return ErrOutOfSequence
	}

	s.vr = NextSeq(s.vr)
	s.deliver(s.cfg.DataCallback, f.Info)
	s.sendSupervisory(KindRR, f.Control.PollFinal)
	return nil
}

// acknowledge applies the N(R) of f to the window.
// An N(R) outside the window triggers a frame reject and returns false.
func (s *Station) acknowledge(f *Frame) bool {
	nr := f.Control.NR
	if !s.window.ValidAck(nr, s.vs) {
		s.logger.Warn("Station: N(R)=%d outside window [%d,%d]", nr, s.window.Base(s.vs), s.vs)
		s.reject(f.Raw, ReasonInvalidNR)
		return false
	}

	if n := s.window.Ack(nr); n > 0 {
		s.retryCount = 0
		if s.window.Len() == 0 {
			s.stopTimer()
		} else {
			s.startTimer(TimerRetransmit)
		}
	}
	return true
}

// retransmit resends every outstanding frame in original order with the
// current V(R) piggybacked
func (s *Station) retransmit() {
	frames := s.window.Frames()
	s.logger.Debug("Station: go-back-N retransmitting %d frames from N(S)=%d", len(frames), s.window.Base(s.vs))
	for _, frame := range frames {
		frame.Control.NR = s.vr
		if raw, err := EncodeControl(frame.Control); err == nil {
			frame.Raw = raw
		}
		s.stats.Retransmission()
		s.transmit(frame)
	}
}

// checkInfo returns the reject reason for an information field that is not
// allowed on the frame, or zero
func (s *Station) checkInfo(f *Frame) RejectReason {
	if len(f.Info) > 0 && !f.Control.Kind.InfoPermitted() {
		return ReasonInfoNotPermitted
	}
	if f.Control.Kind == KindI && len(f.Info) > s.cfg.MaxInfoSize {
		return ReasonInfoTooLong
	}
	return 0
}

// reject sends FRMR and freezes the link. Outside Connected and Rejected
// the offending frame is only discarded.
func (s *Station) reject(raw uint8, reason RejectReason) {
	switch s.state {
	case StateConnected:
	case StateRejected:
		if s.lastReject != nil {
			s.transmit(s.lastReject)
		}
		return
	default:
		s.logger.Debug("Station: discarding frame 0x%02X (%s) in %s", raw, reason, s.state)
		return
	}

	rej := FrameReject{Control: raw, VS: s.vs, VR: s.vr, Reason: reason}
	frame, err := NewUnnumberedFrame(KindFRMR, s.cfg.Address, true, rej.Encode())
	if err != nil {
		s.logger.Error("Station: building FRMR: %v", err)
		return
	}

	s.stopTimer()
	s.lastReject = frame
	s.stats.RejectSent()
	s.transmit(frame)
	s.setState(StateRejected, rej.Err())
}

func (s *Station) beginConnect() {
	s.stopTimer()
	s.resetSequence()
	s.retryCount = 0
	s.sendUnnumbered(KindSNRM, true)
	s.setState(StateAwaitingUA, nil)
	s.startTimer(TimerConnect)
}

// acceptConnect answers a peer SNRM
func (s *Station) acceptConnect(f *Frame) {
	s.stopTimer()
	s.resetSequence()
	s.retryCount = 0
	s.sendUnnumbered(KindUA, f.Control.PollFinal)
	s.setState(StateConnected, nil)
}

func (s *Station) resetSequence() {
	s.vs = 0
	s.vr = 0
	s.window.Clear()
	s.peerBusy = false
	s.lastReject = nil
}

// fail drops the link after an unrecoverable error and reports it once
func (s *Station) fail(err error) {
	s.enterDisconnected(err)
}

func (s *Station) enterDisconnected(err error) {
	s.stopTimer()
	s.window.Clear()
	s.peerBusy = false
	s.lastReject = nil
	s.retryCount = 0
	s.setState(StateDisconnected, err)
}

// setState changes state and notifies the status callback when the state
// changed or an error is reported
func (s *Station) setState(state LinkState, err error) {
	prev := s.state
	s.state = state
	if prev == state && err == nil {
		return
	}
	if err != nil {
		s.logger.Info("Station: %s -> %s: %v", prev, state, err)
	} else {
		s.logger.Info("Station: %s -> %s", prev, state)
	}
	if s.cfg.StatusCallback != nil {
		s.cfg.StatusCallback(state, err)
	}
}

func (s *Station) startTimer(kind TimerKind) {
	var d = s.cfg.RetransmitTimeout
	switch kind {
	case TimerConnect:
		d = s.cfg.ConnectTimeout
	case TimerDisconnect:
		d = s.cfg.DisconnectTimeout
	}
	s.timer = kind
	s.timers.Schedule(kind, d)
}

func (s *Station) stopTimer() {
	if s.timer == TimerNone {
		return
	}
	s.timer = TimerNone
	s.timers.Cancel()
}

func (s *Station) addressed(f *Frame) bool {
	return f.Address == s.cfg.Address || f.Address == BroadcastAddress
}

func (s *Station) deliver(cb DataCallback, info []byte) {
	if cb == nil {
		return
	}
	if err := cb(info); err != nil {
		s.logger.Warn("Station: data callback: %v", err)
	}
}

func (s *Station) sendSupervisory(kind FrameKind, final bool) {
	frame, err := NewSupervisoryFrame(kind, s.cfg.Address, s.vr, final)
	if err != nil {
		s.logger.Error("Station: building %s: %v", kind, err)
		return
	}
	s.transmit(frame)
}

func (s *Station) sendUnnumbered(kind FrameKind, pf bool) {
	frame, err := NewUnnumberedFrame(kind, s.cfg.Address, pf, nil)
	if err != nil {
		s.logger.Error("Station: building %s: %v", kind, err)
		return
	}
	s.transmit(frame)
}

// transmit hands a frame to the sender; transport errors surface later as a
// connection close
func (s *Station) transmit(f *Frame) {
	s.stats.FrameTx()
	if err := s.send(f); err != nil {
		s.logger.Warn("Station: send %s: %v", f.Control, err)
	}
}
