package gree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// receivePollInterval bounds how long a receiver blocks before it checks
	// whether its connect cycle ended.
	receivePollInterval = 100 * time.Millisecond

	// maxBindRetries is how many times the bind-retry timer is armed per
	// handshake: once after the first bind and once after the second.
	maxBindRetries = 2
)

// statusColumns is the column list of every status request.
var statusColumns, _ = KeysToWire(PropertyNames())

// datagram is a received payload tagged with the connect cycle it belongs to.
type datagram struct {
	gen  uint64
	data []byte
	addr *net.UDPAddr
}

// command is one SetProperties request waiting for its turn.
type command struct {
	opt       []string
	p         []int
	done      chan error
	cancelled atomic.Bool
	sentAt    time.Time
}

func newCommand(wire map[string]int) *command {
	cmd := &command{done: make(chan error, 1)}
	for _, code := range slices.Sorted(maps.Keys(wire)) {
		cmd.opt = append(cmd.opt, code)
		cmd.p = append(cmd.p, wire[code])
	}
	return cmd
}

// sessionTimer is a one-shot timer with at most one pending expiry.
type sessionTimer struct {
	t *time.Timer
}

func (st *sessionTimer) arm(d time.Duration) {
	st.stop()
	st.t = time.NewTimer(d)
}

// stop cancels the timer. Its channel never delivers afterwards.
func (st *sessionTimer) stop() {
	if st.t != nil {
		st.t.Stop()
		st.t = nil
	}
}

// fired marks the timer as consumed after its channel delivered.
func (st *sessionTimer) fired() {
	st.t = nil
}

// C returns the expiry channel, nil when the timer is not armed.
func (st *sessionTimer) C() <-chan time.Time {
	if st.t == nil {
		return nil
	}
	return st.t.C
}

// session owns every piece of mutable connection state. All fields are
// accessed only from the run goroutine.
type session struct {
	opts    *clientOptions
	logger  *slog.Logger
	metrics *Metrics

	ops    chan func(*session)
	recvCh chan datagram
	events chan Event

	// published copy of state for lock-free reads
	stateVal *atomic.Int32
	state    State

	ctx       context.Context
	enc       *EncryptionLayer
	transport Transport
	gen       uint64
	recvStop  chan struct{}
	receivers sync.WaitGroup

	device     DeviceInfo
	properties map[string]int

	reconnectAttempt int
	bindRetries      int
	firstScan        bool
	cycleStart       time.Time

	handshakeTimer    sessionTimer
	bindRetryTimer    sessionTimer
	pollTimer         sessionTimer
	pollResponseTimer sessionTimer
	commandTimer      sessionTimer

	waiters  []chan error
	inflight *command
	queue    []*command
}

func newSession(opts *clientOptions, metrics *Metrics, stateVal *atomic.Int32) *session {
	return &session{
		opts:       opts,
		logger:     opts.logger,
		metrics:    metrics,
		ops:        make(chan func(*session)),
		recvCh:     make(chan datagram),
		events:     make(chan Event, opts.eventBuffer),
		stateVal:   stateVal,
		state:      StateIdle,
		enc:        NewEncryptionLayer(opts.encryption),
		properties: make(map[string]int),
	}
}

// run is the event loop. Datagrams, timer expiries and caller operations are
// handled one at a time, each to completion.
func (s *session) run(ctx context.Context) {
	s.ctx = ctx
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case op := <-s.ops:
			op(s)

		case d := <-s.recvCh:
			s.handleDatagram(d)

		case <-s.handshakeTimer.C():
			s.handshakeTimer.fired()
			s.apply(evHandshakeTimeout, nil)

		case <-s.bindRetryTimer.C():
			s.bindRetryTimer.fired()
			s.apply(evBindRetryTimeout, nil)

		case <-s.pollTimer.C():
			s.pollTimer.fired()
			s.apply(evPollTick, nil)

		case <-s.pollResponseTimer.C():
			s.pollResponseTimer.fired()
			s.apply(evPollTimeout, nil)

		case <-s.commandTimer.C():
			s.commandTimer.fired()
			s.apply(evCommandTimeout, nil)
		}
	}
}

// shutdown releases everything when the client is closed.
func (s *session) shutdown() {
	if s.state.hasTransport() {
		s.apply(evDisconnect, nil)
	}
	s.resolveWaiters(ErrClientClosed)
	s.failCommands(ErrClientClosed)
	s.receivers.Wait()
	close(s.events)
}

func (s *session) setState(st State) {
	s.state = st
	s.stateVal.Store(int32(st))
}

// apply runs one FSM event and its actions.
func (s *session) apply(ev fsmEvent, msg *Message) fsmResult {
	res := applyEvent(s.state, ev)
	if !res.Matched {
		return res
	}

	if res.Changed {
		s.setState(res.NewState)
		s.logger.Info("session state changed",
			slog.String("old_state", res.OldState.String()),
			slog.String("new_state", res.NewState.String()),
			slog.String("event", ev.String()),
		)
	}

	for _, a := range res.Actions {
		s.execute(a, msg)
	}
	return res
}

func (s *session) execute(a fsmAction, msg *Message) {
	switch a {
	case acBeginCycle:
		s.reconnectAttempt = 0
		s.properties = make(map[string]int)
		s.firstScan = true
		s.cycleStart = time.Now()
		s.metrics.ConnectAttempts.Inc()

	case acResetCipher:
		s.enc.Reset()
		s.bindRetryTimer.stop()
		s.bindRetries = 0

	case acSendScan:
		err := s.send(scanRequest, MessageScan)
		if err == nil {
			s.metrics.ScansSent.Inc()
		} else if s.firstScan {
			s.resolveWaiters(err)
		}
		s.firstScan = false

	case acArmHandshakeTimer:
		s.handshakeTimer.arm(s.opts.connectTimeout)

	case acNotifyHandshakeTimeout:
		s.reconnectAttempt++
		s.metrics.HandshakeTimeouts.Inc()
		s.logger.Warn("handshake timed out, rescanning",
			slog.String("host", s.opts.host),
			slog.Int("attempt", s.reconnectAttempt),
		)
		s.emit(Event{Type: EventError, Err: ErrHandshakeTimeout})

	case acRecordDevice:
		s.device = deviceInfoFromMessage(msg)
		s.logger.Info("device found",
			slog.String("device_id", s.device.ID),
			slog.String("name", s.device.Name),
			slog.String("version", s.device.Version),
		)

	case acSendBind:
		s.sendBind()

	case acArmBindRetry:
		if s.bindRetries < maxBindRetries {
			s.bindRetries++
			s.bindRetryTimer.arm(s.opts.bindRetryTimeout)
		}

	case acCancelHandshakeTimers:
		s.handshakeTimer.stop()
		s.bindRetryTimer.stop()

	case acRequestStatus:
		if err := s.sendMessage(newStatusMessage(s.device.ID, statusColumns)); err == nil {
			s.metrics.StatusRequests.Inc()
			// An earlier unanswered request keeps its deadline, even when
			// the timeout is longer than the polling interval.
			if s.pollResponseTimer.C() == nil {
				s.pollResponseTimer.arm(s.opts.pollingTimeout)
			}
		}

	case acArmPoll:
		if s.opts.poll {
			s.pollTimer.arm(s.opts.pollingInterval)
		}

	case acNotifyConnected:
		s.metrics.ConnectSuccesses.Inc()
		s.metrics.HandshakeLatency.Record(time.Since(s.cycleStart))
		s.logger.Info("connected",
			slog.String("device_id", s.device.ID),
			slog.String("cipher", s.enc.Active().String()),
		)
		s.emit(Event{Type: EventConnected})
		s.resolveWaiters(nil)

	case acApplyStatus:
		s.applyStatus(msg)

	case acClearProperties:
		s.metrics.PollTimeouts.Inc()
		s.properties = make(map[string]int)

	case acNotifyNoResponse:
		s.logger.Debug("status request unanswered", slog.String("device_id", s.device.ID))
		s.emit(Event{Type: EventNoResponse})

	case acApplyCommandResult:
		s.applyCommandResult(msg)

	case acFailCommand:
		if s.inflight != nil {
			s.metrics.CommandTimeouts.Inc()
			s.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %v", ErrCommandTimeout, s.inflight.opt)})
			s.inflight = nil
		}

	case acDispatchCommand:
		s.dispatchNext()

	case acCancelAllTimers:
		s.handshakeTimer.stop()
		s.bindRetryTimer.stop()
		s.pollTimer.stop()
		s.pollResponseTimer.stop()
		s.commandTimer.stop()

	case acReleaseTransport:
		s.releaseTransport()

	case acNotifyDisconnected:
		s.metrics.Disconnects.Inc()
		s.logger.Info("disconnected", slog.String("device_id", s.device.ID))
		s.emit(Event{Type: EventDisconnected})
		s.resolveWaiters(ErrConnectCancelled)
		s.inflight = nil
		s.failCommands(ErrNotConnected)
	}
}

// connect starts a new connect cycle, or joins the running one.
func (s *session) connect(ctx context.Context, res chan error) {
	switch {
	case s.state == StateBound:
		notify(res, nil)
		return
	case s.state.hasTransport():
		s.addWaiter(res)
		return
	}

	tr, err := s.opts.transport(ctx, s.opts.localAddress)
	if err != nil {
		err = fmt.Errorf("open transport: %w", err)
		notify(res, err)
		if res == nil {
			s.emit(Event{Type: EventError, Err: err})
		}
		return
	}

	s.transport = tr
	s.gen++
	s.recvStop = make(chan struct{})
	s.receivers.Add(1)
	go s.receive(s.gen, tr, s.recvStop)

	s.addWaiter(res)
	s.apply(evConnect, nil)
}

// disconnect is the cancellation primitive.
func (s *session) disconnect() error {
	if s.transport == nil {
		return ErrNotConnected
	}
	s.apply(evDisconnect, nil)
	return nil
}

func (s *session) releaseTransport() {
	if s.transport == nil {
		return
	}
	close(s.recvStop)
	if err := s.transport.Close(); err != nil {
		s.logger.Debug("close transport", slog.String("error", err.Error()))
	}
	s.transport = nil
	s.gen++
}

// receive forwards datagrams of one connect cycle to the loop.
func (s *session) receive(gen uint64, tr Transport, stop <-chan struct{}) {
	defer s.receivers.Done()

	for {
		select {
		case <-stop:
			return
		default:
		}

		data, addr, err := tr.ReceiveWithTimeout(receivePollInterval)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if tr.IsClosed() {
				return
			}
			s.logger.Debug("receive error", slog.String("error", err.Error()))
			continue
		}

		s.metrics.DatagramsReceived.Inc()
		s.metrics.BytesReceived.Add(int64(len(data)))
		s.metrics.RecordActivity()

		select {
		case s.recvCh <- datagram{gen: gen, data: data, addr: addr}:
		case <-stop:
			return
		}
	}
}

func (s *session) handleDatagram(d datagram) {
	if d.gen != s.gen || s.transport == nil {
		return
	}

	env, err := decodeEnvelope(d.data)
	if err != nil {
		s.metrics.DecodeErrors.Inc()
		s.reportError(err)
		return
	}

	msg, err := s.enc.Decrypt(env.Pack, env.Tag)
	if err != nil {
		s.metrics.DecryptErrors.Inc()
		s.reportError(err)
		return
	}

	s.logger.Debug("message received",
		slog.String("msg_type", string(msg.T)),
		slog.String("from", d.addr.String()),
	)

	var ev fsmEvent
	switch msg.T {
	case MessageDev:
		ev = evDeviceFound
	case MessageBindOK:
		ev = evBindConfirmed
	case MessageDat:
		ev = evStatusReceived
	case MessageRes:
		ev = evCommandConfirmed
	}

	if ev != 0 && s.apply(ev, msg).Matched {
		return
	}
	if msg.T == MessageDev {
		s.logger.Debug("ignoring discovery reply", slog.String("state", s.state.String()))
		return
	}

	s.metrics.UnrecognizedMessages.Inc()
	s.reportError(&ProtocolError{Kind: ErrUnrecognizedMessage, MessageType: msg.T,
		Err: fmt.Errorf("in state %s", s.state)})
}

func (s *session) sendBind() {
	before := s.enc.Active()
	attempt := s.enc.BindAttempt()
	if err := s.sendMessage(newBindMessage(s.device.ID)); err != nil {
		return
	}
	s.metrics.BindRequests.Inc()
	if s.enc.Active() != before {
		s.metrics.CipherEscalations.Inc()
	}
	s.logger.Debug("bind request sent",
		slog.String("device_id", s.device.ID),
		slog.Int("bind_attempt", attempt),
		slog.String("cipher", s.enc.Active().String()),
	)
}

func (s *session) sendMessage(msg *Message) error {
	pack, tag, err := s.enc.Encrypt(msg)
	if err != nil {
		s.reportError(err)
		return err
	}
	data, err := encodeEnvelope(msg.T, pack, tag)
	if err != nil {
		s.reportError(err)
		return err
	}
	return s.send(data, msg.T)
}

// send submits one datagram. Failures are reported and returned; they never
// change the session state.
func (s *session) send(data []byte, t MessageType) error {
	if s.transport == nil {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.opts.connectTimeout)
	defer cancel()

	if err := s.transport.Send(ctx, data, s.opts.host, s.opts.port); err != nil {
		s.metrics.SendFailures.Inc()
		err = sendError(err)
		s.logger.Warn("send failed",
			slog.String("msg_type", string(t)),
			slog.String("error", err.Error()),
		)
		s.emit(Event{Type: EventError, Err: err})
		return err
	}

	s.metrics.DatagramsSent.Inc()
	s.metrics.BytesSent.Add(int64(len(data)))
	s.metrics.RecordActivity()
	s.logger.Debug("message sent", slog.String("msg_type", string(t)))
	return nil
}

// applyStatus merges a dat reply into the snapshot and reports changed keys.
func (s *session) applyStatus(msg *Message) {
	s.pollResponseTimer.stop()
	s.metrics.StatusResponses.Inc()

	changed := make(map[string]int)
	for i, col := range msg.Cols {
		if i >= len(msg.Dat) {
			break
		}
		v := msg.Dat[i]
		if old, ok := s.properties[col]; !ok || old != v {
			changed[col] = v
		}
		s.properties[col] = v
	}

	if len(changed) == 0 {
		return
	}
	s.emit(Event{
		Type:       EventUpdate,
		Changed:    FromWire(changed),
		Properties: FromWire(s.properties),
	})
}

// applyCommandResult zips a res reply into the snapshot. Firmware carries the
// values in either "val" or "p".
func (s *session) applyCommandResult(msg *Message) {
	values := msg.Val
	if values == nil {
		values = msg.P
	}

	updated := make(map[string]int, len(msg.Opt))
	for i, opt := range msg.Opt {
		if i >= len(values) {
			break
		}
		updated[opt] = values[i]
		s.properties[opt] = values[i]
	}

	if s.inflight != nil {
		s.commandTimer.stop()
		s.metrics.CommandsConfirmed.Inc()
		s.metrics.CommandLatency.Record(time.Since(s.inflight.sentAt))
		s.inflight = nil
	}

	s.emit(Event{
		Type:       EventSuccess,
		Changed:    FromWire(updated),
		Properties: FromWire(s.properties),
	})
}

// enqueue accepts a command while bound.
func (s *session) enqueue(cmd *command) {
	if s.state != StateBound {
		cmd.done <- ErrNotConnected
		return
	}
	s.queue = append(s.queue, cmd)
	s.metrics.QueuedCommands.Set(int64(len(s.queue)))
	s.dispatchNext()
}

// dispatchNext sends the next queued command unless one is outstanding.
func (s *session) dispatchNext() {
	for s.inflight == nil && len(s.queue) > 0 {
		cmd := s.queue[0]
		s.queue = s.queue[1:]
		s.metrics.QueuedCommands.Set(int64(len(s.queue)))

		if cmd.cancelled.Load() {
			continue
		}

		err := s.sendMessage(newCommandMessage(cmd.opt, cmd.p))
		cmd.done <- err
		if err != nil {
			continue
		}

		s.metrics.CommandsSent.Inc()
		cmd.sentAt = time.Now()
		s.inflight = cmd
		s.commandTimer.arm(s.opts.pollingTimeout)
	}
}

func (s *session) failCommands(err error) {
	for _, cmd := range s.queue {
		cmd.done <- err
	}
	s.queue = nil
	s.metrics.QueuedCommands.Set(0)
}

func (s *session) addWaiter(res chan error) {
	if res != nil {
		s.waiters = append(s.waiters, res)
	}
}

func (s *session) resolveWaiters(err error) {
	for _, w := range s.waiters {
		w <- err
	}
	s.waiters = nil
}

func (s *session) reportError(err error) {
	s.logger.Debug("message discarded", slog.String("error", err.Error()))
	s.emit(Event{Type: EventError, Err: err})
}

// emit delivers an event without blocking the loop.
func (s *session) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case s.events <- ev:
	default:
		s.metrics.EventsDropped.Inc()
		s.logger.Warn("event channel full, dropping event",
			slog.String("event", ev.Type.String()),
		)
	}
}

// snapshot returns the tracked properties in friendly form.
func (s *session) snapshot() Properties {
	return FromWire(s.properties)
}

func notify(res chan error, err error) {
	if res != nil {
		res <- err
	}
}
