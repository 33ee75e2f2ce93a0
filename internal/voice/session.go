package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenspa/receptionist/internal/booking"
	"github.com/lumenspa/receptionist/internal/llm"
	"github.com/lumenspa/receptionist/internal/observability/metrics"
	"github.com/lumenspa/receptionist/internal/scoring"
	"github.com/lumenspa/receptionist/internal/store"
	"github.com/lumenspa/receptionist/internal/timeutil"
	"github.com/lumenspa/receptionist/internal/turn"
	"github.com/lumenspa/receptionist/pkg/logging"
)

// DefaultGraceWindow is how long the bridge keeps draining upstream
// transcripts after the caller hangs up.
const DefaultGraceWindow = 3 * time.Second

// backfillReplayLimit bounds how many recent customer utterances are
// replayed through selection capture before a voice booking.
const backfillReplayLimit = 10

// Config holds the realtime API connection settings.
type Config struct {
	RealtimeURL  string
	Model        string
	APIKey       string
	SpaName      string
	Greeting     string
	VADThreshold float64
	GraceWindow  time.Duration
}

// Bridge builds one session per incoming call.
type Bridge struct {
	cfg     Config
	store   store.Store
	booking *booking.Orchestrator
	scorer  *scoring.Scorer
	zone    *timeutil.Zone
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewBridge wires the voice bridge.
func NewBridge(cfg Config, st store.Store, bk *booking.Orchestrator, scorer *scoring.Scorer, zone *timeutil.Zone, logger *logging.Logger, m *metrics.Metrics) *Bridge {
	if cfg.GraceWindow <= 0 {
		cfg.GraceWindow = DefaultGraceWindow
	}
	return &Bridge{
		cfg:     cfg,
		store:   st,
		booking: bk,
		scorer:  scorer,
		zone:    zone,
		logger:  logger.Component("voice"),
		metrics: m,
	}
}

// Serve dials the realtime API and runs the call until either leg closes.
func (b *Bridge) Serve(ctx context.Context, client *websocket.Conn, conv *store.Conversation) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")
	url := b.cfg.RealtimeURL + "?model=" + b.cfg.Model

	upstream, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	return b.ServeWithUpstream(ctx, client, upstream, conv)
}

// ServeWithUpstream runs the call over an already-dialed upstream socket.
func (b *Bridge) ServeWithUpstream(ctx context.Context, client, upstream *websocket.Conn, conv *store.Conversation) error {
	if conv.Metadata == nil {
		conv.Metadata = map[string]any{}
	}
	s := &session{
		bridge:       b,
		client:       client,
		upstream:     upstream,
		conv:         conv,
		startedAt:    b.zone.Now(),
		items:        map[string]*pendingItem{},
		upstreamDone: make(chan struct{}),
	}
	return s.run(ctx)
}

// pendingItem accumulates one utterance delivered as deltas.
type pendingItem struct {
	speaker string
	buf     strings.Builder
}

type session struct {
	bridge   *Bridge
	client   *websocket.Conn
	upstream *websocket.Conn

	clientWriteMu   sync.Mutex
	upstreamWriteMu sync.Mutex

	conv      *store.Conversation
	startedAt time.Time

	mu              sync.Mutex
	segments        []store.TranscriptSegment
	lastFingerprint string
	items           map[string]*pendingItem
	itemOrder       []string
	capabilities    []string
	functionCalls   []store.FunctionCallRecord
	interruptions   int

	finalizeOnce sync.Once
	upstreamDone chan struct{}
}

func (s *session) run(ctx context.Context) error {
	b := s.bridge
	instructions := turn.SystemPrompt(store.ChannelVoice, b.cfg.SpaName, b.zone)
	if err := s.writeUpstream(sessionUpdate(instructions, realtimeDeclarations(), b.cfg.VADThreshold)); err != nil {
		s.finalize()
		return err
	}
	// Greet first; callers hang up on silence.
	greeting := ""
	if b.cfg.Greeting != "" {
		greeting = "Open the call with this exact greeting: " + b.cfg.Greeting
	}
	if err := s.writeUpstream(responseCreateWithInstructions(greeting)); err != nil {
		s.finalize()
		return err
	}

	go s.pumpUpstream(ctx)
	go func() {
		// A dead upstream ends the call; closing the caller leg unblocks
		// the client pump.
		<-s.upstreamDone
		_ = s.client.Close()
	}()
	s.pumpClient(ctx)

	// Let late transcripts land before the books close.
	select {
	case <-s.upstreamDone:
	case <-time.After(b.cfg.GraceWindow):
	case <-ctx.Done():
	}
	s.finalize()
	return nil
}

// pumpClient reads caller frames until hangup or socket error.
func (s *session) pumpClient(ctx context.Context) {
	for {
		frame := ClientFrame{}
		if err := s.client.ReadJSON(&frame); err != nil {
			s.bridge.logger.Debug("caller leg closed", "conversation_id", s.conv.ID, "error", err)
			return
		}
		switch frame.Type {
		case FrameAudio:
			if err := s.writeUpstream(inputAudioAppend(frame.Audio)); err != nil {
				return
			}
		case FrameCommit:
			if err := s.writeUpstream(inputAudioCommit()); err != nil {
				return
			}
		case FrameInterrupt:
			s.mu.Lock()
			s.interruptions++
			s.mu.Unlock()
			s.bridge.metrics.ObserveVoiceInterruption()
			if err := s.writeUpstream(responseCancel()); err != nil {
				return
			}
		case FramePing:
			if err := s.writeClient(ServerFrame{Type: FramePong}); err != nil {
				return
			}
		case FrameEndSession:
			return
		default:
			s.bridge.logger.Debug("unknown caller frame", "type", frame.Type)
		}
	}
}

// pumpUpstream reads realtime events until the upstream closes.
func (s *session) pumpUpstream(ctx context.Context) {
	defer close(s.upstreamDone)
	for {
		_, raw, err := s.upstream.ReadMessage()
		if err != nil {
			s.bridge.logger.Debug("upstream leg closed", "conversation_id", s.conv.ID, "error", err)
			return
		}
		ev := realtimeEvent{}
		if err := json.Unmarshal(raw, &ev); err != nil {
			s.bridge.logger.Warn("undecodable upstream event", "error", err)
			continue
		}
		s.handleUpstream(ctx, &ev)
	}
}

func (s *session) handleUpstream(ctx context.Context, ev *realtimeEvent) {
	switch ev.Type {
	case evtAudioDelta:
		_ = s.writeClient(ServerFrame{Type: FrameAudio, Audio: ev.Delta})
	case evtTranscriptDelta:
		s.bufferItemDelta(ev.ItemID, "assistant", ev.Delta)
	case evtTranscriptDone:
		s.flushItem(ev.ItemID, "assistant", ev.Transcript)
	case evtInputTranscriptionDelta:
		s.bufferItemDelta(ev.ItemID, "customer", ev.Delta)
	case evtInputTranscription:
		s.flushItem(ev.ItemID, "customer", ev.Transcript)
	case evtItemCreated:
		s.seedItem(ev.Item)
	case evtItemDelta:
		s.bufferItemDelta(ev.ItemID, "", ev.Delta)
	case evtItemCompleted:
		s.completeItem(ev)
	case evtSessionCreated, evtSessionUpdated:
		s.recordCapabilities(ev.Session)
	case evtFunctionCallDone:
		s.executeTool(ctx, ev)
	case evtSpeechStarted:
		s.bridge.logger.Debug("caller speech detected", "conversation_id", s.conv.ID)
	case evtError:
		s.logUpstreamError(ev.Error)
	case evtResponseDone, evtInputCommitted, evtConversationCreated:
		// Bookkeeping events with nothing to bridge.
	default:
		s.bridge.logger.Debug("ignored upstream event", "type", ev.Type)
	}
}

// recordCapabilities keeps the negotiated session shape for the logs.
func (s *session) recordCapabilities(sess *realtimeSession) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.capabilities = sess.Modalities
	s.mu.Unlock()
	s.bridge.logger.Debug("session capabilities",
		"conversation_id", s.conv.ID, "modalities", sess.Modalities, "voice", sess.Voice)
}

func (s *session) logUpstreamError(e *realtimeError) {
	if e == nil {
		s.bridge.logger.Warn("upstream error event without payload")
		return
	}
	if benignErrorCodes[e.Code] {
		s.bridge.logger.Info("benign upstream race", "code", e.Code, "message", e.Message)
		return
	}
	s.bridge.logger.Error("upstream error", "code", e.Code, "message", e.Message)
}

// executeTool runs one mid-call function call and returns its output.
func (s *session) executeTool(ctx context.Context, ev *realtimeEvent) {
	if ev.Name == booking.ToolBookAppointment {
		s.backfillSelection(ctx)
	}

	result := s.bridge.booking.ExecuteToolCall(ctx, s.conv, llm.ToolCall{
		ID:        ev.CallID,
		Name:      ev.Name,
		Arguments: ev.Arguments,
	})
	encoded, _ := json.Marshal(result)

	s.mu.Lock()
	s.functionCalls = append(s.functionCalls, store.FunctionCallRecord{
		Name:      ev.Name,
		Arguments: ev.Arguments,
		Result:    string(encoded),
		CalledAt:  s.bridge.zone.Now(),
	})
	s.mu.Unlock()

	if err := s.writeUpstream(functionCallOutput(ev.CallID, encoded)); err != nil {
		return
	}
	_ = s.writeUpstream(responseCreate())
}

// backfillSelection replays recent customer utterances through selection
// capture when a booking arrives before any pick was noticed. Voice
// transcripts trail the audio, so the pick may have landed after the
// model decided to book.
func (s *session) backfillSelection(ctx context.Context) {
	engine := s.bridge.booking.Engine()
	offer, ok := engine.PendingOffer(s.conv.Metadata)
	if !ok || offer.SelectedSlot != nil {
		return
	}

	s.mu.Lock()
	var recent []string
	for i := len(s.segments) - 1; i >= 0 && len(recent) < backfillReplayLimit; i-- {
		if s.segments[i].Speaker == "customer" {
			recent = append(recent, s.segments[i].Text)
		}
	}
	s.mu.Unlock()

	for _, text := range recent {
		if engine.CaptureSelection(s.conv.Metadata, timeutil.NewIDString(), text) {
			if err := s.bridge.store.UpdateConversationMetadata(ctx, s.conv.ID, s.conv.Metadata); err != nil {
				s.bridge.logger.Error("metadata persist failed", "conversation_id", s.conv.ID, "error", err)
			}
			return
		}
	}
}

// pendingLocked finds or creates the item buffer. Caller holds mu.
func (s *session) pendingLocked(itemID, speaker string) *pendingItem {
	p, ok := s.items[itemID]
	if !ok {
		p = &pendingItem{speaker: speaker}
		s.items[itemID] = p
		s.itemOrder = append(s.itemOrder, itemID)
	}
	if p.speaker == "" {
		p.speaker = speaker
	}
	return p
}

func (s *session) bufferItemDelta(itemID, speaker, delta string) {
	if delta == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingLocked(itemID, speaker).buf.WriteString(delta)
}

// seedItem registers a conversation item announced by the provider. Items
// arriving already completed commit immediately. Non-speech items are
// ignored.
func (s *session) seedItem(item *realtimeItem) {
	if item == nil {
		return
	}
	speaker := item.speaker()
	if speaker == "" {
		return
	}
	s.mu.Lock()
	p := s.pendingLocked(item.ID, speaker)
	if text := item.text(); text != "" && p.buf.Len() == 0 {
		p.buf.WriteString(text)
	}
	s.mu.Unlock()
	if item.Status == "completed" {
		s.flushItem(item.ID, speaker, "")
	}
}

func (s *session) completeItem(ev *realtimeEvent) {
	itemID := ev.ItemID
	speaker := ""
	transcript := ev.Transcript
	if ev.Item != nil {
		if itemID == "" {
			itemID = ev.Item.ID
		}
		speaker = ev.Item.speaker()
		if transcript == "" {
			transcript = ev.Item.text()
		}
	}
	s.flushItem(itemID, speaker, transcript)
}

// flushItem commits one utterance, preferring the event's full transcript
// over the accumulated deltas.
func (s *session) flushItem(itemID, speaker, transcript string) {
	s.mu.Lock()
	if p, ok := s.items[itemID]; ok {
		if transcript == "" {
			transcript = p.buf.String()
		}
		if speaker == "" {
			speaker = p.speaker
		}
		delete(s.items, itemID)
	}
	s.mu.Unlock()
	if speaker == "" {
		speaker = "assistant"
	}
	s.appendSegment(speaker, transcript)
}

// appendSegment records one utterance after sanitation and dedup. Only an
// immediate repeat of the last committed entry is dropped; the same words
// later in the call are real speech.
func (s *session) appendSegment(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	// Tool payloads occasionally echo back as transcripts; drop them.
	if strings.HasPrefix(text, "{") || strings.HasPrefix(text, "[") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fingerprint := speaker + ":" + text
	if fingerprint == s.lastFingerprint {
		return
	}
	s.lastFingerprint = fingerprint
	s.segments = append(s.segments, store.TranscriptSegment{
		Speaker:   speaker,
		Text:      text,
		Timestamp: s.bridge.zone.Now(),
	})
}

// finalize persists the call exactly once: transcript, details row,
// completion, and scoring.
func (s *session) finalize() {
	s.finalizeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		b := s.bridge

		_ = s.upstream.Close()
		_ = s.client.Close()

		s.mu.Lock()
		// Flush utterances that never saw a done event.
		for _, itemID := range s.itemOrder {
			p, ok := s.items[itemID]
			if !ok {
				continue
			}
			delete(s.items, itemID)
			text := strings.TrimSpace(p.buf.String())
			if text == "" {
				continue
			}
			speaker := p.speaker
			if speaker == "" {
				speaker = "assistant"
			}
			fingerprint := speaker + ":" + text
			if fingerprint == s.lastFingerprint {
				continue
			}
			s.lastFingerprint = fingerprint
			s.segments = append(s.segments, store.TranscriptSegment{
				Speaker: speaker, Text: text, Timestamp: b.zone.Now(),
			})
		}
		segments := make([]store.TranscriptSegment, len(s.segments))
		copy(segments, s.segments)
		calls := make([]store.FunctionCallRecord, len(s.functionCalls))
		copy(calls, s.functionCalls)
		interruptions := s.interruptions
		capabilities := s.capabilities
		s.mu.Unlock()

		duration := int(b.zone.Now().Sub(s.startedAt).Seconds())

		content := "Voice call (no speech captured)"
		for _, seg := range segments {
			if seg.Speaker == "customer" {
				opening := seg.Text
				if runes := []rune(opening); len(runes) > 100 {
					opening = string(runes[:100])
				}
				content = "Voice call starting with: " + opening + "..."
				break
			}
		}

		inbound := &store.Message{
			ConversationID: s.conv.ID,
			Direction:      store.DirectionInbound,
			Content:        content,
			SentAt:         s.startedAt,
		}
		if err := b.store.AppendMessage(ctx, inbound); err != nil {
			b.logger.Error("voice message persist failed", "conversation_id", s.conv.ID, "error", err)
		} else {
			details := &store.VoiceDetails{
				MessageID:          inbound.ID,
				DurationSeconds:    duration,
				TranscriptSegments: segments,
				FunctionCalls:      calls,
				InterruptionCount:  interruptions,
			}
			if err := b.store.CreateVoiceDetails(ctx, details); err != nil {
				b.logger.Error("voice details persist failed", "conversation_id", s.conv.ID, "error", err)
			}
		}

		if err := b.store.CompleteConversation(ctx, s.conv.ID, store.StatusCompleted, b.zone.Now()); err != nil {
			b.logger.Warn("voice completion skipped", "conversation_id", s.conv.ID, "error", err)
		} else if b.scorer != nil {
			b.scorer.Score(ctx, s.conv)
		}

		b.metrics.ObserveVoiceSession(float64(duration))
		b.metrics.ObserveConversationCompleted(store.ChannelVoice, store.StatusCompleted)
		b.logger.Info("voice call finalized",
			"conversation_id", s.conv.ID,
			"duration_seconds", duration,
			"segments", len(segments),
			"function_calls", len(calls),
			"interruptions", interruptions,
			"modalities", capabilities)
	})
}

func (s *session) writeUpstream(event map[string]any) error {
	s.upstreamWriteMu.Lock()
	defer s.upstreamWriteMu.Unlock()
	return s.upstream.WriteMessage(websocket.TextMessage, marshalEvent(event))
}

func (s *session) writeClient(frame ServerFrame) error {
	s.clientWriteMu.Lock()
	defer s.clientWriteMu.Unlock()
	return s.client.WriteJSON(frame)
}

// realtimeDeclarations converts the shared tool schemas.
func realtimeDeclarations() []map[string]any {
	tools := booking.Declarations()
	decls := make([]toolDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, toolDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return realtimeTools(decls)
}
