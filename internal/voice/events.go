// Package voice bridges a caller's websocket to the realtime speech API and
// runs booking tools mid-call.
package voice

import "encoding/json"

// Client frame types on the caller leg.
const (
	FrameAudio      = "audio"
	FrameCommit     = "commit"
	FrameInterrupt  = "interrupt"
	FrameEndSession = "end_session"
	FramePing       = "ping"
	FramePong       = "pong"
)

// ClientFrame is one JSON message from the caller leg.
type ClientFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"` // base64 PCM16
}

// ServerFrame is one JSON message to the caller leg.
type ServerFrame struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

// Upstream event types we react to. Everything else is ignored.
const (
	evtAudioDelta              = "response.audio.delta"
	evtTranscriptDelta         = "response.audio_transcript.delta"
	evtTranscriptDone          = "response.audio_transcript.done"
	evtInputTranscriptionDelta = "conversation.item.input_audio_transcription.delta"
	evtInputTranscription      = "conversation.item.input_audio_transcription.completed"
	evtItemCreated             = "conversation.item.created"
	evtItemDelta               = "conversation.item.delta"
	evtItemCompleted           = "conversation.item.completed"
	evtFunctionCallDone        = "response.function_call_arguments.done"
	evtSpeechStarted           = "input_audio_buffer.speech_started"
	evtError                   = "error"
	evtResponseDone            = "response.done"
	evtSessionCreated          = "session.created"
	evtSessionUpdated          = "session.updated"
	evtInputCommitted          = "input_audio_buffer.committed"
	evtConversationCreated     = "conversation.created"
)

// realtimeEvent is the superset decode of upstream events.
type realtimeEvent struct {
	Type       string           `json:"type"`
	ItemID     string           `json:"item_id"`
	Delta      string           `json:"delta"`
	Transcript string           `json:"transcript"`
	Name       string           `json:"name"`
	CallID     string           `json:"call_id"`
	Arguments  string           `json:"arguments"`
	Item       *realtimeItem    `json:"item"`
	Session    *realtimeSession `json:"session"`
	Error      *realtimeError   `json:"error"`
}

// realtimeItem carries conversation items for providers that deliver
// transcripts through the item-event vocabulary.
type realtimeItem struct {
	ID      string            `json:"id"`
	Role    string            `json:"role"`
	Status  string            `json:"status"`
	Content []realtimeContent `json:"content"`
}

type realtimeContent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`
}

// text returns the first transcript or text payload in the item.
func (i *realtimeItem) text() string {
	for _, c := range i.Content {
		if c.Transcript != "" {
			return c.Transcript
		}
		if c.Text != "" {
			return c.Text
		}
	}
	return ""
}

// speaker maps the provider role onto the transcript speaker labels.
// Non-speech items (function calls, system notes) map to empty.
func (i *realtimeItem) speaker() string {
	switch i.Role {
	case "user":
		return "customer"
	case "assistant":
		return "assistant"
	}
	return ""
}

// realtimeSession is the capability echo in session.created/updated.
type realtimeSession struct {
	Modalities []string `json:"modalities"`
	Voice      string   `json:"voice"`
}

type realtimeError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// benignErrorCodes are upstream races inherent to barge-in and commit
// timing. They are logged at info and never fail the call.
var benignErrorCodes = map[string]bool{
	"response_cancel_not_active":               true,
	"input_audio_buffer_commit_empty":          true,
	"conversation_already_has_active_response": true,
}

// sessionUpdate configures the realtime session before the greeting.
func sessionUpdate(instructions string, tools []map[string]any, vadThreshold float64) map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        instructions,
			"voice":               "alloy",
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           vadThreshold,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 600,
				"create_response":     true,
			},
			"tools":       tools,
			"tool_choice": "auto",
		},
	}
}

// responseCreate asks the model to speak; used for the greeting and after
// every tool result.
func responseCreate() map[string]any {
	return map[string]any{"type": "response.create"}
}

func responseCreateWithInstructions(instructions string) map[string]any {
	if instructions == "" {
		return responseCreate()
	}
	return map[string]any{
		"type":     "response.create",
		"response": map[string]any{"instructions": instructions},
	}
}

func responseCancel() map[string]any {
	return map[string]any{"type": "response.cancel"}
}

func inputAudioAppend(audio string) map[string]any {
	return map[string]any{"type": "input_audio_buffer.append", "audio": audio}
}

func inputAudioCommit() map[string]any {
	return map[string]any{"type": "input_audio_buffer.commit"}
}

// functionCallOutput returns a tool result to the conversation.
func functionCallOutput(callID string, output []byte) map[string]any {
	return map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  string(output),
		},
	}
}

// realtimeTools renders the shared tool declarations in the realtime
// function schema, which inlines parameters instead of nesting them.
func realtimeTools(declarations []toolDeclaration) []map[string]any {
	out := make([]map[string]any, 0, len(declarations))
	for _, d := range declarations {
		out = append(out, map[string]any{
			"type":        "function",
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		})
	}
	return out
}

type toolDeclaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

func marshalEvent(event map[string]any) []byte {
	encoded, _ := json.Marshal(event)
	return encoded
}
