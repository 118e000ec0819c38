package action

// Kind 动作类型
type Kind string

const (
	ReceiveFromClient Kind = "receive_from_client"
	ReplyToClient     Kind = "reply_to_client"
	ServerStart       Kind = "SERVER_START"
)

// Direction separates actions the environment drives into the node (input)
// from actions the node emits (output).
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

// Action is one instrumentation record. Write-once; nothing in the core reads it back.
type Action struct {
	Kind    Kind
	Local   uint64
	Remote  uint64
	Payload string
}

// Body is the JSON object carried for every action.
type Body struct {
	Type    Kind   `json:"type"`
	Message string `json:"message"`
}

// Envelope pairs the body with its routing metadata for out-of-band sinks.
type Envelope struct {
	ActionType Direction `json:"action_type"`
	Source     uint64    `json:"source"`
	Dest       uint64    `json:"dest"`
	Payload    Body      `json:"payload"`
}

func Start(local uint64) Action {
	return Action{Kind: ServerStart, Local: local, Remote: local}
}

func Receive(local, remote uint64, payload string) Action {
	return Action{Kind: ReceiveFromClient, Local: local, Remote: remote, Payload: payload}
}

func Reply(local, remote uint64, payload string) Action {
	return Action{Kind: ReplyToClient, Local: local, Remote: remote, Payload: payload}
}

func (a Action) Direction() Direction {
	if a.Kind == ReplyToClient {
		return Output
	}
	return Input
}

func (a Action) Body() Body { return Body{Type: a.Kind, Message: a.Payload} }

func (a Action) Envelope() Envelope {
	return Envelope{
		ActionType: a.Direction(),
		Source:     a.Local,
		Dest:       a.Remote,
		Payload:    a.Body(),
	}
}

// Action converts an envelope read back from a sink transport.
func (e Envelope) Action() Action {
	return Action{Kind: e.Payload.Type, Local: e.Source, Remote: e.Dest, Payload: e.Payload.Message}
}
