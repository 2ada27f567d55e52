package signal

type DescriptionKind int

const (
	DescriptionOffer DescriptionKind = iota
	DescriptionAnswer
)

// Handlers receive transport events. Implementations must not invoke them
// from inside a Peer method call.
type Handlers struct {
	Candidate     func(data string)
	ChannelOpen   func(inbound bool)
	ChannelClosed func(inbound bool)
	Message       func(data []byte)
	Disconnected  func()
}

// Transport creates peer connections. Each peer opens one outbound data
// channel at construction and reports the inbound one through Handlers.
type Transport interface {
	NewPeer(h Handlers) (Peer, error)
}

type Peer interface {
	// CreateOffer creates an offer and installs it as the local description.
	CreateOffer() (string, error)
	// CreateAnswer creates an answer and installs it as the local description.
	CreateAnswer() (string, error)
	SetRemoteDescription(kind DescriptionKind, sdp string) error
	AddCandidate(data string) error
	Send(data []byte) error
	Close() error
}
