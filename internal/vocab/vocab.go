// Package vocab holds the IRIs used for games, moves, invitations and
// signaling envelopes.
package vocab

const (
	Chess   = "http://purl.org/NET/rdfchess/ontology/"
	Schema  = "http://schema.org/"
	RDF     = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	LDP     = "http://www.w3.org/ns/ldp#"
	FOAF    = "http://xmlns.com/foaf/0.1/"
	Storage = "http://example.org/storage/"
	Game    = "http://example.org/game/"
	Example = "http://example.org/"
)

const (
	Type = RDF + "type"

	ChessGame         = Chess + "ChessGame"
	HalfMove          = Chess + "HalfMove"
	HasHalfMove       = Chess + "hasHalfMove"
	HasSANRecord      = Chess + "hasSANRecord"
	NextHalfMove      = Chess + "nextHalfMove"
	HasFirstHalfMove  = Chess + "hasFirstHalfMove"
	HasLastHalfMove   = Chess + "hasLastHalfMove"
	ProvidesAgentRole = Chess + "providesAgentRole"
	WhitePlayerRole   = Chess + "WhitePlayerRole"
	BlackPlayerRole   = Chess + "BlackPlayerRole"
	PerformedBy       = Chess + "performedBy"
	StartPosition     = Chess + "startPosition"

	InviteAction    = Schema + "InviteAction"
	RsvpAction      = Schema + "RsvpAction"
	GiveUpAction    = Schema + "GiveUpAction"
	Event           = Schema + "event"
	Agent           = Schema + "agent"
	Recipient       = Schema + "recipient"
	Result          = Schema + "result"
	Object          = Schema + "object"
	RsvpResponse    = Schema + "rsvpResponse"
	RsvpResponseYes = Schema + "RsvpResponseYes"
	RsvpResponseNo  = Schema + "RsvpResponseNo"
	Name            = Schema + "name"
	SubEvent        = Schema + "subEvent"
	Contributor     = Schema + "contributor"

	StoreIn    = Storage + "storeIn"
	IsRealTime = Game + "isRealTime"

	Inbox    = LDP + "inbox"
	Resource = LDP + "Resource"
	Contains = LDP + "contains"

	FoafName       = FOAF + "name"
	FoafGivenName  = FOAF + "givenName"
	FoafFamilyName = FOAF + "familyName"

	WebRTCOffer  = Example + "WebRTCOffer"
	WebRTCAnswer = Example + "WebRTCAnswer"
	ICECandidate = Example + "ICECandidate"
	Description  = Example + "description"
)
