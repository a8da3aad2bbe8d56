package types

import "github.com/pion/webrtc/v4"

// Protocol is the websocket subprotocol both ends must agree on
const Protocol = "4"

// Close codes sent by the relay
const (
	CloseNoSuchSlot   = 4000
	CloseSlotTimedOut = 4001
	CloseNoMoreSlots  = 4002
	CloseWrongProto   = 4003
	ClosePeerHungUp   = 4004

	// CloseGoingAway is the standard websocket "going away" code. Some browsers send it while
	// a download starts, after the direct transport is already up
	CloseGoingAway = 1001
)

// InitMessage is the first message the relay sends to both sides of a slot
type InitMessage struct {
	Slot       string             `json:"slot"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}
