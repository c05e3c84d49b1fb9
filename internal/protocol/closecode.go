package protocol

// CloseCode values are the numeric WebSocket close codes defined by
// spec.md §6: transport-level codes below 3000, SaltyRTC application codes
// from 3000 up.
const (
	CloseNormal               = 1000
	CloseGoingAway            = 1001
	CloseProtocolError        = 1002
	CloseInternalError        = 1011
	ClosePathFull             = 3000
	CloseSaltyProtocolError   = 3001
	CloseSaltyInternalError   = 3002
	CloseHandoverOccurred     = 3003
	CloseDroppedByInitiator   = 3004
	CloseInitiatorCouldNotDecrypt = 3005
	CloseNoSharedSubprotocol  = 3006
	CloseKeepAliveTimeout     = 3007
)
