// Package bridge carries token validation over redis pub/sub so services
// without a network route to the authority can still check tokens.
package bridge

import "github.com/everstory/authcore/auth/structs"

const (
	// RequestChannel is the shared channel the authority listens on.
	RequestChannel = "auth:validate_token"

	// replyChannelPrefix namespaces the per-request private reply channels.
	replyChannelPrefix = "auth:response:"
)

// Request asks the authority to validate a token and publish the verdict on
// the private response channel.
type Request struct {
	Token           string `json:"token"`
	ResponseChannel string `json:"response_channel"`
}

// Reply is the authority's verdict. User is set only when Valid is true.
type Reply struct {
	Valid bool              `json:"valid"`
	User  *structs.Identity `json:"user,omitempty"`
}
