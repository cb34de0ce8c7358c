// Package signaling carries offer/answer/candidate and presence messages
// between the two participants of a call.
//
// Every frame is one JSON envelope:
//
//	{"type":"offer","payload":"<json string>","username":"alice","target":"bob"}
//
// The payload is itself JSON encoded as a string: an RTCSessionDescription
// for offer/answer, an RTCIceCandidateInit for candidate, empty for
// join/leave. Client is the websocket transport to the relay.
package signaling
