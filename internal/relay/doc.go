// Package relay implements the room-scoped connection registry and
// broadcast engine for the chat server.
//
// A Relay keeps, per room, the shared password hash, the set of active
// usernames and the ordered list of live connections. TryJoin is the
// password gate used before a channel is opened, Register and Deregister
// admit and remove connections, and Broadcast fans an Envelope out to every
// member of a room, pruning connections whose delivery fails.
//
// All state lives in memory in a single process. Operations on one room are
// serialized by that room's lock; different rooms do not block each other.
package relay
