// pkg/store/store.go

package store

import "github.com/redis/go-redis/v9"

// BytecodeStore is the hot-reload primitive spec §5 describes as a host
// concern: a place the current compiled program lives, plus a way to be
// told when a new one has been published. Adapted from the teacher's
// fact-store interface, which read/wrote many keyed values; a
// BytecodeStore holds exactly one — the current bytecode blob.
type BytecodeStore interface {
	// GetBytecode returns the currently published bytecode, or nil if none
	// has been published yet.
	GetBytecode() ([]byte, error)

	// PublishBytecode stores data as the current bytecode and notifies
	// subscribers on the reload channel.
	PublishBytecode(data []byte) error

	// Subscribe returns a Redis pub/sub handle listening on the reload
	// channel; a caller reads ReceiveReload() or the handle's own Channel().
	Subscribe() *redis.PubSub

	// ReceiveReload returns a channel of reload notifications: a caller
	// should call GetBytecode again on each message.
	ReceiveReload() <-chan *redis.Message
}
