// Package bus implements the per-unit mailbox used by the robo runtime.
//
// A Bus combines a priority-ordered primary store with a FIFO secondary
// store. Messages that arrive while a consumer is parked in Take go to the
// primary store and are delivered in priority order. Messages that arrive
// while nobody is waiting are held in the secondary store and are handed to
// the next Take ahead of anything in the primary store.
//
// A Bus assumes exactly one logical consumer.
package bus
