// Package broadcast fans outbound events out to live subscribers. Each
// subscriber registers for a group key combining workflow, participant,
// and tenant; publishes are non-blocking, so a slow consumer loses
// events rather than stalling the feed.
package broadcast
