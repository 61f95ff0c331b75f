// Package coordinator runs the polling loop of one detector.
//
// A Coordinator owns a session.Session and a single worker goroutine. The worker reads real-time
// data on a fast cadence and the spectrum on a slow one, executes queued commands ahead of both
// and reconnects a Degraded session on the retry tick. Consumers read the latest Snapshot, which
// keeps the last good readings and sets Stale when polling fails, and may Subscribe to
// StatusEvents.
//
//	c, _ := coordinator.New(sess, coordinator.WithFastInterval(2*time.Second))
//	go c.Run(ctx)
//	err := c.ResetDose(ctx)
package coordinator
