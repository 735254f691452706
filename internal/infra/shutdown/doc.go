// Package shutdown runs cleanup hooks when the process is asked to stop.
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return ctrl.Close() })
//	err := h.WaitContext(ctx) // SIGINT, SIGTERM or ctx cancellation
package shutdown
