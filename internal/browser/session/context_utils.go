package session

import "context"

// CombineContext returns a context carrying the values and cancellation of
// tabCtx that is additionally cancelled when opCtx is done. chromedp finds
// its target through context values, so operations must run on a context
// derived from the tab while still honoring the caller's deadline.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(tabCtx)
	if opCtx.Done() == nil {
		return combined, cancel
	}
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// Detach returns a context with the values of ctx that is not cancelled with
// it. Page teardown runs on a detached context so a cancelled run still closes
// its browser.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
