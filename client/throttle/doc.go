// Package throttle rate-limits transfer submission using a token-bucket
// algorithm from [golang.org/x/time/rate].
//
// # Usage
//
//	lim, err := throttle.New(
//		10, // submissions per second
//		5,  // burst capacity
//		slog.Default(),
//	)
//	if err := lim.Wait(ctx, "GET /things"); err != nil {
//		return err
//	}
//
// When the limit is exceeded, Wait blocks until a token becomes
// available or ctx ends.
package throttle
