// Package dedupe makes turn requests idempotent with a time-bounded claim cache.
//
// A client that retries a chat request with the same message id within the
// TTL receives the stream of the first request instead of starting a second
// turn. The cache is bounded; the oldest claim is evicted when it is full.
//
//	claims := dedupe.New[*session.Session](10*time.Minute, 10000)
//	defer claims.Close()
//	if first, dup := claims.Claim(messageID, nil); dup && first != nil {
//		// re-attach to first
//	}
//	// ... start the turn, then
//	claims.Set(messageID, sess)
package dedupe
