// Package identitymap provides the per-backend entity cache used by the
// persistent apubsub engines.
//
// Engines keep channels and subscriptions loaded by primary key in a Map so
// that cascading operations do not reload the same rows. The cache is local
// to one backend instance: it is never consulted by "does it already exist"
// checks, and engines drop entries on deletion (Remove), after mass updates
// (Remove with the materialized key set) and on channel deletion or
// FlushCaches (Flush).
//
//	subs := identitymap.New[int64, apubsub.SubscriptionData](1024)
//	subs.Put(sub.ID, sub)
//	if cached, ok := subs.Get(id); ok {
//	    ...
//	}
package identitymap
