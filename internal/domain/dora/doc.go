// Package dora computes the four DORA delivery metrics (lead time for
// changes, deployment frequency, change failure rate and mean time to
// restore) over a rolling window of canonical events.
//
// Each metric is computed independently. A metric without usable input
// reports model.StatusInsufficient and a failure inside one metric is
// recorded on that metric only.
package dora
