// Package notifier delivers short operator messages (stale schedule alerts,
// run failures) through a Sender.
//
// Messages are queued, deduplicated inside a time window, rate limited and
// retried with backoff by a small supervised worker pool. Two senders ship
// with the package: Telegram (telebot) and a log sink used when no bot
// token is configured.
//
// # History
//
// The service keeps a small in-memory history of delivered messages for the
// status endpoint.
package notifier
