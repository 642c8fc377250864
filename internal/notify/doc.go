// Package notify delivers plain-text email on behalf of domain handlers.
//
// Domain code depends on the Sender interface only. The SMTP sender
// throttles outbound mail with a token bucket so a burst of password
// resets cannot flood the relay; the Log sender stands in when no relay is
// configured.
package notify
