// Package monitor surfaces the live active-session count: a Reporter prints it on a fixed
// interval and a Hub pushes every report to WebSocket subscribers.
package monitor
