// Package notify posts completed set summaries to webhooks.
//
// Notifier.Observe inspects every report and queues the ones that close a set.
// Notifier.Run delivers queued notices to each configured target (Slack,
// Microsoft Teams, or a plain HTTP JSON endpoint). Delivery errors are logged
// and never reach the frame pipeline.
package notify
