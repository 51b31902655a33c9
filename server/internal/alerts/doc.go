// Package alerts classifies metric values against warning/critical thresholds
// and delivers webhook notifications for entities that start or stop alerting.
//
// Evaluate is stateless: every tick replaces an entity's alert list, so a value
// oscillating around a threshold flaps between alerting and clear. Dispatcher
// adds the notification side (Teams, Slack, PagerDuty or generic HTTP) with a
// per-entity cooldown; it never feeds back into Evaluate.
package alerts
