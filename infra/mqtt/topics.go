package mqtt

import (
	"fmt"

	"github.com/kilianp07/roamgate/core/station"
)

// CommandTopic is where commands for the station identified by key are
// published.
func CommandTopic(root string, key station.Key) string {
	return fmt.Sprintf("%s/%s/%s/%s/command", root, key.TenantID, key.StationID, key.Version)
}

// ReplyTopic matches the command replies of every station.
func ReplyTopic(root string) string { return root + "/+/+/+/reply" }

// StatusTopic matches the status notifications of every station.
func StatusTopic(root string) string { return root + "/+/+/status" }

// HeartbeatTopic matches the heartbeats of every station.
func HeartbeatTopic(root string) string { return root + "/+/+/heartbeat" }

// StationReplyTopic is where the station identified by key answers commands.
func StationReplyTopic(root string, key station.Key) string {
	return fmt.Sprintf("%s/%s/%s/%s/reply", root, key.TenantID, key.StationID, key.Version)
}

// StationStatusTopic is where a station publishes status notifications.
func StationStatusTopic(root, tenantID, stationID string) string {
	return fmt.Sprintf("%s/%s/%s/status", root, tenantID, stationID)
}

// StationHeartbeatTopic is where a station publishes heartbeats.
func StationHeartbeatTopic(root, tenantID, stationID string) string {
	return fmt.Sprintf("%s/%s/%s/heartbeat", root, tenantID, stationID)
}
