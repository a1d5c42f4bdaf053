package realtime

import (
	"errors"
	"strings"
)

// TopicKind distinguishes the two channel families the gateway serves.
type TopicKind string

const (
	TopicMessages TopicKind = "messages"
	TopicPresence TopicKind = "presence"
)

// ErrInvalidTopic is returned by ParseTopic for names outside the known families.
var ErrInvalidTopic = errors.New("realtime: invalid topic")

// MessagesTopic names the change channel for one chat channel of a workspace.
func MessagesTopic(workspaceID, channelID string) string {
	return string(TopicMessages) + ":" + workspaceID + ":" + channelID
}

// PresenceTopic names the presence channel of a workspace.
func PresenceTopic(workspaceID string) string {
	return string(TopicPresence) + ":" + workspaceID
}

// ParseTopic splits a topic into its kind, workspace and (for message topics) channel.
func ParseTopic(topic string) (kind TopicKind, workspaceID, channelID string, err error) {
	parts := strings.Split(topic, ":")
	switch {
	case len(parts) == 3 && parts[0] == string(TopicMessages) && parts[1] != "" && parts[2] != "":
		return TopicMessages, parts[1], parts[2], nil
	case len(parts) == 2 && parts[0] == string(TopicPresence) && parts[1] != "":
		return TopicPresence, parts[1], "", nil
	default:
		return "", "", "", ErrInvalidTopic
	}
}
