package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

type PushConfig struct {
	// Icon of every notification.
	Icon string
	// Badge of every notification.
	Badge string
	// Tag of notifications whose payload has none.
	DefaultTag string
	// Task detail pages live below this path.
	TaskDetailPath string
}

func (p PushConfig) withDefaults() PushConfig {
	if p.Icon == "" {
		p.Icon = "/icons/icon-192x192.png"
	}
	if p.Badge == "" {
		p.Badge = "/icons/badge-72x72.png"
	}
	if p.DefaultTag == "" {
		p.DefaultTag = "task-notification"
	}
	if p.TaskDetailPath == "" {
		p.TaskDetailPath = "/tasks/"
	}
	return p
}

// Action is a button on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is what gets shown for a push message.
type Notification struct {
	Title   string                 `json:"title"`
	Body    string                 `json:"body"`
	Icon    string                 `json:"icon,omitempty"`
	Badge   string                 `json:"badge,omitempty"`
	Tag     string                 `json:"tag"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Actions []Action               `json:"actions,omitempty"`
}

// NotificationClick is a click on a notification or one of its actions.
type NotificationClick struct {
	Action       string       `json:"action"`
	Notification Notification `json:"notification"`
}

// Notifier shows and closes notifications.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, tag string) error
}

// WindowOpener opens an application window at the given URL.
type WindowOpener interface {
	OpenWindow(ctx context.Context, url string) error
}

type pushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Tag   string                 `json:"tag"`
	Data  map[string]interface{} `json:"data"`
}

var notificationActions = []Action{
	{Action: "view", Title: "View task"},
	{Action: "dismiss", Title: "Dismiss"},
}

// HandlePush shows a notification for the push message.
// Payloads that are not a JSON object are dropped without an error.
func (c *Controller) HandlePush(ctx context.Context, payload []byte) error {
	var p pushPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.log.Debug().Err(err).Msg("Dropping malformed push payload")
		c.metrics.RecordNotification("dropped")
		return nil
	}
	tag := p.Tag
	if tag == "" {
		tag = c.push.DefaultTag
	}
	n := Notification{
		Title:   p.Title,
		Body:    p.Body,
		Icon:    c.push.Icon,
		Badge:   c.push.Badge,
		Tag:     tag,
		Data:    p.Data,
		Actions: append([]Action(nil), notificationActions...),
	}
	if err := c.notifier.ShowNotification(ctx, n); err != nil {
		c.metrics.RecordNotification("error")
		return fmt.Errorf("show notification: %w", err)
	}
	c.metrics.RecordNotification("shown")
	return nil
}

// HandleNotificationClick closes the notification and, for the view action,
// opens the task it is about. It returns the opened URL, if any.
func (c *Controller) HandleNotificationClick(ctx context.Context, click NotificationClick) (string, error) {
	if err := c.notifier.CloseNotification(ctx, click.Notification.Tag); err != nil {
		c.log.Warn().Err(err).Str("tag", click.Notification.Tag).Msg("Could not close notification")
	}
	if click.Action != "view" {
		return "", nil
	}
	target := "/"
	if taskID := taskIDOf(click.Notification.Data); taskID != "" {
		target = c.push.TaskDetailPath + url.PathEscape(taskID)
	} else {
		c.log.Debug().Msg("Notification has no task, opening application")
	}
	if err := c.opener.OpenWindow(ctx, target); err != nil {
		return "", fmt.Errorf("open window: %w", err)
	}
	return target, nil
}

// taskIDOf returns the task id in the notification data.
// The id may be a JSON string or number.
func taskIDOf(data map[string]interface{}) string {
	switch id := data["taskId"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case json.Number:
		return id.String()
	}
	return ""
}

// LogNotifier logs notifications instead of showing them.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) ShowNotification(ctx context.Context, notification Notification) error {
	n.Log.Info().
		Str("title", notification.Title).
		Str("body", notification.Body).
		Str("tag", notification.Tag).
		Msg("Showing notification")
	return nil
}

func (n LogNotifier) CloseNotification(ctx context.Context, tag string) error {
	n.Log.Debug().Str("tag", tag).Msg("Closing notification")
	return nil
}

// LogOpener logs window requests instead of opening windows.
type LogOpener struct {
	Log zerolog.Logger
}

func (o LogOpener) OpenWindow(ctx context.Context, url string) error {
	o.Log.Info().Str("url", url).Msg("Opening window")
	return nil
}
