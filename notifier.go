package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// Notifier notifies the result of each run.
type Notifier interface {
	Notify(context.Context, *Report) error
}

// SlackNotifier is a notifier for Slack.
type SlackNotifier struct {
	Channel   string
	IconEmoji string
	Username  string
	Token     string

	// HTTPClient is used to call the Slack API, http.DefaultClient when nil.
	HTTPClient *http.Client
}

type slackMessage struct {
	Channel   string `json:"channel"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func slackText(r *Report) string {
	if r.Status == StatusSucceeded {
		rows := uint64(0)
		table := ""
		if r.Load != nil {
			rows = r.Load.Rows
			table = r.Load.Table
		}
		return fmt.Sprintf("pipeline run %s for %s loaded %d rows into %s", r.RunID, r.LogicalDate, rows, table)
	}

	return fmt.Sprintf("pipeline run %s for %s failed at %s: %s", r.RunID, r.LogicalDate, r.FailedStage, r.Error)
}

// Notify notifies run results to Slack channel.
func (n *SlackNotifier) Notify(ctx context.Context, r *Report) error {
	l := log.Ctx(ctx)

	m := &slackMessage{
		Channel:   n.Channel,
		IconEmoji: n.IconEmoji,
		Text:      slackText(r),
		Username:  n.Username,
	}
	l.Debug().Msgf("m = %+v", m)

	if err := n.postMessage(ctx, m); err != nil {
		return xerrors.Errorf("slack postMessage failed: %w", err)
	}

	return nil
}

func (n *SlackNotifier) postMessage(ctx context.Context, m *slackMessage) error {
	l := log.Ctx(ctx)

	reqJSON, err := json.Marshal(m)
	if err != nil {
		return xerrors.Errorf("failed to marshal json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(reqJSON))
	if err != nil {
		return xerrors.Errorf("failed to build http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	c := n.HTTPClient
	if c == nil {
		c = http.DefaultClient
	}

	resp, err := c.Do(req)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return xerrors.Errorf("failed to read response body: %w", err)
	}

	l.Debug().Msgf("body = %s", body)

	if resp.StatusCode >= 400 {
		return xerrors.Errorf(
			"slack request failed with status code %d (%s)", resp.StatusCode, body)
	}

	var sres slackResponse
	if err := json.Unmarshal(body, &sres); err != nil {
		return xerrors.Errorf("failed to unmarshal response body: %w", err)
	}

	if !sres.OK {
		return xerrors.Errorf("failed to send message: %s", sres.Error)
	}

	return nil
}
