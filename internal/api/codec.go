package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/victornm/songquiz/internal/domain"
	"github.com/victornm/songquiz/internal/errors"
	"github.com/victornm/songquiz/internal/game"
)

// Notification is the frame format in both directions: {"event": ..., "data": ...}.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func Encode(out game.Outbound) ([]byte, error) {
	b, err := json.Marshal(Notification{
		Event: out.EventName(),
		Data:  out,
	})
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %s: %w", out.EventName(), err)
	}
	return b, nil
}

// Decode parses a client frame into a command for connID. Payloads that the
// original clients sent as bare strings are accepted alongside objects.
func Decode(connID string, raw []byte) (game.Inbound, error) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return game.Inbound{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed frame"),
			errors.WithCause(err),
		)
	}

	cmd, err := decodeCommand(f)
	if err != nil {
		return game.Inbound{}, err
	}

	return game.Inbound{ConnID: connID, Command: cmd}, nil
}

func decodeCommand(f inboundFrame) (game.Command, error) {
	switch f.Event {
	case "join_game":
		var p struct {
			Role       string `json:"role"`
			PlayerName string `json:"playerName"`
		}
		if err := stringOr(f.Data, &p.Role, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		return game.JoinGame{Role: domain.Role(strings.ToLower(strings.TrimSpace(p.Role))), PlayerName: p.PlayerName}, nil

	case "play_song":
		var p struct {
			MediaRef           string `json:"mediaRef"`
			Title              string `json:"title"`
			StartOffsetSeconds *int   `json:"startOffsetSeconds"`
			EndOffsetSeconds   *int   `json:"endOffsetSeconds"`

			// field names of the first web client
			VideoID   string `json:"videoId"`
			SongTitle string `json:"songTitle"`
			StartTime *int   `json:"startTime"`
			EndTime   *int   `json:"endTime"`
		}
		if err := object(f.Data, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		cmd := game.AssignTrack{
			MediaRef:           firstNonEmpty(p.MediaRef, p.VideoID),
			Title:              firstNonEmpty(p.Title, p.SongTitle),
			StartOffsetSeconds: p.StartOffsetSeconds,
			EndOffsetSeconds:   p.EndOffsetSeconds,
		}
		if cmd.StartOffsetSeconds == nil {
			cmd.StartOffsetSeconds = p.StartTime
		}
		if cmd.EndOffsetSeconds == nil {
			cmd.EndOffsetSeconds = p.EndTime
		}
		return cmd, nil

	case "control_player":
		var p struct {
			Action string `json:"action"`
		}
		if err := stringOr(f.Data, &p.Action, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		return game.Playback{Action: domain.PlaybackAction(p.Action)}, nil

	case "reveal_answer":
		if isString(f.Data) {
			var title string
			if err := json.Unmarshal(f.Data, &title); err != nil {
				return nil, invalidPayload(f.Event, err)
			}
			return game.Reveal{TitleOverride: &title}, nil
		}
		var p struct {
			Title *string `json:"title"`
		}
		if err := object(f.Data, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		return game.Reveal{TitleOverride: p.Title}, nil

	case "next_round":
		return game.AdvanceRound{}, nil

	case "submit_answer":
		var p struct {
			Text string `json:"text"`
		}
		if err := stringOr(f.Data, &p.Text, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		return game.SubmitAnswer{Text: p.Text}, nil

	case "answer_correct", "answer_wrong":
		var p struct {
			PlayerID string `json:"playerId"`
		}
		if err := object(f.Data, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		if p.PlayerID == "" {
			return nil, errors.Validation("%s: playerId is required", f.Event)
		}
		if f.Event == "answer_correct" {
			return game.MarkCorrect{PlayerID: p.PlayerID}, nil
		}
		return game.MarkWrong{PlayerID: p.PlayerID}, nil

	case "set_total_rounds":
		var p struct {
			TotalRounds json.RawMessage `json:"totalRounds"`
		}
		if err := object(f.Data, &p); err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		n, err := parseInt(p.TotalRounds)
		if err != nil {
			return nil, invalidPayload(f.Event, err)
		}
		return game.SetTotalRounds{TotalRounds: n}, nil

	case "reset_game":
		return game.ResetGame{}, nil

	case "":
		return nil, errors.Validation("event is required")
	}

	return nil, errors.Validation("unknown event: %s", f.Event)
}

func invalidPayload(event string, err error) error {
	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("%s: invalid payload", event),
		errors.WithCause(err),
	)
}

// stringOr decodes a bare JSON string into s, anything else into obj.
func stringOr(data json.RawMessage, s *string, obj any) error {
	if isString(data) {
		return json.Unmarshal(data, s)
	}
	return object(data, obj)
}

func object(data json.RawMessage, obj any) error {
	if isNull(data) {
		return nil
	}
	return json.Unmarshal(data, obj)
}

func isNull(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

func isString(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) > 0 && d[0] == '"'
}

// parseInt accepts a JSON number or a numeric string, like parseInt on the web client:
// leading digits count, the rest is ignored, and fractions truncate toward zero.
func parseInt(data json.RawMessage) (int, error) {
	if isNull(data) {
		return 0, fmt.Errorf("missing number")
	}

	if isString(data) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return 0, err
		}
		return leadingInt(s)
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("number out of range: %v", f)
	}
	return int(math.Trunc(f)), nil
}

func leadingInt(s string) (int, error) {
	s = strings.TrimSpace(s)

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, fmt.Errorf("not a number: %q", s)
	}

	n, err := strconv.ParseInt(s[:end], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("number out of range: %q", s)
	}
	return int(n), nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
