package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hendrywilliam/herald/src/structs"
)

// Messages API.
// Source: https://discord.com/developers/docs/resources/message
type MessageAPI struct {
	rest RESTClient
}

func NewMessageAPI(rest RESTClient) *MessageAPI {
	return &MessageAPI{
		rest: rest,
	}
}

type CreateMessageData struct {
	Content          string `json:"content"`
	Tts              bool   `json:"tts"`
	Nonce            any    `json:"nonce,omitempty"` // Use nonce to verify a message was sent.
	Embeds           any    `json:"embeds,omitempty"`
	AllowedMentions  any    `json:"allowed_mentions,omitempty"`
	MessageReference any    `json:"message_reference,omitempty"`
}

func (m *MessageAPI) CreateMessage(ctx context.Context, channelID string, data CreateMessageData) (*structs.Message, error) {
	if channelID == "" {
		return nil, fmt.Errorf("create message: empty channel id")
	}
	cmURL, err := route(m.rest, fmt.Sprintf("/channels/%s/messages", channelID))
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	res, err := m.rest.Post(ctx, cmURL, body, nil)
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := checkStatus(res); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	msg := &structs.Message{}
	if err := json.Unmarshal(res.Body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
