package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hendrywilliam/herald/src/structs"
)

// GatewayAPI resolves the gateway address for a bot token.
// https://discord.com/developers/docs/events/gateway#get-gateway-bot
type GatewayAPI struct {
	rest RESTClient
}

func NewGatewayAPI(rest RESTClient) *GatewayAPI {
	return &GatewayAPI{
		rest: rest,
	}
}

func (g *GatewayAPI) GetGatewayBot(ctx context.Context) (*structs.GatewayBot, error) {
	gbURL, err := route(g.rest, "/gateway/bot")
	if err != nil {
		return nil, err
	}
	res, err := g.rest.Get(ctx, gbURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get gateway bot: %w", err)
	}
	if err := checkStatus(res); err != nil {
		return nil, fmt.Errorf("get gateway bot: %w", err)
	}
	bot := &structs.GatewayBot{}
	if err := json.Unmarshal(res.Body, bot); err != nil {
		return nil, fmt.Errorf("get gateway bot: %w", err)
	}
	return bot, nil
}
