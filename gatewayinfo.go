/************************************************************************************
 *
 * shardwire, a Go client for Discord's Gateway and Voice real-time services
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 shardwire authors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package shardwire

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
)

// discordAPIBaseURL is Discord's REST base, used only for the single
// /gateway/bot call this module is allowed to make.
const discordAPIBaseURL = "https://discord.com/api/v10"

// GatewayInfoProvider is the narrow REST collaborator for learning the
// recommended shard count and identify concurrency budget; its result is
// what a caller uses to fill in a Config and ShardRange. Cluster and Shard
// never call it themselves. This module deliberately does not carry a
// general REST client: production callers that already have one should
// adapt it to this one-method shape instead of pulling in a second HTTP
// stack.
type GatewayInfoProvider interface {
	FetchGatewayBot(ctx context.Context) (GatewayBot, error)
}

// httpGatewayInfoProvider is the default GatewayInfoProvider, a thin
// net/http client authenticated with the bot token.
type httpGatewayInfoProvider struct {
	token  string
	client *http.Client
}

var _ GatewayInfoProvider = (*httpGatewayInfoProvider)(nil)

// NewHTTPGatewayInfoProvider returns a GatewayInfoProvider backed by
// net/http. A nil client defaults to http.DefaultClient.
func NewHTTPGatewayInfoProvider(token string, client *http.Client) GatewayInfoProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpGatewayInfoProvider{token: token, client: client}
}

func (p *httpGatewayInfoProvider) FetchGatewayBot(ctx context.Context) (GatewayBot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discordAPIBaseURL+"/gateway/bot", nil)
	if err != nil {
		return GatewayBot{}, newTransportError(err)
	}
	req.Header.Set("Authorization", "Bot "+p.token)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return GatewayBot{}, newTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return GatewayBot{}, newTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return GatewayBot{}, newTransportError(fmt.Errorf("gateway/bot: unexpected status %d: %s", resp.StatusCode, body))
	}

	var bot GatewayBot
	if err := sonic.Unmarshal(body, &bot); err != nil {
		return GatewayBot{}, newDecodeError(err)
	}
	return bot, nil
}
