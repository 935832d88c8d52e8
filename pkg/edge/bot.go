// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package edge

import (
	"context"
	"net/http"
	"strings"
)

// StageBot is the bot heuristic stage name.
const StageBot = "bot"

// CodeBotBlocked is the audit code for a bot-heuristic block.
const CodeBotBlocked = "bot_blocked"

// allowedAgents are signatures of legitimate browsers and HTTP tools.
// A match passes the stage unconditionally, before the deny list runs.
var allowedAgents = []string{
	"mozilla",
	"chrome",
	"safari",
	"firefox",
	"edg",
	"opera",
	"curl",
	"wget",
	"postman",
	"insomnia",
}

// deniedAgents are signatures of crawlers and scripted clients.
var deniedAgents = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"scrapy",
	"python-requests",
	"go-http-client",
	"java/",
	"headless",
}

// BotFilter classifies requests by User-Agent. The allow list is
// consulted first so browsers whose UA happens to contain a denied
// substring still pass; everything else is matched against the deny
// list. An empty User-Agent skips straight to the deny path and is
// blocked.
type BotFilter struct{}

// NewBotFilter creates the bot heuristic stage.
func NewBotFilter() *BotFilter {
	return &BotFilter{}
}

func (f *BotFilter) Name() string { return StageBot }

func (f *BotFilter) Check(_ context.Context, req *Request) Decision {
	ua := strings.ToLower(strings.TrimSpace(req.UserAgent))

	if ua == "" {
		return Block(StageBot, http.StatusForbidden, CodeBotBlocked)
	}

	for _, sig := range allowedAgents {
		if strings.Contains(ua, sig) {
			return Allow(StageBot)
		}
	}
	for _, sig := range deniedAgents {
		if strings.Contains(ua, sig) {
			return Block(StageBot, http.StatusForbidden, CodeBotBlocked)
		}
	}

	// Unrecognized but not overtly scripted: let the counter stages
	// decide.
	return Allow(StageBot)
}
