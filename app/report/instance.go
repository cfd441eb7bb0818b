package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tateisu/mastodonInboxFilter/app/fetch"
)

type instanceInfo struct {
	Domain  string `json:"domain"`
	Contact struct {
		Account struct {
			Username string `json:"username"`
		} `json:"account"`
	} `json:"contact"`
	Configuration struct {
		Statuses struct {
			MaxCharacters            int `json:"max_characters"`
			CharactersReservedPerURL int `json:"characters_reserved_per_url"`
		} `json:"statuses"`
	} `json:"configuration"`
}

// getInstanceInfo fetches a server's instance API document through the
// shared cache, falling back from v2 to v1 when the server answers 404.
func getInstanceInfo(ctx context.Context, fetcher *fetch.Client, host string, decorate func(*http.Request)) (*instanceInfo, error) {
	hostFixed := host
	if !strings.HasPrefix(hostFixed, "https://") {
		hostFixed = "https://" + hostFixed
	}

	raw, err := fetcher.Get(ctx, hostFixed+"/api/v2/instance", 0, decorate)
	if err != nil && strings.Contains(err.Error(), "404") {
		raw, err = fetcher.Get(ctx, hostFixed+"/api/v1/instance", 0, decorate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance info of %s: %w", host, err)
	}

	var info instanceInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode instance info of %s: %w", host, err)
	}
	return &info, nil
}
