// Package mwapi talks to the MediaWiki action API of each language edition.
// It only implements identity-revert detection: whether a revision restored
// an earlier page state (reverting) and whether a later revision restored a
// state from before it (reverted).
package mwapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civilservant/gratsample/internal/apiclient"
	"github.com/tidwall/gjson"
)

const DefaultEndpoint = "https://{lang}.wikipedia.org/w/api.php"

// APIError is an error payload returned by the API itself.
type APIError struct {
	Code string
	Info string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mwapi: %s: %s", e.Code, e.Info)
}

// Reverts is the revert status of one revision.
type Reverts struct {
	Reverting bool
	Reverted  bool
}

// Client queries the API; endpoint contains a {lang} placeholder.
type Client struct {
	http     *apiclient.Client
	endpoint string
}

func New(http *apiclient.Client, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{http: http, endpoint: endpoint}
}

type revision struct {
	ID        int64
	Timestamp time.Time
	SHA1      string
}

// Check inspects up to radius revisions on each side of revID. Later
// revisions are only considered within window of revID.
func (c *Client) Check(ctx context.Context, lang string, revID int64, radius int, window time.Duration) (Reverts, error) {
	cur, pageID, err := c.revision(ctx, lang, revID)
	if err != nil {
		return Reverts{}, err
	}
	past, err := c.neighbours(ctx, lang, pageID, revID, radius, "older", time.Time{})
	if err != nil {
		return Reverts{}, err
	}
	future, err := c.neighbours(ctx, lang, pageID, revID, radius, "newer", cur.Timestamp.Add(window))
	if err != nil {
		return Reverts{}, err
	}
	return detect(cur, past, future), nil
}

// detect applies identity-revert rules. past is ordered newest first and
// future oldest first, neither includes cur.
func detect(cur revision, past, future []revision) Reverts {
	var r Reverts
	// past[0] is the parent; matching it is a null edit, not a revert
	for i, p := range past {
		if i > 0 && p.SHA1 != "" && p.SHA1 == cur.SHA1 {
			r.Reverting = true
			break
		}
	}
	before := make(map[string]bool, len(past))
	for _, p := range past {
		if p.SHA1 != "" && p.SHA1 != cur.SHA1 {
			before[p.SHA1] = true
		}
	}
	for _, f := range future {
		if f.SHA1 == cur.SHA1 {
			// restored to this revision; anything later is not about it
			break
		}
		if before[f.SHA1] {
			r.Reverted = true
			break
		}
	}
	return r
}

func (c *Client) revision(ctx context.Context, lang string, revID int64) (revision, int64, error) {
	res, err := c.query(ctx, lang, url.Values{
		"revids": {strconv.FormatInt(revID, 10)},
		"rvprop": {"ids|timestamp|sha1"},
	})
	if err != nil {
		return revision{}, 0, err
	}
	if res.Get("query.badrevids").Exists() {
		return revision{}, 0, &APIError{Code: "badrevids", Info: fmt.Sprintf("revision %d not found", revID)}
	}
	page := res.Get("query.pages.0")
	revs := parseRevisions(page.Get("revisions"))
	if len(revs) == 0 {
		return revision{}, 0, &APIError{Code: "norevisions", Info: fmt.Sprintf("revision %d has no content", revID)}
	}
	return revs[0], page.Get("pageid").Int(), nil
}

func (c *Client) neighbours(ctx context.Context, lang string, pageID, revID int64, radius int, dir string, end time.Time) ([]revision, error) {
	params := url.Values{
		"pageids":   {strconv.FormatInt(pageID, 10)},
		"rvstartid": {strconv.FormatInt(revID, 10)},
		"rvdir":     {dir},
		"rvlimit":   {strconv.Itoa(radius + 1)},
		"rvprop":    {"ids|timestamp|sha1"},
	}
	if !end.IsZero() {
		params.Set("rvend", end.UTC().Format(time.RFC3339))
	}
	res, err := c.query(ctx, lang, params)
	if err != nil {
		return nil, err
	}
	revs := parseRevisions(res.Get("query.pages.0.revisions"))
	out := revs[:0]
	for _, r := range revs {
		if r.ID != revID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Client) query(ctx context.Context, lang string, params url.Values) (gjson.Result, error) {
	params.Set("action", "query")
	params.Set("prop", "revisions")
	params.Set("format", "json")
	params.Set("formatversion", "2")
	body, err := c.http.Get(ctx, strings.ReplaceAll(c.endpoint, "{lang}", lang), params)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &APIError{Code: "badjson", Info: "response is not JSON"}
	}
	res := gjson.ParseBytes(body)
	if e := res.Get("error"); e.Exists() {
		return gjson.Result{}, &APIError{Code: e.Get("code").String(), Info: e.Get("info").String()}
	}
	return res, nil
}

func parseRevisions(arr gjson.Result) []revision {
	var out []revision
	arr.ForEach(func(_, v gjson.Result) bool {
		ts, _ := time.Parse(time.RFC3339, v.Get("timestamp").String())
		out = append(out, revision{
			ID:        v.Get("revid").Int(),
			Timestamp: ts,
			SHA1:      v.Get("sha1").String(),
		})
		return true
	})
	return out
}
