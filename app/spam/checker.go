package spam

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tateisu/mastodonInboxFilter/app/apub"
	"github.com/tateisu/mastodonInboxFilter/app/cfg"
	"github.com/tateisu/mastodonInboxFilter/app/fetch"
)

// The ActivityPub message carries no attachment size, so reads are capped.
const imageBytesMax = 1_000_000

// Checker decides whether a status is spam. All failures along the way
// degrade to "not spam" or to skipping a single signal; classification
// itself never fails.
type Checker struct {
	cfg     *cfg.Cfg
	fetcher *fetch.Client
}

func NewChecker(cfg *cfg.Cfg, fetcher *fetch.Client) *Checker {
	return &Checker{cfg: cfg, fetcher: fetcher}
}

// IsSpam runs the filter pipeline. The leading predicates are exclusions:
// any match ends classification as not-spam. The heuristics target a
// specific pattern, a multi-mention blast with at most one image.
func (ch *Checker) IsSpam(ctx context.Context, status *apub.Status) bool {
	c := ch.cfg

	if c.SkipInReplyTo && status.InReplyTo != "" {
		return false
	}
	if len(status.Mentions) < c.MentionMin {
		return false
	}
	if len(status.Attachments) > 1 {
		return false
	}
	if len(status.UserName) < c.UserNameLengthMin || len(status.UserName) > c.UserNameLengthMax {
		return false
	}
	if _, ok := c.SkipDomainSet[status.Host]; ok {
		return false
	}

	// TODO resolve the acct through the AP actor document instead of
	// composing it from the URL. Skip lists are written against this
	// approximation, so changing it changes their meaning.
	acct := status.UserName + "@" + status.Host

	if _, ok := c.SkipAcctSet[acct]; ok {
		return false
	}

	text := NormalizeContent(status.Content)

	var matched []string
	for _, keyword := range c.BadText {
		if strings.Contains(text, keyword) {
			matched = append(matched, keyword)
		}
	}
	if len(matched) > 0 {
		logStatus("NG", fmt.Sprintf("<word: %s>", strings.Join(matched, ", ")), status, text)
		return true
	}

	var bad, unknown []string
	for _, digest := range ch.imageDigests(ctx, acct, status.Attachments) {
		if _, ok := c.SkipImageDigestSet[digest]; ok {
			continue
		}
		if _, ok := c.BadImageDigestSet[digest]; ok {
			bad = append(bad, digest)
		} else {
			unknown = append(unknown, digest)
		}
	}
	if len(bad) > 0 {
		logStatus("NG", bad[0], status, text)
		return true
	}
	if len(unknown) > 0 {
		logStatus("??", unknown[0], status, text)
	}

	return false
}

// imageDigests fetches each image attachment through the cache and returns
// the base64 SHA-256 digests of the bodies. Oversized and failed fetches
// contribute nothing.
func (ch *Checker) imageDigests(ctx context.Context, acct string, attachments []apub.Attachment) []string {
	var digests []string
	for _, a := range attachments {
		if !strings.HasPrefix(a.MediaType, "image/") {
			continue
		}
		body, err := ch.fetcher.Get(ctx, a.RemoteUrl, imageBytesMax, nil)
		if err != nil {
			if strings.Contains(err.Error(), "403 Forbidden") {
				slog.Info("Attachment fetch failed, possibly already removed upstream",
					"acct", acct, "url", a.RemoteUrl, "error", err.Error())
			} else {
				slog.Info("Attachment fetch failed",
					"acct", acct, "url", a.RemoteUrl, "error", err.Error())
			}
			continue
		}
		sum := sha256.Sum256(body)
		digests = append(digests, base64.StdEncoding.EncodeToString(sum[:]))
	}
	return digests
}

// logStatus writes the classifier verdict as a single log record. The
// auto-report job scans these lines, so msg and the url attribute are load
// bearing.
func logStatus(verdict, sign string, status *apub.Status, text string) {
	slog.Info(verdict, "sign", sign, "url", status.URL, "text", text)
}
