package apub

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Actor URLs of Mastodon (/users/name) and of implementations using
// /user/name or /@name. Trailing slash optional.
//
//	https://mastodon.social/users/tateisu
//	https://misskey.io/users/9iwbo5u8ow
//	https://fediverse.blog/@/mukkizignu/
var reActor = regexp.MustCompile(`^https://([^/]+)/(?:users?|@)/([^/]+)/?$`)

type rawActivity struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Actor  json.RawMessage `json:"actor"`
	Object json.RawMessage `json:"object"`
}

type rawObject struct {
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content"`
	URL        json.RawMessage `json:"url"`
	ID         json.RawMessage `json:"id"`
	InReplyTo  json.RawMessage `json:"inReplyTo"`
	Tag        json.RawMessage `json:"tag"`
	Attachment json.RawMessage `json:"attachment"`
}

type rawTag struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Href string `json:"href"`
}

type rawAttachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

// Parse converts a raw ActivityPub message into a Status.
//
// Messages that are not a Create of a Note, or whose actor URL has an
// unrecognized shape, yield (nil, nil): they are not ours to judge and the
// proxy forwards them without analysis. Once the message is confirmed to be
// a Note, missing required fields are an error.
func Parse(raw []byte, label string) (*Status, error) {
	var root rawActivity
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to decode activity: %w", err)
	}
	if root.Type != "Create" {
		slog.Debug("Not a Create activity", "label", label, "type", root.Type, "id", root.ID)
		return nil, nil
	}

	if len(root.Object) == 0 {
		return nil, fmt.Errorf("missing object. id=%s", root.ID)
	}
	var obj rawObject
	if err := json.Unmarshal(root.Object, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode object: %w", err)
	}
	if obj.Type != "Note" {
		slog.Debug("Object is not a Note", "label", label, "type", obj.Type)
		return nil, nil
	}

	actor := asString(root.Actor)
	if actor == "" {
		return nil, fmt.Errorf("missing actor. id=%s", root.ID)
	}
	m := reActor.FindStringSubmatch(actor)
	if m == nil {
		slog.Info("Actor URL shape not recognized", "label", label, "actor", actor)
		return nil, nil
	}

	if len(obj.Content) == 0 {
		return nil, fmt.Errorf("missing content. id=%s", root.ID)
	}
	content := asString(obj.Content)

	url := asString(obj.URL)
	if url == "" {
		// Some implementations carry no separate display URL.
		// https://misskey.io/notes/9q05g8osu733039l
		url = asString(obj.ID)
	}
	if url == "" {
		return nil, fmt.Errorf("missing status url. id=%s", root.ID)
	}

	return &Status{
		Host:        m[1],
		UserName:    m[2],
		Content:     content,
		URL:         url,
		InReplyTo:   asString(obj.InReplyTo),
		Mentions:    parseMentions(obj.Tag),
		Attachments: parseAttachments(obj.Attachment),
	}, nil
}

// parseMentions keeps tag entries of type Mention with non-blank href and
// name. Entries failing either check are dropped, as is a tag value that is
// not an array at all.
func parseMentions(raw json.RawMessage) []Mention {
	var tags []rawTag
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil
	}
	var mentions []Mention
	for _, t := range tags {
		if t.Type != "Mention" || isBlank(t.Href) || isBlank(t.Name) {
			continue
		}
		mentions = append(mentions, Mention{Name: t.Name, Href: t.Href})
	}
	return mentions
}

func parseAttachments(raw json.RawMessage) []Attachment {
	var list []rawAttachment
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	var attachments []Attachment
	for _, a := range list {
		if a.Type != "Document" || isBlank(a.MediaType) || isBlank(a.URL) {
			continue
		}
		attachments = append(attachments, Attachment{MediaType: a.MediaType, RemoteUrl: a.URL})
	}
	return attachments
}

// asString decodes a JSON value expected to be a string, yielding "" for
// absent values and for shapes other implementations use in its place.
func asString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
