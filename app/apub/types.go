package apub

// Status is the normalized view of an ActivityPub Create/Note activity,
// carrying only the fields the spam heuristics need. It is constructed per
// inbound request and discarded after classification.
type Status struct {
	// Host is the apparent server of the posting account, taken from the
	// actor URL. Not verified against WebFinger.
	Host string

	// UserName is the account name segment of the actor URL.
	UserName string

	// Content is the HTML body of the Note.
	Content string

	// URL is the canonical status URL (object.url, falling back to
	// object.id for implementations that omit a display URL).
	URL string

	// InReplyTo is empty when the Note is not a reply.
	InReplyTo string

	Mentions    []Mention
	Attachments []Attachment
}

// Mention is a tagged reference to another account inside the Note.
type Mention struct {
	Name string
	Href string
}

// Attachment is a media object referenced by the Note.
type Attachment struct {
	MediaType string
	RemoteUrl string
}
