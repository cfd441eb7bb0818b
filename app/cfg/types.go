package cfg

// Cfg is the resolved process-wide configuration. It is read-only after
// Load; derived lookup sets are computed once so concurrent readers never
// synchronize.
type Cfg struct {
	ListenHost string
	ListenPort int
	PidFile    string

	// Base URL of the real Mastodon /inbox the proxy relays to.
	RedirectUrl string

	RecordDir   string
	CacheDir    string
	AuditDbPath string

	RequestTimeoutMs int64
	UserAgent        string

	// Upper bound for an inbound request body read into memory.
	BodyLimit int64

	MentionMin        int
	UserNameLengthMin int
	UserNameLengthMax int

	BadText        []string
	BadImageDigest []string

	SkipImageDigest []string
	SkipAcct        []string
	SkipDomain      []string

	SkipInReplyTo bool

	AutoReport *AutoReport

	// Derived lookup sets.
	SkipDomainSet      map[string]struct{}
	SkipAcctSet        map[string]struct{}
	BadImageDigestSet  map[string]struct{}
	SkipImageDigestSet map[string]struct{}
}

// AutoReport configures the offline batch job that scans spam logs and
// notifies remote server admins. Consumed only by the report package.
type AutoReport struct {
	ApiHost     string
	AccessToken string
	UserAgent   string
	Visibility  string

	RequestTimeoutMs int64

	AutoReportDir string

	LogFilePrimary              string
	LogFileSecondaryFolder      string
	LogFileSecondaryNamePattern string

	SkipHost    []string
	SkipHostSet map[string]struct{}
}
