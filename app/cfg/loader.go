package cfg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rawCfg mirrors the YAML config file. Optional booleans use pointers so a
// missing key is distinguishable from an explicit false.
type rawCfg struct {
	ListenHost string `yaml:"listenHost"`
	ListenPort int    `yaml:"listenPort"`
	PidFile    string `yaml:"pidFile"`

	RedirectUrl string `yaml:"redirectUrl"`

	RecordDir   string `yaml:"recordDir"`
	CacheDir    string `yaml:"cacheDir"`
	AuditDbPath string `yaml:"auditDbPath"`

	RequestTimeoutMs int64  `yaml:"requestTimeoutMs"`
	UserAgent        string `yaml:"userAgent"`
	BodyLimit        int64  `yaml:"bodyLimit"`

	MentionMin        int `yaml:"mentionMin"`
	UserNameLengthMin int `yaml:"userNameLengthMin"`
	UserNameLengthMax int `yaml:"userNameLengthMax"`

	BadText        []string `yaml:"badText"`
	BadImageDigest []string `yaml:"badImageDigest"`

	SkipImageDigest []string `yaml:"skipImageDigest"`
	SkipAcct        []string `yaml:"skipAcct"`
	SkipDomain      []string `yaml:"skipDomain"`

	SkipInReplyTo *bool `yaml:"skipInReplyTo"`

	AutoReport *rawAutoReport `yaml:"autoReport"`
}

type rawAutoReport struct {
	ApiHost     string `yaml:"apiHost"`
	AccessToken string `yaml:"accessToken"`
	UserAgent   string `yaml:"userAgent"`
	Visibility  string `yaml:"visibility"`

	RequestTimeoutMs int64 `yaml:"requestTimeoutMs"`

	AutoReportDir string `yaml:"autoReportDir"`

	LogFilePrimary              string `yaml:"logFilePrimary"`
	LogFileSecondaryFolder      string `yaml:"logFileSecondaryFolder"`
	LogFileSecondaryNamePattern string `yaml:"logFileSecondaryNamePattern"`

	SkipHost []string `yaml:"skipHost"`
}

// Load reads and validates the YAML configuration file.
func Load(path string) (*Cfg, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw rawCfg
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	setDefaults(&raw)

	cfg := &Cfg{
		ListenHost:        raw.ListenHost,
		ListenPort:        raw.ListenPort,
		PidFile:           raw.PidFile,
		RedirectUrl:       raw.RedirectUrl,
		RecordDir:         raw.RecordDir,
		CacheDir:          raw.CacheDir,
		AuditDbPath:       raw.AuditDbPath,
		RequestTimeoutMs:  raw.RequestTimeoutMs,
		UserAgent:         raw.UserAgent,
		BodyLimit:         raw.BodyLimit,
		MentionMin:        raw.MentionMin,
		UserNameLengthMin: raw.UserNameLengthMin,
		UserNameLengthMax: raw.UserNameLengthMax,
		BadText:           raw.BadText,
		BadImageDigest:    raw.BadImageDigest,
		SkipImageDigest:   raw.SkipImageDigest,
		SkipAcct:          raw.SkipAcct,
		SkipDomain:        raw.SkipDomain,
		SkipInReplyTo:     *raw.SkipInReplyTo,

		SkipDomainSet:      toSet(raw.SkipDomain),
		SkipAcctSet:        toSet(raw.SkipAcct),
		BadImageDigestSet:  toSet(raw.BadImageDigest),
		SkipImageDigestSet: toSet(raw.SkipImageDigest),
	}

	if raw.AutoReport != nil {
		cfg.AutoReport = &AutoReport{
			ApiHost:                     raw.AutoReport.ApiHost,
			AccessToken:                 raw.AutoReport.AccessToken,
			UserAgent:                   raw.AutoReport.UserAgent,
			Visibility:                  raw.AutoReport.Visibility,
			RequestTimeoutMs:            raw.AutoReport.RequestTimeoutMs,
			AutoReportDir:               raw.AutoReport.AutoReportDir,
			LogFilePrimary:              raw.AutoReport.LogFilePrimary,
			LogFileSecondaryFolder:      raw.AutoReport.LogFileSecondaryFolder,
			LogFileSecondaryNamePattern: raw.AutoReport.LogFileSecondaryNamePattern,
			SkipHost:                    raw.AutoReport.SkipHost,
			SkipHostSet:                 toSet(raw.AutoReport.SkipHost),
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

func setDefaults(raw *rawCfg) {
	if raw.ListenHost == "" {
		raw.ListenHost = "0.0.0.0"
	}
	if raw.ListenPort == 0 {
		raw.ListenPort = 8901
	}
	if raw.PidFile == "" {
		raw.PidFile = "mastodonInboxFilter.pid"
	}
	if raw.RecordDir == "" {
		raw.RecordDir = "record"
	}
	if raw.CacheDir == "" {
		raw.CacheDir = "cache"
	}
	if raw.AuditDbPath == "" {
		raw.AuditDbPath = "audit.db"
	}
	if raw.RequestTimeoutMs == 0 {
		raw.RequestTimeoutMs = 30000
	}
	if raw.BodyLimit == 0 {
		raw.BodyLimit = 8 << 20
	}
	if raw.SkipInReplyTo == nil {
		t := true
		raw.SkipInReplyTo = &t
	}
	if raw.AutoReport != nil {
		ar := raw.AutoReport
		if ar.Visibility == "" {
			ar.Visibility = "direct"
		}
		if ar.RequestTimeoutMs == 0 {
			ar.RequestTimeoutMs = raw.RequestTimeoutMs
		}
		if ar.UserAgent == "" {
			ar.UserAgent = raw.UserAgent
		}
		if ar.AutoReportDir == "" {
			ar.AutoReportDir = "autoReport"
		}
	}
}

func validate(c *Cfg) error {
	if c.RedirectUrl == "" {
		return fmt.Errorf("redirectUrl is required")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("userAgent is required")
	}
	if c.MentionMin < 0 {
		return fmt.Errorf("mentionMin must not be negative")
	}
	if c.UserNameLengthMax < c.UserNameLengthMin {
		return fmt.Errorf("userNameLengthMax must not be less than userNameLengthMin")
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
