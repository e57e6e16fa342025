// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP HTTPServer `yaml:"http"`

	Database    Database    `yaml:"database"`
	ValKey      ValKey      `yaml:"valkey"`
	Migrate     Migrate     `yaml:"migrate"`
	Backend     Backend     `yaml:"backend"`
	Google      Google      `yaml:"google"`
	TwoFactor   TwoFactor   `yaml:"twoFactor"`
	Sessions    Sessions    `yaml:"sessions"`
	Housekeeper Housekeeper `yaml:"housekeeper"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

type Database struct {
	Name     string              `yaml:"name"`
	Port     string              `yaml:"port"`
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"scms"`
}

// Migrate overrides where migrations are read from. Empty means the
// migrations embedded in the binary.
type Migrate struct {
	Source string `yaml:"source"`
}

// Backend points at the remote SCMS API that owns all account state. The
// gateway never persists users itself; it only calls these endpoints.
type Backend struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
}

// Google configures the identity-provider adapter. A school entry in the
// identity-provider registry overrides ClientID when present.
type Google struct {
	School        string              `yaml:"school" default:"default"`
	ClientID      commoncfg.SourceRef `yaml:"clientID"`
	IssuerURL     string              `yaml:"issuerURL" default:"https://accounts.google.com"`
	StateSecret   commoncfg.SourceRef `yaml:"stateSecret"`
	SignInTimeout time.Duration       `yaml:"signInTimeout" default:"60s"`
	PopupTimeout  time.Duration       `yaml:"popupTimeout" default:"5m"`
}

type TwoFactor struct {
	ReissueWindow time.Duration `yaml:"reissueWindow" default:"30s"`
	ChallengeTTL  time.Duration `yaml:"challengeTTL" default:"3m"`
	MaxAttempts   int           `yaml:"maxAttempts" default:"5"`
	// FailOpenStatusCheck preserves the historical behaviour of letting a
	// login proceed without a second factor when the status check itself
	// fails. Disabling it turns such failures into login failures.
	FailOpenStatusCheck bool `yaml:"failOpenStatusCheck" default:"true"`
}

type Sessions struct {
	Duration    time.Duration `yaml:"duration" default:"12h"`
	IdleTimeout time.Duration `yaml:"idleTimeout" default:"2h"`
}

type Housekeeper struct {
	TriggerInterval  time.Duration `yaml:"triggerInterval" default:"5m"`
	ConcurrencyLimit int           `yaml:"concurrencyLimit" default:"4"`
}
