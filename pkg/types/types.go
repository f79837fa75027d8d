// Package types provides core types and configurations for wisp
package types

import (
	"fmt"
	"time"
)

// StepName identifies one unit of build work
type StepName string

const (
	StepClean     StepName = "clean"
	StepTemplates StepName = "render-templates"
	StepScripts   StepName = "render-scripts"
	StepStyles    StepName = "render-stylesheets"
	StepImages    StepName = "optimize-images"
	StepPublish   StepName = "publish"
)

// BuildSequence is the fixed order of the full build.
// Clean always comes first and publish always comes last.
var BuildSequence = []StepName{
	StepClean,
	StepTemplates,
	StepScripts,
	StepStyles,
	StepImages,
	StepPublish,
}

// ParseStepName validates a step name given on the command line or in config
func ParseStepName(s string) (StepName, error) {
	for _, name := range BuildSequence {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown step: %s", s)
}

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// StepStatus represents the current state of a step
type StepStatus string

const (
	StepStatusIdle      StepStatus = "idle"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// BuildPaths are destinations inside the build root
type BuildPaths struct {
	HTML       string `json:"html" yaml:"html"`
	JS         string `json:"js" yaml:"js"`
	JSMainFile string `json:"jsMainFile" yaml:"jsMainFile"`
	CSS        string `json:"css" yaml:"css"`
	Img        string `json:"img" yaml:"img"`
}

// SourcePaths select the inputs of each step
type SourcePaths struct {
	Templates []string `json:"templates" yaml:"templates"`
	JSVendor  string   `json:"jsVendor" yaml:"jsVendor"`
	JSCustom  string   `json:"jsCustom" yaml:"jsCustom"`
	Style     string   `json:"style" yaml:"style"`
	Img       string   `json:"img" yaml:"img"`
}

// WatchPaths are the patterns that trigger single-step rebuilds
type WatchPaths struct {
	Templates string `json:"templates" yaml:"templates"`
	JS        string `json:"js" yaml:"js"`
	Style     string `json:"style" yaml:"style"`
	Img       string `json:"img" yaml:"img"`
}

// PathTable maps every logical role to a path or pattern relative to the project root
type PathTable struct {
	BuildRoot string      `json:"buildRoot" yaml:"buildRoot"`
	Build     BuildPaths  `json:"build" yaml:"build"`
	Src       SourcePaths `json:"src" yaml:"src"`
	Watch     WatchPaths  `json:"watch" yaml:"watch"`
	Preserve  []string    `json:"preserve" yaml:"preserve"`
}

// ServerConfig configures the development server. It is read-only once serving starts.
type ServerConfig struct {
	BaseDir       string `json:"baseDir" yaml:"baseDir"`
	Host          string `json:"host" yaml:"host"`
	Port          int    `json:"port" yaml:"port"`
	Tunnel        bool   `json:"tunnel" yaml:"tunnel"`
	TunnelHost    string `json:"tunnelHost" yaml:"tunnelHost"`
	TunnelUser    string `json:"tunnelUser" yaml:"tunnelUser"`
	InjectChanges bool   `json:"injectChanges" yaml:"injectChanges"` // swap changed stylesheets without a reload
	LogPrefix     string `json:"logPrefix" yaml:"logPrefix"`
}

// Address returns the host:port the server listens on
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TemplatesConfig tunes the template step
type TemplatesConfig struct {
	Pretty bool `json:"pretty" yaml:"pretty"`
	// Minify wins over Pretty when both are set
	Minify bool `json:"minify" yaml:"minify"`
}

// ScriptsConfig tunes the script step
type ScriptsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// StylesConfig tunes the stylesheet step
type StylesConfig struct {
	// Browsers lists prefix targets such as "chrome58" or "safari11"
	Browsers  []string `json:"browsers" yaml:"browsers"`
	SourceMap bool     `json:"sourceMap" yaml:"sourceMap"`
}

// ImagesConfig tunes the image step
type ImagesConfig struct {
	JPEGQuality int `json:"jpegQuality" yaml:"jpegQuality"`
	// QuantizePNG reduces truecolor PNGs to a palette of at most PNGColors
	QuantizePNG bool `json:"quantizePng" yaml:"quantizePng"`
	PNGColors   int  `json:"pngColors" yaml:"pngColors"`
}

// StepsConfig groups per-step options
type StepsConfig struct {
	Templates TemplatesConfig `json:"templates" yaml:"templates"`
	Scripts   ScriptsConfig   `json:"scripts" yaml:"scripts"`
	Styles    StylesConfig    `json:"styles" yaml:"styles"`
	Images    ImagesConfig    `json:"images" yaml:"images"`
}

// PublishConfig describes the publish target
type PublishConfig struct {
	Remote      string `json:"remote" yaml:"remote"`
	Branch      string `json:"branch" yaml:"branch"`
	CacheDir    string `json:"cacheDir" yaml:"cacheDir"`
	Message     string `json:"message" yaml:"message"`
	AuthorName  string `json:"authorName" yaml:"authorName"`
	AuthorEmail string `json:"authorEmail" yaml:"authorEmail"`
}

// WatchConfig represents file watching configuration
type WatchConfig struct {
	SettlingDelay int      `json:"settlingDelay" yaml:"settlingDelay"`
	ExcludeDirs   []string `json:"excludeDirs" yaml:"excludeDirs"`
}

// SettlingDuration converts the millisecond setting to a duration
func (w WatchConfig) SettlingDuration() time.Duration {
	return time.Duration(w.SettlingDelay) * time.Millisecond
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file"`
	Level LogLevel `json:"level" yaml:"level"`
}

// MetricsConfig toggles the Prometheus endpoint on the dev server
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Config represents the main configuration
type Config struct {
	Version       string             `json:"version" yaml:"version"`
	Paths         PathTable          `json:"paths" yaml:"paths"`
	Server        ServerConfig       `json:"server" yaml:"server"`
	Steps         StepsConfig        `json:"steps" yaml:"steps"`
	Publish       PublishConfig      `json:"publish" yaml:"publish"`
	Watch         WatchConfig        `json:"watch" yaml:"watch"`
	Notifications NotificationConfig `json:"notifications" yaml:"notifications"`
	Logging       LoggingConfig      `json:"logging" yaml:"logging"`
	Metrics       MetricsConfig      `json:"metrics" yaml:"metrics"`
}

// StepResult summarises one completed step run
type StepResult struct {
	Step     StepName      `json:"step"`
	Status   StepStatus    `json:"status"`
	Written  []string      `json:"written,omitempty"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}
