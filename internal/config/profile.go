package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/scrollframe/internal/compositor"
	"github.com/dgnsrekt/scrollframe/internal/scrollmon"
	"github.com/dgnsrekt/scrollframe/internal/session"
)

// CaptureProfile overrides capture tuning. Zero values keep the
// environment setting.
type CaptureProfile struct {
	Threshold        float64 `yaml:"threshold"`
	Scope            string  `yaml:"scope"`
	Overlap          string  `yaml:"overlap"`
	CaptureTimeoutMS int     `yaml:"capture_timeout_ms"`
}

// Profile is the optional YAML file passed with --profile.
type Profile struct {
	Compositor compositor.Style `yaml:"compositor"`
	Capture    CaptureProfile   `yaml:"capture"`
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if p.Capture.Threshold < 0 {
		return nil, fmt.Errorf("profile: capture.threshold must not be negative")
	}
	if p.Capture.CaptureTimeoutMS < 0 {
		return nil, fmt.Errorf("profile: capture.capture_timeout_ms must not be negative")
	}
	if _, err := scrollmon.ParseScope(p.Capture.Scope); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	if _, err := session.ParseOverlapPolicy(p.Capture.Overlap); err != nil {
		return nil, fmt.Errorf("profile: %w", err)
	}
	for name, hex := range map[string]string{"accent": p.Compositor.Accent, "text": p.Compositor.Text, "background": p.Compositor.Background} {
		if hex == "" {
			continue
		}
		if _, err := compositor.ParseHexColor(hex); err != nil {
			return nil, fmt.Errorf("profile: compositor.%s: %w", name, err)
		}
	}
	return &p, nil
}

// Style returns the compositor style with unset fields defaulted.
func (p *Profile) Style() compositor.Style {
	if p == nil {
		return compositor.DefaultStyle()
	}
	return p.Compositor.WithDefaults()
}

// SessionConfig merges environment tuning with the profile, profile first.
func (c *Config) SessionConfig(p *Profile) (session.Config, error) {
	out := session.DefaultConfig()
	threshold, scope, overlap := c.ScrollThreshold, c.ThresholdScope, c.OverlapPolicy
	if p != nil {
		if p.Capture.Threshold > 0 {
			threshold = p.Capture.Threshold
		}
		if p.Capture.Scope != "" {
			scope = p.Capture.Scope
		}
		if p.Capture.Overlap != "" {
			overlap = p.Capture.Overlap
		}
		if p.Capture.CaptureTimeoutMS > 0 {
			out.CaptureTimeout = time.Duration(p.Capture.CaptureTimeoutMS) * time.Millisecond
		}
	}
	if threshold > 0 {
		out.Threshold = threshold
	}
	sc, err := scrollmon.ParseScope(scope)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: %w", err)
	}
	ov, err := session.ParseOverlapPolicy(overlap)
	if err != nil {
		return session.Config{}, fmt.Errorf("config: %w", err)
	}
	out.Scope = sc
	out.Overlap = ov
	return out, nil
}
