package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/keepalive/internal/domain"
)

// TargetSeed is one entry of the optional targets YAML file. Durations are
// plain Go duration strings ("5m", "30s").
type TargetSeed struct {
	ID           string   `yaml:"id"`
	URL          string   `yaml:"url"`
	Provider     string   `yaml:"provider"`
	DeployHook   string   `yaml:"deploy_hook"`
	Interval     duration `yaml:"interval"`
	Threshold    int      `yaml:"threshold"`
	Cooldown     duration `yaml:"cooldown"`
	AutoRedeploy *bool    `yaml:"auto_redeploy"`
	Disabled     bool     `yaml:"disabled"`
}

// duration accepts "5m" style strings; the yaml package has no native
// time.Duration support.
type duration time.Duration

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", s, err)
	}
	*d = duration(v)
	return nil
}

type targetsFile struct {
	Targets []TargetSeed `yaml:"targets"`
}

// LoadTargets parses the YAML seed file into domain targets. Validation is
// left to the registry so seed and API entries share one set of rules.
func LoadTargets(path string) ([]domain.Target, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open targets file %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read targets file %q: %w", path, err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse targets file %q: %w", path, err)
	}

	out := make([]domain.Target, 0, len(tf.Targets))
	for _, s := range tf.Targets {
		auto := true
		if s.AutoRedeploy != nil {
			auto = *s.AutoRedeploy
		}
		out = append(out, domain.Target{
			ID:           domain.TargetID(s.ID),
			URL:          s.URL,
			Provider:     domain.Provider(s.Provider),
			DeployHook:   s.DeployHook,
			Interval:     time.Duration(s.Interval),
			Threshold:    s.Threshold,
			Cooldown:     time.Duration(s.Cooldown),
			AutoRedeploy: auto,
			Enabled:      !s.Disabled,
		})
	}
	return out, nil
}
