package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// PolicyFile is the optional YAML override for scrubbing:
//
//	model_id: obi/deid_roberta_i2b2
//	default_threshold: 0.5
//	label_thresholds:
//	  PHONE: 0.3
//	exclude_labels: [IN_PAN]
//	denylist: [Buddy]
type PolicyFile struct {
	ModelID          string             `yaml:"model_id"`
	DefaultThreshold *float64           `yaml:"default_threshold"`
	LabelThresholds  map[string]float64 `yaml:"label_thresholds"`
	ExcludeLabels    []string           `yaml:"exclude_labels"`
	Denylist         []string           `yaml:"denylist"`
}

func LoadPolicyFile(path string) (PolicyFile, error) {
	var out PolicyFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return out, domain.WrapError(domain.ErrConfiguration, "read scrub policy", err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return out, domain.WrapError(domain.ErrConfiguration, "parse scrub policy", fmt.Errorf("%s: %w", path, err))
	}
	return out, nil
}

// ScrubPolicy merges environment defaults with the optional policy file and
// returns the policy together with any inline denylist terms.
func (c Config) ScrubPolicy() (domain.ScrubPolicy, []string, error) {
	policy := domain.DefaultScrubPolicy()
	policy.ModelID = c.PIIModelID
	policy.DefaultThreshold = c.PIIThreshold
	policy.ExcludeLabels = append([]string(nil), c.PIIExcludeLabels...)

	var denylist []string
	if c.ScrubPolicyFile != "" {
		file, err := LoadPolicyFile(c.ScrubPolicyFile)
		if err != nil {
			return domain.ScrubPolicy{}, nil, err
		}
		if file.ModelID != "" {
			policy.ModelID = file.ModelID
		}
		if file.DefaultThreshold != nil {
			policy.DefaultThreshold = *file.DefaultThreshold
		}
		for label, threshold := range file.LabelThresholds {
			policy.LabelThresholds[domain.NormalizeLabel(label)] = threshold
		}
		if file.ExcludeLabels != nil {
			policy.ExcludeLabels = file.ExcludeLabels
		}
		denylist = file.Denylist
	}

	if err := policy.Validate(); err != nil {
		return domain.ScrubPolicy{}, nil, err
	}
	return policy, denylist, nil
}
