package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/jeffsasaki/pledge-storefront/model"
	"gopkg.in/yaml.v3"
)

//go:embed campaign.yaml
var defaultCampaign []byte

// LoadCampaign reads the campaign document at path, or the built-in one when
// path is empty.
func LoadCampaign(path string) (*model.Campaign, error) {
	data := defaultCampaign
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read campaign file: %w", err)
		}
	}
	return ParseCampaign(data)
}

func ParseCampaign(data []byte) (*model.Campaign, error) {
	var c model.Campaign
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse campaign: %w", err)
	}
	if err := validateCampaign(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validateCampaign(c *model.Campaign) error {
	if c.ID == "" {
		return fmt.Errorf("campaign.id is required")
	}
	if c.GoalAmount < 0 {
		return fmt.Errorf("campaign.goal_amount must not be negative")
	}
	for _, field := range []struct{ name, value string }{
		{"start_date", c.StartDate},
		{"end_date", c.EndDate},
	} {
		if _, err := time.Parse("2006-01-02", field.value); err != nil {
			return fmt.Errorf("campaign.%s: %w", field.name, err)
		}
	}
	if len(c.Rewards) == 0 {
		return fmt.Errorf("campaign.rewards must not be empty")
	}
	seen := make(map[string]bool, len(c.Rewards))
	for _, r := range c.Rewards {
		if r.ID == "" {
			return fmt.Errorf("campaign reward id is required")
		}
		if seen[r.ID] {
			return fmt.Errorf("campaign reward %s is listed twice", r.ID)
		}
		seen[r.ID] = true
		if r.Price <= 0 {
			return fmt.Errorf("campaign reward %s must have a positive price", r.ID)
		}
	}
	return nil
}
