package staff

import (
	"context"
	"fmt"
	"os"

	"villaops/internal/domain"
	"villaops/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadRoster reads the staff roster YAML. Entries default to available unless the file
// says otherwise.
func LoadRoster(path string) ([]*models.Staff, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	return ParseRoster(data)
}

func ParseRoster(data []byte) ([]*models.Staff, error) {
	var raw struct {
		Staff []yaml.Node `yaml:"staff"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}

	roster := make([]*models.Staff, 0, len(raw.Staff))
	for i := range raw.Staff {
		s := &models.Staff{Available: true}
		if err := raw.Staff[i].Decode(s); err != nil {
			return nil, fmt.Errorf("parse roster entry %d: %w", i, err)
		}
		roster = append(roster, s)
	}
	if err := ValidateRoster(roster); err != nil {
		return nil, err
	}
	return roster, nil
}

func ValidateRoster(roster []*models.Staff) error {
	known := make(map[string]bool, len(skillByType))
	for _, skill := range skillByType {
		known[skill] = true
	}

	ids := make(map[string]bool)
	for _, s := range roster {
		if s.ID == "" {
			return fmt.Errorf("staff '%s' has no id", s.Name)
		}
		if s.Name == "" {
			return fmt.Errorf("staff %s has no name", s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("duplicate staff id found: %s", s.ID)
		}
		ids[s.ID] = true
		for _, skill := range s.Skills {
			if !known[skill] {
				return fmt.Errorf("staff %s has unknown skill %q", s.ID, skill)
			}
		}
	}
	return nil
}

// Seed upserts every roster entry.
func Seed(ctx context.Context, store domain.StaffStore, roster []*models.Staff) (int, error) {
	for i, s := range roster {
		if err := store.UpsertStaff(ctx, s); err != nil {
			return i, fmt.Errorf("seed staff %s: %w", s.ID, err)
		}
	}
	return len(roster), nil
}
