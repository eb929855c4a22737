package theatre

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures is a YAML document of input records used to seed a store.
type Fixtures struct {
	Consultants []ConsultantRecord `yaml:"consultants"`
	WaitingList []ProcedureRecord  `yaml:"waitingList"`
}

func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	f, err := ParseFixtures([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return nil, fmt.Errorf("fixtures %s: %w", path, err)
	}
	return f, nil
}

func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// Import upserts every record. Records are stored as given; normalization
// happens when a run loads them.
func (f *Fixtures) Import(ctx context.Context, store FixtureImporter) error {
	if err := store.UpsertConsultants(ctx, f.Consultants); err != nil {
		return fmt.Errorf("import consultants: %w", err)
	}
	if err := store.UpsertProcedures(ctx, f.WaitingList); err != nil {
		return fmt.Errorf("import waiting list: %w", err)
	}
	return nil
}
