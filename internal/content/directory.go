package content

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"jarvisdaily/internal/domain"
)

// directoryFile is the on-disk shape:
//
//	advisors:
//	  - id: adv_042
//	    phones: ["+91 97650 71249"]
type directoryFile struct {
	Advisors []struct {
		ID     string   `yaml:"id"`
		Name   string   `yaml:"name"`
		Phones []string `yaml:"phones"`
	} `yaml:"advisors"`
}

// FileDirectory is a static phone-to-advisor map loaded from YAML.
type FileDirectory struct {
	byPhone map[string]string
}

// LoadDirectory parses the YAML directory at path. Phones are canonicalized
// with countryCode; a phone listed for two advisors is an error.
func LoadDirectory(path, countryCode string, logger *slog.Logger) (*FileDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}

	d := &FileDirectory{byPhone: make(map[string]string)}
	for _, adv := range file.Advisors {
		if adv.ID == "" {
			logger.Warn("directory entry without id skipped", "path", path, "name", adv.Name)
			continue
		}
		for _, raw := range adv.Phones {
			phone, err := CanonicalPhone(raw, countryCode)
			if err != nil {
				logger.Warn("directory phone skipped", "advisor", adv.ID, "err", err)
				continue
			}
			if other, ok := d.byPhone[phone]; ok && other != adv.ID {
				return nil, fmt.Errorf("directory %s: phone %s listed for %s and %s", path, phone, other, adv.ID)
			}
			d.byPhone[phone] = adv.ID
		}
	}

	logger.Info("recipient directory loaded", "path", path, "phones", len(d.byPhone))
	return d, nil
}

func (d *FileDirectory) LookupAdvisor(_ context.Context, canonicalPhone string) (string, error) {
	id, ok := d.byPhone[canonicalPhone]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

func (d *FileDirectory) Len() int { return len(d.byPhone) }
