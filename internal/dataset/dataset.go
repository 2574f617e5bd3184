// Package dataset loads question banks, topology catalogs and profiles
// from disk and validates them.
package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pavelanni/exambench/internal/model"
)

// Bank is a loaded question bank with the hash of its source bytes.
type Bank struct {
	model.QuestionBank
	Hash string
}

// LoadBank reads a question bank. The file holds either a bank object with
// a "questions" array or a bare array of questions.
func LoadBank(path string) (*Bank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}
	bank, err := ParseBank(data)
	if err != nil {
		return nil, fmt.Errorf("question bank %s: %w", filepath.Base(path), err)
	}
	return bank, nil
}

// ParseBank decodes and validates a question bank.
func ParseBank(data []byte) (*Bank, error) {
	var qb model.QuestionBank
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &qb.Questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	} else if err := json.Unmarshal(trimmed, &qb); err != nil {
		return nil, fmt.Errorf("decode bank: %w", err)
	}
	if len(qb.Questions) == 0 {
		return nil, errors.New("bank has no questions")
	}

	seen := make(map[string]bool, len(qb.Questions))
	var errs []error
	for _, q := range qb.Questions {
		if err := q.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[q.ID] {
			errs = append(errs, fmt.Errorf("duplicate question id %s", q.ID))
		}
		seen[q.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Bank{QuestionBank: qb, Hash: Hash(data)}, nil
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// LoadCatalog reads a topology catalog from JSON or YAML. The file holds
// either an object with a "subjects" array or a bare array of subjects.
func LoadCatalog(path string) (model.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	c, err := ParseCatalog(data, isYAML(path))
	if err != nil {
		return model.Catalog{}, fmt.Errorf("catalog %s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// ParseCatalog decodes and validates a catalog.
func ParseCatalog(data []byte, asYAML bool) (model.Catalog, error) {
	var c model.Catalog
	trimmed := bytes.TrimSpace(data)
	bare := len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-')
	var err error
	switch {
	case asYAML && bare:
		err = yaml.Unmarshal(trimmed, &c.Subjects)
	case asYAML:
		err = yaml.Unmarshal(trimmed, &c)
	case bare:
		err = json.Unmarshal(trimmed, &c.Subjects)
	default:
		err = json.Unmarshal(trimmed, &c)
	}
	if err != nil {
		return model.Catalog{}, fmt.Errorf("decode catalog: %w", err)
	}
	return c, ValidateCatalog(c)
}

// ValidateCatalog checks that ids are non-empty, subject ids are unique and
// topic and subtopic ids are unique within their parent.
func ValidateCatalog(c model.Catalog) error {
	if len(c.Subjects) == 0 {
		return errors.New("catalog has no subjects")
	}
	var errs []error
	subjects := make(map[string]bool)
	for _, s := range c.Subjects {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("subject %q has an empty id", s.Name))
			continue
		}
		if subjects[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate subject id %s", s.ID))
		}
		subjects[s.ID] = true

		topics := make(map[string]bool)
		for _, t := range s.Topics {
			if t.ID == "" || topics[t.ID] {
				errs = append(errs, fmt.Errorf("subject %s: empty or duplicate topic id %q", s.ID, t.ID))
			}
			topics[t.ID] = true

			subtopics := make(map[string]bool)
			for _, st := range t.Subtopics {
				if st.ID == "" || subtopics[st.ID] {
					errs = append(errs, fmt.Errorf("topic %s/%s: empty or duplicate subtopic id %q", s.ID, t.ID, st.ID))
				}
				subtopics[st.ID] = true
			}
		}
	}
	return errors.Join(errs...)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
