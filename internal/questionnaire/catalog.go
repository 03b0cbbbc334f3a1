package questionnaire

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Questionnaires []Questionnaire `yaml:"questionnaires"`
}

// LoadCatalog reads a YAML catalog of questionnaire definitions.
func LoadCatalog(path string) ([]Questionnaire, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return DecodeCatalog(f)
}

func DecodeCatalog(r io.Reader) ([]Questionnaire, error) {
	var cf catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cf); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for i := range cf.Questionnaires {
		if err := cf.Questionnaires[i].Validate(); err != nil {
			return nil, err
		}
	}
	return cf.Questionnaires, nil
}
