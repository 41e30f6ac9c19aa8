package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultMaterialSynonyms maps standard material categories to the names
// they appear under in supplier documents.
var DefaultMaterialSynonyms = map[string][]string{
	"Trä":             {"Träavfall", "Virke", "Trä, rent", "Impregnerat trä", "Wood"},
	"Gips":            {"Gipsavfall", "Gipsskivor", "Plaster"},
	"Betong":          {"Betongavfall", "Tegel och betong", "Concrete"},
	"Metall":          {"Järn och metall", "Skrot", "Metallskrot", "Metal"},
	"Wellpapp":        {"Kartong", "Papp", "Wellpapp/kartong", "Cardboard"},
	"Plast":           {"Mjukplast", "Hårdplast", "Plastförpackningar", "Plastic"},
	"Brännbart":       {"Brännbart avfall", "Restavfall", "Blandat brännbart"},
	"Blandat avfall":  {"Blandat", "Osorterat", "Sorteringsavfall", "Mixed waste"},
	"Farligt avfall":  {"FA", "Elavfall", "Spillolja", "Hazardous"},
	"Matavfall":       {"Organiskt", "Biologiskt avfall", "Food waste"},
	"Glas":            {"Planglas", "Glasförpackningar", "Glass"},
	"Deponi":          {"Deponirest", "Landfill"},
	"Sten och grus":   {"Schaktmassor", "Jord och sten", "Fyllnadsmassor"},
	"Papper":          {"Kontorspapper", "Tidningar", "Paper"},
	"Isolering":       {"Mineralull", "Glasull", "Stenull"},
	"Asfalt":          {"Asfaltavfall", "Asphalt"},
	"Elektronik":      {"WEEE", "E-avfall"},
	"Textil":          {"Kläder", "Textilavfall"},
	"Däck":            {"Gummidäck", "Tyres"},
	"Tegel":           {"Tegelsten", "Brick"},
	"Keramik":         {"Porslin", "Klinker"},
	"Trädgårdsavfall": {"Ris", "Grenar", "Garden waste"},
}

// LoadMaterialSynonyms reads a YAML mapping of category to synonyms. An empty
// path returns the defaults.
func LoadMaterialSynonyms(path string) (map[string][]string, error) {
	if path == "" {
		return DefaultMaterialSynonyms, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read synonyms %s", path)
	}
	var out map[string][]string
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, eris.Wrapf(err, "config: parse synonyms %s", path)
	}
	if len(out) == 0 {
		return nil, eris.Errorf("config: synonyms file %s is empty", path)
	}
	return out, nil
}
