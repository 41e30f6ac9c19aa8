package extract

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
)

// unreportedConfidence is the document confidence assumed when a model does
// not report one.
const unreportedConfidence = 0.6

// fallbackFactor scales confidence for values filled from fallbacks rather
// than read from the row.
const fallbackFactor = 0.5

type documentInfo struct {
	Date     string `json:"date"`
	Address  string `json:"address"`
	Supplier string `json:"supplier"`
}

type itemsResponse struct {
	Items        []map[string]json.RawMessage `json:"items"`
	Confidence   *float64                     `json:"confidence"`
	Language     string                       `json:"language"`
	DocumentInfo *documentInfo                `json:"documentInfo"`
}

func decodeItems(text string) (*itemsResponse, error) {
	var resp itemsResponse
	if err := llmjson.Decode(text, llmjson.ItemsSchema, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (r *itemsResponse) docConfidence() float64 {
	if r.Confidence == nil {
		return unreportedConfidence
	}
	return model.ClampUnit(*r.Confidence)
}

// rawField is one field as the model sent it: a plain value or a
// {value, confidence} object.
type rawField struct {
	value      any
	confidence *float64
	present    bool
}

var fieldAliases = map[string][]string{
	model.FieldDate:        {"date", "datum"},
	model.FieldMaterial:    {"material"},
	model.FieldHandling:    {"handling"},
	model.FieldWeightKg:    {"weightKg", "weight"},
	model.FieldPercentage:  {"percentage"},
	model.FieldCO2Saved:    {"co2Saved"},
	model.FieldIsHazardous: {"isHazardous", "hazardous"},
	model.FieldAddress:     {"address", "location"},
	model.FieldReceiver:    {"receiver"},
}

func lookup(raw map[string]json.RawMessage, field string) rawField {
	for _, key := range fieldAliases[field] {
		if v, ok := raw[key]; ok {
			if f := parseField(v); f.present {
				return f
			}
		}
	}
	return rawField{}
}

func parseField(raw json.RawMessage) rawField {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return rawField{}
	}
	if raw[0] == '{' {
		var wrapped struct {
			Value      json.RawMessage `json:"value"`
			Confidence *float64        `json:"confidence"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Value != nil {
			v := decodeAny(wrapped.Value)
			return rawField{value: v, confidence: wrapped.Confidence, present: hasValue(v)}
		}
		return rawField{}
	}
	v := decodeAny(raw)
	return rawField{value: v, present: hasValue(v)}
}

func decodeAny(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

func hasValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	}
	return true
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func truthy(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "yes", "ja", "kyllä", "fa", "farligt avfall":
			return true, true
		case "false", "no", "nej", "nei", "ei":
			return false, true
		}
	case json.Number:
		return x.String() != "0", true
	}
	return false, false
}

// scorer converts raw items into line items with per-field confidence taken
// from the model where it reported one, otherwise from the document
// confidence. Missing fields are absent; fallback values are discounted.
type scorer struct {
	docConf float64
	fb      fallbacks
}

func (sc scorer) conf(f rawField) float64 {
	if f.confidence != nil {
		return model.ClampUnit(*f.confidence)
	}
	return sc.docConf
}

func (sc scorer) fallback(value string) model.Confidence[string] {
	if value == "" {
		return model.Absent[string]()
	}
	return model.NewConfidence(value, sc.docConf*fallbackFactor)
}

func (sc scorer) text(raw map[string]json.RawMessage, field, fallback string) model.Confidence[string] {
	f := lookup(raw, field)
	if !f.present {
		return sc.fallback(fallback)
	}
	return model.NewConfidence(stringify(f.value), sc.conf(f))
}

func (sc scorer) item(raw map[string]json.RawMessage) *model.LineItem {
	li := &model.LineItem{
		Material: sc.text(raw, model.FieldMaterial, ""),
		Handling: sc.text(raw, model.FieldHandling, ""),
		Address:  sc.text(raw, model.FieldAddress, sc.fb.Address),
		Receiver: sc.text(raw, model.FieldReceiver, sc.fb.Receiver),
		WeightKg: model.Absent[float64](),
	}

	if f := lookup(raw, model.FieldDate); f.present {
		if iso, ok := normalize.ParseDateToISO(f.value); ok {
			li.Date = model.NewConfidence(iso, sc.conf(f))
		} else {
			// Kept verbatim so the row guard reports it.
			li.Date = model.NewConfidence(stringify(f.value), sc.conf(f)*fallbackFactor)
		}
	} else {
		li.Date = sc.fallback(sc.fb.Date)
	}

	if f := lookup(raw, model.FieldWeightKg); f.present {
		if kg, ok := normalize.ParseWeightKg(f.value); ok {
			li.WeightKg = model.NewConfidence(kg, sc.conf(f))
		}
	}
	li.Percentage = sc.text(raw, model.FieldPercentage, "")
	li.CO2Saved = model.Absent[float64]()
	if f := lookup(raw, model.FieldCO2Saved); f.present {
		if v, ok := normalize.ParseLocaleNumber(f.value); ok {
			li.CO2Saved = model.NewConfidence(v, sc.conf(f))
		}
	}
	li.IsHazardous = model.Absent[bool]()
	if f := lookup(raw, model.FieldIsHazardous); f.present {
		if v, ok := truthy(f.value); ok {
			li.IsHazardous = model.NewConfidence(v, sc.conf(f))
		}
	}
	li.Rejected = rejectRow(li)
	return li
}

var summaryLabels = map[string]bool{
	"total": true, "totalt": true, "summa": true, "sum": true, "totalsumma": true,
	"i alt": true, "yhteensä": true, "grand total": true,
}

// rejectRow marks rows that carry nothing to record (no material and no
// weight) and subtotal lines that would double count.
func rejectRow(li *model.LineItem) bool {
	if li.Material.IsAbsent() && li.WeightKg.IsAbsent() {
		return true
	}
	label := strings.ToLower(strings.TrimRight(strings.TrimSpace(li.Material.Value), ":"))
	return summaryLabels[label]
}

func (sc scorer) items(raw []map[string]json.RawMessage) []*model.LineItem {
	out := make([]*model.LineItem, 0, len(raw))
	for _, r := range raw {
		out = append(out, sc.item(r))
	}
	return out
}

// coreFields are the fields every waste row is expected to carry. A missing
// core field counts as zero confidence.
var coreFields = []string{
	model.FieldDate,
	model.FieldMaterial,
	model.FieldWeightKg,
	model.FieldAddress,
	model.FieldReceiver,
}

// resultConfidence is the mean core-field confidence scaled by the share of
// expected rows that were returned. expected <= 0 means unknown.
func resultConfidence(items []*model.LineItem, expected int) float64 {
	var sum float64
	accepted := 0
	for _, li := range items {
		if li.Rejected {
			continue
		}
		accepted++
		for _, f := range coreFields {
			sum += li.FieldConfidence(f)
		}
	}
	if accepted == 0 {
		return 0
	}
	mean := sum / float64(accepted*len(coreFields))
	return model.ClampUnit(mean * extractionRate(len(items), expected))
}

func extractionRate(got, expected int) float64 {
	if expected <= 0 {
		return 1
	}
	return min(1, float64(got)/float64(expected))
}
