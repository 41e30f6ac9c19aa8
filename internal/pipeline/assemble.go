package pipeline

import (
	"github.com/sells-group/waste-pipeline/internal/model"
)

var coreFields = []string{model.FieldDate, model.FieldMaterial, model.FieldWeightKg, model.FieldAddress, model.FieldReceiver}

// assemble builds the document record. Line items are kept as extracted
// (rejected rows included) so row indexes in issues stay valid; header
// fields are derived from the accepted rows.
func assemble(ext *model.ExtractionResult, items []*model.LineItem, unresolved []model.VerificationIssue, anomalies []string, conf float64, filename string) *model.ExtractedData {
	var accepted []*model.LineItem
	for _, li := range items {
		if li != nil && !li.Rejected {
			accepted = append(accepted, li)
		}
	}

	d := &model.ExtractedData{
		Supplier:  model.Absent[string](),
		Cost:      model.Absent[float64](),
		LineItems: items,
	}
	if s, ok := ext.Metadata["supplier"].(string); ok && s != "" {
		d.Supplier = model.NewConfidence(s, ext.Confidence)
	}
	if len(accepted) > 0 {
		first := accepted[0]
		d.Date = first.Date
		d.Address = first.Address
		d.Receiver = first.Receiver
	}
	d.Material = dominantMaterial(accepted)
	d.WeightKg = sumField(accepted, func(li *model.LineItem) model.Confidence[float64] { return li.WeightKg })
	d.TotalCO2 = sumField(accepted, func(li *model.LineItem) model.Confidence[float64] { return li.CO2Saved })

	total := len(items)
	if n, ok := ext.Metadata["totalRows"].(int); ok && n > 0 {
		total = n
	}
	rate := 1.0
	if total > 0 {
		rate = min(1, float64(len(accepted))/float64(total))
	}
	if r, ok := ext.Metadata["extractionRate"].(float64); ok {
		rate = r
	}
	chunked, _ := ext.Metadata["chunked"].(bool)
	chunks, _ := ext.Metadata["chunks"].(int)
	d.Metadata = model.Metadata{
		TotalRows:      total,
		ProcessedRows:  len(accepted),
		RejectedRows:   len(items) - len(accepted),
		ExtractionRate: rate,
		Chunked:        chunked,
		ChunkCount:     chunks,
		Model:          ext.Model,
		Language:       ext.Language,
		Filename:       filename,
	}

	issues := make([]string, 0, len(unresolved)+len(anomalies))
	for _, is := range unresolved {
		issues = append(issues, is.String())
	}
	for _, a := range anomalies {
		issues = append(issues, "Reconciliation anomaly: "+a)
	}
	d.Validation = model.Validation{
		Completeness: completeness(accepted),
		Confidence:   conf,
		Issues:       issues,
	}
	return d
}

// completeness is the share of core fields extracted across accepted rows.
func completeness(items []*model.LineItem) float64 {
	if len(items) == 0 {
		return 0
	}
	present := 0
	for _, li := range items {
		for _, f := range coreFields {
			if li.FieldConfidence(f) > 0 {
				present++
			}
		}
	}
	return float64(present) / float64(len(items)*len(coreFields))
}

// dominantMaterial returns the most frequent material, first seen wins ties.
// Its confidence is the share of rows carrying it times their mean
// confidence.
func dominantMaterial(items []*model.LineItem) model.Confidence[string] {
	counts := make(map[string]int)
	confs := make(map[string]float64)
	var order []string
	for _, li := range items {
		if li.Material.IsAbsent() || li.Material.Value == "" {
			continue
		}
		m := li.Material.Value
		if counts[m] == 0 {
			order = append(order, m)
		}
		counts[m]++
		confs[m] += li.Material.Confidence
	}
	if len(order) == 0 {
		return model.Absent[string]()
	}
	best := order[0]
	for _, m := range order[1:] {
		if counts[m] > counts[best] {
			best = m
		}
	}
	share := float64(counts[best]) / float64(len(items))
	return model.NewConfidence(best, share*confs[best]/float64(counts[best]))
}

// sumField totals a numeric field over rows that carry it. Confidence is the
// mean over all rows, so missing values lower it.
func sumField(items []*model.LineItem, get func(*model.LineItem) model.Confidence[float64]) model.Confidence[float64] {
	var sum, conf float64
	n := 0
	for _, li := range items {
		c := get(li)
		if c.IsAbsent() {
			continue
		}
		sum += c.Value
		conf += c.Confidence
		n++
	}
	if n == 0 {
		return model.Absent[float64]()
	}
	return model.NewConfidence(sum, conf/float64(len(items)))
}
