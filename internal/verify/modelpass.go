package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/llmjson"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/resilience"
	"github.com/sells-group/waste-pipeline/pkg/anthropic"
)

const modelPassMaxTokens = 4096

const verifySystem = `You verify waste management data extracted from a document.
For each row, compare every field against the SOURCE text. Report only real problems:
- "error": the value contradicts the source or cannot be found in it (invented).
- "warning": the value is plausible but cannot be confirmed.
Fields: date, material, handling, weightKg, percentage, co2Saved, isHazardous, address, receiver.
rowIndex is the index given in the row data.

Return JSON only:
{"issues":[{"rowIndex":0,"field":"weightKg","issue":"description","severity":"error","suggestion":"corrected value or null"}],"confidence":0.0}`

type rowPayload struct {
	RowIndex    int     `json:"rowIndex"`
	Date        string  `json:"date"`
	Material    string  `json:"material"`
	Handling    string  `json:"handling,omitempty"`
	WeightKg    float64 `json:"weightKg"`
	IsHazardous bool    `json:"isHazardous"`
	Address     string  `json:"address,omitempty"`
	Receiver    string  `json:"receiver,omitempty"`
}

type issuesResponse struct {
	Issues []struct {
		RowIndex   int     `json:"rowIndex"`
		Field      string  `json:"field"`
		Issue      string  `json:"issue"`
		Severity   string  `json:"severity"`
		Suggestion *string `json:"suggestion"`
	} `json:"issues"`
}

// modelPass asks the model about the rows in chunks. Chunk failures are
// logged and skipped.
func (v *Verifier) modelPass(ctx context.Context, items []*model.LineItem, sourceText string, log model.ProcessingLog) ([]model.VerificationIssue, model.ProcessingLog) {
	source := sourceText
	if n := v.opts.MaxSourceChars; len(source) > n {
		for n > 0 && !utf8.RuneStart(source[n]) {
			n--
		}
		source = source[:n]
	}

	var out []model.VerificationIssue
	size := v.opts.ChunkSize
	chunks := (len(items) + size - 1) / size
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		n := start/size + 1

		rows := make([]rowPayload, 0, end-start)
		for i := start; i < end; i++ {
			li := items[i]
			if li == nil || li.Rejected {
				continue
			}
			rows = append(rows, rowPayload{
				RowIndex:    i,
				Date:        li.Date.Value,
				Material:    li.Material.Value,
				Handling:    li.Handling.Value,
				WeightKg:    li.WeightKg.Value,
				IsHazardous: li.IsHazardous.Value,
				Address:     li.Address.Value,
				Receiver:    li.Receiver.Value,
			})
		}
		if len(rows) == 0 {
			continue
		}

		found, err := v.checkChunk(ctx, rows, source)
		if err != nil {
			zap.L().Warn("verify: chunk failed", zap.Int("chunk", n), zap.Error(err))
			log = log.Append("verify: model chunk %d/%d failed: %v", n, chunks, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		valid := filterIssues(found, start, end)
		log = log.Append("verify: model chunk %d/%d reported %d issues", n, chunks, len(valid))
		out = append(out, valid...)
	}
	return out, log
}

func (v *Verifier) checkChunk(ctx context.Context, rows []rowPayload, source string) ([]model.VerificationIssue, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("SOURCE:\n%s\n\nROWS:\n%s", source, data)
	temp := 0.0

	resp, err := resilience.Retry(ctx, v.opts.Backoff, "verify: model pass", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return v.opts.Client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       v.opts.Model,
			MaxTokens:   modelPassMaxTokens,
			System:      anthropic.CachedSystem(verifySystem),
			Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
			Temperature: &temp,
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(v.opts.Model, "verify")

	var parsed issuesResponse
	if err := llmjson.Decode(resp.Text(), llmjson.IssuesSchema, &parsed); err != nil {
		return nil, err
	}
	out := make([]model.VerificationIssue, 0, len(parsed.Issues))
	for _, is := range parsed.Issues {
		vi := model.VerificationIssue{
			RowIndex: is.RowIndex,
			Field:    is.Field,
			Issue:    is.Issue,
			Severity: model.Severity(is.Severity),
		}
		if is.Suggestion != nil {
			vi.Suggestion = *is.Suggestion
		}
		out = append(out, vi)
	}
	return out, nil
}

// filterIssues drops issues outside the chunk or on unknown fields.
func filterIssues(issues []model.VerificationIssue, start, end int) []model.VerificationIssue {
	out := issues[:0]
	for _, is := range issues {
		if is.RowIndex < start || is.RowIndex >= end || !model.IsLineItemField(is.Field) {
			continue
		}
		out = append(out, is)
	}
	return out
}
