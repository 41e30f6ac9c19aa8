package main

import (
	"context"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/pipeline"
	"github.com/sells-group/waste-pipeline/internal/store"
)

var (
	processFile    string
	processBackend string
	processSave    bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process a single waste document and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "process")
		if err != nil {
			return err
		}
		defer env.Close()

		doc, err := loadDocument(processFile)
		if err != nil {
			return err
		}

		var st store.Store
		if processSave {
			st = env.Store
		}
		res, err := processDocument(ctx, env.Processor, st, doc, processBackend)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	processCmd.Flags().StringVar(&processFile, "file", "", "path to a PDF, XLSX or CSV document")
	processCmd.Flags().StringVar(&processBackend, "backend", "", "force an extraction backend (mistral-ocr, gemini-agentic, adaptive)")
	processCmd.Flags().BoolVar(&processSave, "save", false, "store the document and its result")
	_ = processCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(processCmd)
}

// loadDocument reads a document from disk.
func loadDocument(path string) (*model.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	name := filepath.Base(path)
	return &model.Document{
		Filename: name,
		MimeType: mime.TypeByExtension(filepath.Ext(name)),
		Content:  content,
	}, nil
}

// processDocument runs the pipeline on doc. With a non-nil store the document
// is created first and the result saved onto it.
func processDocument(ctx context.Context, p processor, st store.Store, doc *model.Document, backend string) (*model.ProcessingResult, error) {
	if st != nil {
		created, err := st.CreateDocument(ctx, doc)
		if err != nil {
			return nil, eris.Wrap(err, "create document")
		}
		doc = created
		if err := st.UpdateDocumentStatus(ctx, doc.ID, model.DocumentProcessing); err != nil {
			return nil, eris.Wrap(err, "mark document processing")
		}
	}

	var opts []pipeline.ProcessOption
	if backend != "" {
		opts = append(opts, pipeline.WithBackend(backend))
	}
	res := p.Process(ctx, doc, opts...)

	if st != nil {
		if err := st.SaveResult(ctx, doc.ID, &res); err != nil {
			return nil, eris.Wrap(err, "save result")
		}
	}
	zap.L().Info("document processed",
		zap.String("filename", doc.Filename),
		zap.String("document_id", doc.ID),
		zap.String("status", string(res.Status)),
		zap.Float64("confidence", res.Confidence),
		zap.String("model_path", res.ModelPath),
	)
	return &res, nil
}
