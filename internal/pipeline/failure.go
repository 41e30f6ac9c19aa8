package pipeline

import (
	"errors"

	"github.com/sells-group/waste-pipeline/internal/extract"
	"github.com/sells-group/waste-pipeline/internal/guard"
	"github.com/sells-group/waste-pipeline/internal/model"
	"github.com/sells-group/waste-pipeline/internal/normalize"
)

// FailureReason classifies a fatal pipeline error and renders the reason an
// operator sees. Unreadable documents and integrity failures get distinct
// wording.
func FailureReason(err error) (model.FailureKind, string) {
	var (
		parseErr   *normalize.ParseError
		yearErr    *normalize.YearMismatchError
		suspicious *guard.SuspiciousExtractionError
		dateBug    *guard.DateBugDetectedError
		empty      *guard.EmptyDateSetError
		unavail    *extract.UnavailableError
	)
	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &dateBug), errors.As(err, &suspicious), errors.As(err, &parseErr), errors.As(err, &yearErr):
		return model.FailureIntegrity, "Detected a data-integrity problem in the extracted rows: " + err.Error()
	case errors.As(err, &empty):
		return model.FailureUnreadable, "Could not read this document: no rows were extracted"
	case errors.As(err, &unavail):
		return model.FailureUnreadable, "Could not read this document: no extraction backend succeeded (" + err.Error() + ")"
	}
	return model.FailureUnreadable, "Could not read this document: " + err.Error()
}
