package domain

import (
	"fmt"
	"strings"
)

// Data types offered by the archive.
const (
	ValidatedReanalysis = "validated_reanalysis"
	InterimReanalysis   = "interim_reanalysis"
)

// RetrievalRequest is the request descriptor for one archive retrieval.
// Only Folder and the derived file paths matter to clipping.
type RetrievalRequest struct {
	Variable   string   `json:"variable" validate:"required"`
	Model      string   `json:"model" validate:"required"`
	Level      string   `json:"level" validate:"required,numeric"`
	Type       string   `json:"type" validate:"required,oneof=validated_reanalysis interim_reanalysis"`
	Years      []string `json:"years" validate:"len=1,dive,len=4,numeric"`
	Months     []string `json:"months" validate:"len=1,dive,len=2,numeric"`
	Folder     string   `json:"folder" validate:"required"`
	AgreeTerms bool     `json:"agree_terms"`
	AOI        *AOI     `json:"aoi,omitempty"`
}

// ArchiveName returns the file name the archive is stored under:
// {variable}_{model}_{years}_{months}.zip with spaces replaced.
func (r RetrievalRequest) ArchiveName() string {
	safe := func(s string) string { return strings.ReplaceAll(s, " ", "_") }
	return fmt.Sprintf("%s_%s_%s_%s.zip",
		safe(r.Variable), safe(r.Model), strings.Join(r.Years, "_"), strings.Join(r.Months, "_"))
}
