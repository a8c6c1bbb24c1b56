package job

import (
	"encoding/json"
	"time"
)

// SchemaVersion is stamped on every result payload.
const SchemaVersion = "0.1.0"

// Artifact file names written into a run directory.
const (
	ArtifactFinalHTML  = "final.html"
	ArtifactScreenshot = "page.png"
	ArtifactReadable   = "readable.txt"
	ArtifactMeta       = "meta.json"
)

// Request is the transport-independent payload for a single render or
// extract call. Exactly one of URL or HTML is meaningful for extract; render
// only uses URL.
type Request struct {
	URL      string      `json:"url,omitempty"`
	HTML     string      `json:"html,omitempty"`
	OutDir   string      `json:"outDir,omitempty"`
	Wait     *WaitPolicy `json:"wait,omitempty"`
	Parallel int         `json:"parallel,omitempty"`
}

// BatchRequest renders many URLs with a shared wait policy and output dir.
type BatchRequest struct {
	URLs     []string    `json:"urls"`
	Parallel int         `json:"parallel,omitempty"`
	OutDir   string      `json:"outDir,omitempty"`
	Wait     *WaitPolicy `json:"wait,omitempty"`
}

// RenderResult describes the artifacts produced by a render.
type RenderResult struct {
	SchemaVersion string `json:"schema_version"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	FinalHTML     string `json:"final_html"`
	Screenshot    string `json:"screenshot,omitempty"`
}

// ExtractResult describes the artifacts produced by an extract.
type ExtractResult struct {
	SchemaVersion string `json:"schema_version"`
	ReadableTxt   string `json:"readable_txt"`
	MetaJSON      string `json:"meta_json"`
}

// BatchEntry holds exactly one of a render result or a per-job error.
type BatchEntry struct {
	Result *RenderResult
	Err    *ErrorPayload
}

// MarshalJSON flattens the entry into whichever side is populated.
func (e BatchEntry) MarshalJSON() ([]byte, error) {
	if e.Err != nil {
		return json.Marshal(e.Err)
	}
	return json.Marshal(e.Result)
}

// Failed reports whether the entry carries an error.
func (e BatchEntry) Failed() bool {
	return e.Err != nil
}

// BatchResult is positionally aligned with BatchRequest.URLs.
type BatchResult struct {
	SchemaVersion string       `json:"schema_version"`
	Results       []BatchEntry `json:"results"`
}

// Heading is an h1-h6 element captured during extraction.
type Heading struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Link is an anchor captured during extraction.
type Link struct {
	Href string `json:"href"`
	Text string `json:"text"`
}

// Metadata is the structured side of an extraction, persisted as meta.json.
type Metadata struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	Canonical   string    `json:"canonical,omitempty"`
	Headings    []Heading `json:"headings"`
	Links       []Link    `json:"links"`
	CodeBlocks  []string  `json:"code_blocks,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
}

// Extraction is the output of an Extractor.
type Extraction struct {
	Text string
	Meta Metadata
}
