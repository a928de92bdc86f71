package models

// Annotation is one figure/page summarization result from the vision
// collaborator. Region is present when the figure was cropped from a known
// bounding box and nil when summarization ran on a whole-page render.
// Skipped marks the sentinel result of an absent or declining service;
// Failed marks a figure whose summarization errored after retries. Both
// satisfy the join barrier without contributing output.
type Annotation struct {
	Page    int      `json:"page"`
	Summary string   `json:"summary,omitempty"`
	Data    []string `json:"data,omitempty"`
	Region  *Region  `json:"region,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
	Detail  string   `json:"detail,omitempty"`
}

// AnnotationSet is everything the annotation stage produced for a job, in
// production order. Skipped is set when the whole service was disabled or
// unavailable; the merger treats that identically to an empty set.
type AnnotationSet struct {
	Skipped bool         `json:"skipped"`
	Items   []Annotation `json:"items"`
}

// Usable returns the annotations that should appear in the document.
func (s AnnotationSet) Usable() []Annotation {
	if s.Skipped {
		return nil
	}
	out := make([]Annotation, 0, len(s.Items))
	for _, a := range s.Items {
		if a.Skipped || a.Failed || a.Summary == "" {
			continue
		}
		out = append(out, a)
	}
	return out
}
