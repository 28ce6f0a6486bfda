package models

// Row is one candidate flowing through the screening pipeline. It starts
// as a Stock+Quote and accumulates derived columns as stages run. Stages
// must never remove or rewrite columns added by earlier stages.
type Row struct {
	Stock
	Quote

	// Ext holds numeric derived columns keyed by column name, e.g.
	// "volume_ratio", "rsi", "pullback_pct", "market_cap".
	Ext map[string]float64 `json:"ext,omitempty"`

	// Tags holds categorical derived columns, e.g. "support_ma",
	// "volume_health", "accumulation_info".
	Tags map[string]string `json:"tags,omitempty"`

	// Rank is assigned after the momentum chain completes (1..N).
	Rank int `json:"rank,omitempty"`
}

// SetExt records a numeric derived column on the row.
func (r *Row) SetExt(key string, v float64) {
	if r.Ext == nil {
		r.Ext = make(map[string]float64)
	}
	r.Ext[key] = v
}

// GetExt returns a numeric derived column and whether it is present.
func (r *Row) GetExt(key string) (float64, bool) {
	v, ok := r.Ext[key]
	return v, ok
}

// SetTag records a categorical derived column on the row.
func (r *Row) SetTag(key, v string) {
	if r.Tags == nil {
		r.Tags = make(map[string]string)
	}
	r.Tags[key] = v
}

// GetTag returns a categorical derived column.
func (r *Row) GetTag(key string) string { return r.Tags[key] }

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	out := r
	if r.Ext != nil {
		out.Ext = make(map[string]float64, len(r.Ext))
		for k, v := range r.Ext {
			out.Ext[k] = v
		}
	}
	if r.Tags != nil {
		out.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			out.Tags[k] = v
		}
	}
	return out
}

// Batch is an ordered collection of candidate rows. It is the single
// mutable artifact threaded through the pipeline; each stage owns the
// batch it returns.
type Batch struct {
	Rows []Row `json:"rows"`
}

// NewBatch creates a batch from rows.
func NewBatch(rows []Row) *Batch { return &Batch{Rows: rows} }

// Len returns the number of rows in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// Empty reports whether the batch holds no rows.
func (b *Batch) Empty() bool { return b.Len() == 0 }

// IDs returns the stock ids in batch order.
func (b *Batch) IDs() []string {
	ids := make([]string, 0, b.Len())
	for i := range b.Rows {
		ids = append(ids, b.Rows[i].ID)
	}
	return ids
}

// Clone returns a deep copy of the batch. Snapshots rely on this to stay
// independent of later stage mutations.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	rows := make([]Row, len(b.Rows))
	for i := range b.Rows {
		rows[i] = b.Rows[i].Clone()
	}
	return &Batch{Rows: rows}
}

// StageStat records the pass-through statistics of one pipeline stage.
type StageStat struct {
	Step        int    `json:"step"`
	Name        string `json:"name"`
	InputCount  int    `json:"input"`
	OutputCount int    `json:"output"`
}

// PassRate returns output/input as a percentage, 0 for an empty input.
func (s StageStat) PassRate() float64 {
	if s.InputCount == 0 {
		return 0
	}
	return float64(s.OutputCount) / float64(s.InputCount) * 100
}

// StageSnapshot captures the batch state after one stage completed.
type StageSnapshot struct {
	Step  int    `json:"step"`
	Name  string `json:"name"`
	Batch *Batch `json:"batch"`
}
